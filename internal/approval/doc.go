// Package approval gates sensitive secret mutations behind reviewer consensus.
//
// STATE MACHINE:
//
//	pending ──► approved
//	   │
//	   └──────► rejected
//
// Terminal states are final. A verdict that arrives after resolution fails
// with model.CodeAlreadyTerminal and changes nothing.
//
// POLICY:
//
// The aggregate status is computed by a Policy function over the assignment
// statuses after every verdict. The default rejects on any single veto and
// approves only on unanimous consent; PolicyConfig also offers majority and
// N-of-M thresholds, and WithPolicy accepts any custom function.
//
// CONCURRENCY:
//
// SubmitVerdict's read-evaluate-write runs through Store.UpdateApprovalRequest,
// which scopes a transaction to the one request and guards the write with a
// version compare-and-swap. Two reviewers racing on the same request
// serialize; the loser re-evaluates against the winner's committed state. With
// the default policy an approve racing a reject always ends rejected.
package approval
