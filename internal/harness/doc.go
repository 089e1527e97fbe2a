// Package harness runs approval scenarios against a real engine and store.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	project: proj-1
//	mutation: { secret: DB_PASSWORD, action: update }
//	reviewers: [alice, bob, carol]
//	policy:                       # optional, inline
//	  reject_on_any_veto: true
//	  require_unanimous_approval: false
//	  threshold: 2
//	policy_file: policies/x.cue   # optional, CUE, relative to the scenario
//	steps:
//	  - verdict: { member: bob, status: rejected }
//	    expect: { status: rejected }
//	  - add_reviewer: dave
//	    expect: { error: ALREADY_TERMINAL }
//	assertions:
//	  - type: final_status
//	    status: rejected
//	  - type: trace_count
//	    action: discard
//	    count: 1
//	  - type: final_state
//	    table: approval_reviewers
//	    where: { member: bob }
//	    expect: { status: rejected }
//
// A scenario whose request creation must fail sets create_error instead of
// steps.
//
// # Determinism
//
// Every run uses a fresh database, a StepClock and sequential ids prefixed
// with the scenario name, so traces are reproducible and can be compared
// against golden files with RunWithGolden.
package harness
