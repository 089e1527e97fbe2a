package approval

import (
	"fmt"

	"github.com/roach88/keyward/internal/model"
)

// Policy decides a request's aggregate status from its assignment statuses.
// It must be a pure function: the engine may evaluate it more than once per
// verdict when concurrent verdicts force a retry.
type Policy func(statuses []model.Status) model.Status

// PolicyConfig enumerates the supported quorum policies.
type PolicyConfig struct {
	// RejectOnAnyVeto rejects the request as soon as one reviewer rejects.
	RejectOnAnyVeto bool `json:"reject_on_any_veto" yaml:"reject_on_any_veto"`

	// RequireUnanimousApproval approves only when every reviewer approved.
	RequireUnanimousApproval bool `json:"require_unanimous_approval" yaml:"require_unanimous_approval"`

	// Threshold is the number of approvals needed when approval is not
	// unanimous. Zero means a simple majority of assigned reviewers.
	Threshold int `json:"threshold" yaml:"threshold"`
}

// DefaultPolicyConfig is single-veto, unanimous-consent.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		RejectOnAnyVeto:          true,
		RequireUnanimousApproval: true,
	}
}

// Validate checks that the configuration is coherent.
func (c PolicyConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0, got %d", c.Threshold)
	}
	if c.RequireUnanimousApproval && c.Threshold > 0 {
		return fmt.Errorf("threshold %d conflicts with unanimous approval", c.Threshold)
	}
	return nil
}

// String describes the policy for logs and CLI output.
func (c PolicyConfig) String() string {
	var approve string
	switch {
	case c.RequireUnanimousApproval:
		approve = "unanimous"
	case c.Threshold > 0:
		approve = fmt.Sprintf("%d-of-n", c.Threshold)
	default:
		approve = "majority"
	}
	if c.RejectOnAnyVeto {
		return approve + "+veto"
	}
	return approve
}

// Policy builds the evaluation function.
//
// Rules, in order:
//  1. With RejectOnAnyVeto, any rejection rejects the request.
//  2. The request is approved once approvals reach the required count:
//     all reviewers if unanimous, otherwise min(Threshold, n), otherwise a
//     strict majority of n.
//  3. The request is rejected once the required count is unreachable even
//     if every pending reviewer approved.
//  4. Otherwise it stays pending.
//
// A request with no assignments stays pending.
func (c PolicyConfig) Policy() Policy {
	return func(statuses []model.Status) model.Status {
		n := len(statuses)
		if n == 0 {
			return model.StatusPending
		}

		var approved, rejected int
		for _, s := range statuses {
			switch s {
			case model.StatusApproved:
				approved++
			case model.StatusRejected:
				rejected++
			}
		}
		pending := n - approved - rejected

		if c.RejectOnAnyVeto && rejected > 0 {
			return model.StatusRejected
		}

		needed := n/2 + 1
		switch {
		case c.RequireUnanimousApproval:
			needed = n
		case c.Threshold > 0:
			needed = min(c.Threshold, n)
		}

		if approved >= needed {
			return model.StatusApproved
		}
		if approved+pending < needed {
			return model.StatusRejected
		}
		return model.StatusPending
	}
}
