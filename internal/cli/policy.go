package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/keyward/internal/approval"
	"github.com/roach88/keyward/internal/policy"
)

// PolicyResult describes a compiled policy file.
type PolicyResult struct {
	File   string                `json:"file"`
	Policy string                `json:"policy"`
	Config approval.PolicyConfig `json:"config"`
}

func (r PolicyResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "✓ %s: %s (reject_on_any_veto=%t require_unanimous_approval=%t threshold=%d)\n",
		r.File, r.Policy, r.Config.RejectOnAnyVeto, r.Config.RequireUnanimousApproval, r.Config.Threshold)
	return err
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with CUE approval policies",
	}
	cmd.AddCommand(newPolicyCheckCommand(rootOpts))
	return cmd
}

func newPolicyCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.cue>",
		Short: "Validate an approval policy file",
		Long: `Compile a CUE approval policy and print the effective configuration.

Exit codes:
  0 - Policy is valid
  1 - Policy failed validation
  2 - Command error (file not found, etc.)

Examples:
  keyward policy check policies/two_of_n.cue
  keyward policy check policies/two_of_n.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			path := args[0]

			cfg, err := policy.Load(path)
			if err != nil {
				var compileErr *policy.CompileError
				if errors.As(err, &compileErr) {
					details := map[string]string{"field": compileErr.Field}
					if compileErr.Pos.IsValid() {
						details["position"] = compileErr.Pos.String()
					}
					if outErr := out.Error(ErrCodePolicy, err.Error(), details); outErr != nil {
						return outErr
					}
					return WrapExitError(ExitFailure, "policy validation failed", err)
				}
				if outErr := out.Error(ErrCodeGeneric, err.Error(), nil); outErr != nil {
					return outErr
				}
				return WrapExitError(ExitCommandError, "failed to load policy", err)
			}

			return out.Success(PolicyResult{File: path, Policy: cfg.String(), Config: cfg})
		},
	}
}
