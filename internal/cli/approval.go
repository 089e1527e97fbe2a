package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/keyward/internal/model"
)

// NewApprovalCommand creates the approval command group.
func NewApprovalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Propose secret mutations and record reviewer verdicts",
	}
	cmd.AddCommand(newApprovalCreateCommand(rootOpts))
	cmd.AddCommand(newApprovalVerdictCommand(rootOpts))
	cmd.AddCommand(newApprovalAddReviewerCommand(rootOpts))
	cmd.AddCommand(newApprovalPendingCommand(rootOpts))
	cmd.AddCommand(newApprovalShowCommand(rootOpts))
	return cmd
}

type requestView model.ApprovalRequest

func (r requestView) renderText(w io.Writer) error {
	mutation, err := model.MarshalCanonical(r.Mutation)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s  %s  project=%s mutation=%s\n", r.ID, r.Status, r.ProjectID, mutation)
	return err
}

type requestList []model.ApprovalRequest

func (l requestList) renderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No pending requests.")
		return err
	}
	for _, r := range l {
		if err := requestView(r).renderText(w); err != nil {
			return err
		}
	}
	return nil
}

type stateView model.RequestState

func (s stateView) renderText(w io.Writer) error {
	if err := requestView(s.Request).renderText(w); err != nil {
		return err
	}
	if s.Request.RequestedBy != "" {
		fmt.Fprintf(w, "requested by %s at %s\n", s.Request.RequestedBy, s.Request.CreatedAt.Format(time.RFC3339))
	}
	for _, a := range s.Assignments {
		fmt.Fprintf(w, "  %-10s %s\n", a.Status, a.Member)
	}
	return nil
}

// parseMutation decodes a JSON object into a mutation payload. Numbers are
// kept exact so floats can be refused.
func parseMutation(src string) (model.Object, error) {
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("mutation must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("mutation must be a single JSON object")
	}
	v, err := model.FromGo(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(model.Object)
	if !ok {
		return nil, fmt.Errorf("mutation must be a JSON object")
	}
	return obj, nil
}

func newApprovalCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var mutation, requestedBy string
	var reviewers []string

	cmd := &cobra.Command{
		Use:   "create <project>",
		Short: "Propose a mutation for reviewer approval",
		Long: `Create a pending approval request with one assignment per distinct reviewer.

Examples:
  keyward approval create proj-1 --mutation '{"secret":"DB_PASSWORD","action":"update"}' \
    --reviewer alice --reviewer bob --requested-by carol`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := parseMutation(mutation)
			if err != nil {
				_ = newFormatter(rootOpts, cmd).Error(ErrCodeBadInput, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid --mutation", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.approvals.CreateRequest(cmd.Context(), model.NewRequest{
				ProjectID:   args[0],
				RequestedBy: requestedBy,
				Mutation:    obj,
				Reviewers:   reviewers,
			})
			if err != nil {
				return a.out.Fail("failed to create request", err)
			}
			return a.out.Success(requestView(req))
		},
	}

	cmd.Flags().StringVar(&mutation, "mutation", "", "JSON object describing the change (required)")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "member proposing the change")
	cmd.Flags().StringArrayVar(&reviewers, "reviewer", nil, "reviewer member (repeatable)")
	_ = cmd.MarkFlagRequired("mutation")
	return cmd
}

func newApprovalVerdictCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verdict <request-id> <member> <approved|rejected>",
		Short: "Record a reviewer's verdict",
		Long: `Record a reviewer's verdict and re-evaluate the request under the
configured policy. Verdicts on a resolved request are refused.

Exit codes:
  0 - Verdict recorded
  1 - Refused (unknown request or reviewer, invalid verdict, already resolved)
  2 - Command error`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			verdict := model.Status(strings.ToLower(strings.TrimSpace(args[2])))
			req, err := a.approvals.SubmitVerdict(cmd.Context(), args[0], args[1], verdict)
			if err != nil && req.ID == "" {
				return a.out.Fail("failed to submit verdict", err)
			}
			if outErr := a.out.Success(requestView(req)); outErr != nil {
				return outErr
			}
			if err != nil {
				// The verdict committed but the mutator failed.
				return WrapExitError(ExitCommandError, "verdict recorded but mutation hook failed", err)
			}
			return nil
		},
	}
}

func newApprovalAddReviewerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "add-reviewer <request-id> <member>",
		Short:         "Assign an additional reviewer to a pending request",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.approvals.AddReviewer(cmd.Context(), args[0], args[1])
			if err != nil && req.ID == "" {
				return a.out.Fail("failed to add reviewer", err)
			}
			if outErr := a.out.Success(requestView(req)); outErr != nil {
				return outErr
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "reviewer added but mutation hook failed", err)
			}
			return nil
		},
	}
}

func newApprovalPendingCommand(rootOpts *RootOptions) *cobra.Command {
	var scope model.PendingScope

	cmd := &cobra.Command{
		Use:           "pending",
		Short:         "List pending requests in creation order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.approvals.ListPending(cmd.Context(), scope)
			if err != nil {
				return a.out.Fail("failed to list pending requests", err)
			}
			return a.out.Success(requestList(pending))
		},
	}

	cmd.Flags().StringVar(&scope.ProjectID, "project", "", "only requests for this project")
	cmd.Flags().StringVar(&scope.Reviewer, "reviewer", "", "only requests assigned to this member")
	return cmd
}

func newApprovalShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <request-id>",
		Short:         "Show a request and its reviewer assignments",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.approvals.Get(cmd.Context(), args[0])
			if err != nil {
				return a.out.Fail("failed to read request", err)
			}
			return a.out.Success(stateView(state))
		},
	}
}
