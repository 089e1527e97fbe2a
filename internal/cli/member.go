package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/keyward/internal/model"
)

// MembershipResult describes a membership change.
type MembershipResult struct {
	Project string `json:"project"`
	User    string `json:"user"`
	Member  bool   `json:"member"`
}

func (r MembershipResult) renderText(w io.Writer) error {
	verb := "added to"
	if !r.Member {
		verb = "removed from"
	}
	_, err := fmt.Fprintf(w, "%s %s %s\n", r.User, verb, r.Project)
	return err
}

// NewMemberCommand creates the member command group.
func NewMemberCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage project memberships",
	}
	cmd.AddCommand(newMemberChangeCommand(rootOpts, true))
	cmd.AddCommand(newMemberChangeCommand(rootOpts, false))
	return cmd
}

func newMemberChangeCommand(rootOpts *RootOptions, add bool) *cobra.Command {
	use, short := "add <project> <user-id>", "Grant a user membership of a project"
	if !add {
		use, short = "remove <project> <user-id>", "Revoke a membership; issued envelopes are kept"
	}

	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			project, user := args[0], model.NormalizeMember(args[1])
			if add {
				err = a.store.AddMember(cmd.Context(), project, user, a.clock.Now())
			} else {
				err = a.store.RemoveMember(cmd.Context(), project, user)
			}
			if err != nil {
				return a.out.Fail("failed to change membership", err)
			}

			a.log.Info("membership changed", "project", project, "user", user, "member", add)
			return a.out.Success(MembershipResult{Project: project, User: user, Member: add})
		},
	}
}
