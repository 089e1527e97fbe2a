package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/keyward/internal/model"
	"github.com/roach88/keyward/internal/sealer"
)

// UserResult describes a registered user.
type UserResult struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key,omitempty"`
}

func (r UserResult) renderText(w io.Writer) error {
	if r.PublicKey == "" {
		_, err := fmt.Fprintf(w, "user %s (no public key)\n", r.ID)
		return err
	}
	_, err := fmt.Fprintf(w, "user %s public_key=%s\n", r.ID, r.PublicKey)
	return err
}

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user identities and public keys",
	}
	cmd.AddCommand(newUserAddCommand(rootOpts))
	cmd.AddCommand(newUserSetKeyCommand(rootOpts))
	cmd.AddCommand(newUserShowCommand(rootOpts))
	return cmd
}

func newUserAddCommand(rootOpts *RootOptions) *cobra.Command {
	var publicKey string

	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Register a user, optionally with a public key",
		Long: `Register a user identity. Registering an existing user is a no-op.

Examples:
  keyward user add alice
  keyward user add alice --public-key "$(cat alice.pub)"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := model.NormalizeMember(args[0])
			if userID == "" {
				return NewExitError(ExitCommandError, "user id is required")
			}

			var key []byte
			if publicKey != "" {
				var err error
				if key, err = sealer.DecodeKey(publicKey); err != nil {
					_ = newFormatter(rootOpts, cmd).Error(ErrCodeBadInput, err.Error(), nil)
					return WrapExitError(ExitCommandError, "invalid --public-key", err)
				}
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			now := a.clock.Now()
			if err := a.store.CreateUser(ctx, userID, now); err != nil {
				return a.out.Fail("failed to create user", err)
			}
			if key != nil {
				if err := a.store.SetPublicKey(ctx, userID, key, now); err != nil {
					return a.out.Fail("failed to set public key", err)
				}
			}
			a.log.Info("user registered", "user", userID, "public_key", key != nil)

			result := UserResult{ID: userID}
			if key != nil {
				result.PublicKey = sealer.EncodeKey(key)
			}
			return a.out.Success(result)
		},
	}

	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64 NaCl box public key")
	return cmd
}

func newUserSetKeyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <user-id> <public-key>",
		Short: "Register or rotate a user's public key",
		Long: `Register or replace a user's public key.

Existing envelopes are untouched. The new key is used by future fan-outs and
returned as the sender key when resolving envelopes this user issued.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := model.NormalizeMember(args[0])
			key, err := sealer.DecodeKey(args[1])
			if err != nil {
				_ = newFormatter(rootOpts, cmd).Error(ErrCodeBadInput, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid public key", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetPublicKey(cmd.Context(), userID, key, a.clock.Now()); err != nil {
				return a.out.Fail("failed to set public key", err)
			}
			a.log.Info("public key set", "user", userID)
			return a.out.Success(UserResult{ID: userID, PublicKey: strings.TrimSpace(args[1])})
		},
	}
}

func newUserShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <user-id>",
		Short:         "Show a user's registered public key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			userID := model.NormalizeMember(args[0])
			key, err := a.store.PublicKey(cmd.Context(), userID)
			if err != nil {
				return a.out.Fail("failed to read public key", err)
			}
			return a.out.Success(UserResult{ID: userID, PublicKey: sealer.EncodeKey(key)})
		},
	}
}
