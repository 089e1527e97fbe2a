package cli

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/keyward/internal/keys"
	"github.com/roach88/keyward/internal/model"
	"github.com/roach88/keyward/internal/sealer"
)

// NewKeyCommand creates the key command group.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Issue and resolve project key envelopes",
	}
	cmd.AddCommand(newKeyIssueCommand(rootOpts))
	cmd.AddCommand(newKeyCurrentCommand(rootOpts))
	cmd.AddCommand(newKeyHistoryCommand(rootOpts))
	cmd.AddCommand(newKeyRecipientsCommand(rootOpts))
	cmd.AddCommand(newKeyRotateCommand(rootOpts))
	return cmd
}

type envelopeView model.KeyEnvelope

func (e envelopeView) renderText(w io.Writer) error {
	sender := e.SenderID
	if sender == "" {
		sender = "(system)"
	}
	_, err := fmt.Fprintf(w, "%s  %s  receiver=%s sender=%s nonce=%s\n",
		e.ID, e.CreatedAt.Format(time.RFC3339Nano), e.ReceiverID, sender,
		base64.StdEncoding.EncodeToString(e.Nonce))
	return err
}

type currentKeyView model.CurrentKey

func (c currentKeyView) renderText(w io.Writer) error {
	if err := envelopeView(c.KeyEnvelope).renderText(w); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "encrypted_key=%s\n", base64.StdEncoding.EncodeToString(c.EncryptedKey)); err != nil {
		return err
	}
	if c.SenderPublicKey != nil {
		_, err := fmt.Fprintf(w, "sender_public_key=%s\n", sealer.EncodeKey(c.SenderPublicKey))
		return err
	}
	return nil
}

type envelopeList []model.KeyEnvelope

func (l envelopeList) renderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No envelopes.")
		return err
	}
	for _, e := range l {
		if err := envelopeView(e).renderText(w); err != nil {
			return err
		}
	}
	return nil
}

type recipientList []model.Recipient

func (l recipientList) renderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No recipients.")
		return err
	}
	for _, r := range l {
		if _, err := fmt.Fprintf(w, "%s  %s\n", r.UserID, sealer.EncodeKey(r.PublicKey)); err != nil {
			return err
		}
	}
	return nil
}

// RotateResult reports a fan-out.
type RotateResult struct {
	Project string              `json:"project"`
	Sender  string              `json:"sender,omitempty"`
	Issued  []model.KeyEnvelope `json:"issued"`
	Failed  map[string]string   `json:"failed,omitempty"`
}

func (r RotateResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "Rotated %s: %d issued, %d failed\n", r.Project, len(r.Issued), len(r.Failed))
	for _, e := range r.Issued {
		fmt.Fprintf(w, "  ✓ %s %s\n", e.ReceiverID, e.ID)
	}
	for _, user := range slices.Sorted(maps.Keys(r.Failed)) {
		fmt.Fprintf(w, "  ✗ %s %s\n", user, r.Failed[user])
	}
	return nil
}

func newKeyIssueCommand(rootOpts *RootOptions) *cobra.Command {
	var sender, encryptedKey, nonce string

	cmd := &cobra.Command{
		Use:   "issue <project> <receiver>",
		Short: "Store an already-sealed envelope for one receiver",
		Long: `Store key material sealed on the client as a new envelope.

The envelope supersedes the receiver's previous one; nothing is overwritten.
Omitting --sender records a system-issued envelope.

Examples:
  keyward key issue proj-1 bob --sender alice --encrypted-key <b64> --nonce <b64>`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			ciphertext, err := base64.StdEncoding.DecodeString(encryptedKey)
			if err != nil {
				_ = out.Error(ErrCodeBadInput, "encrypted key: "+err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid --encrypted-key", err)
			}
			n, err := base64.StdEncoding.DecodeString(nonce)
			if err != nil {
				_ = out.Error(ErrCodeBadInput, "nonce: "+err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid --nonce", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			env, err := a.keys.IssueEnvelope(cmd.Context(), model.EnvelopeParams{
				ProjectID:    args[0],
				SenderID:     model.NormalizeMember(sender),
				ReceiverID:   model.NormalizeMember(args[1]),
				EncryptedKey: ciphertext,
				Nonce:        n,
			})
			if err != nil {
				return a.out.Fail("failed to issue envelope", err)
			}
			return a.out.Success(envelopeView(env))
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "issuing member (omit for system-issued)")
	cmd.Flags().StringVar(&encryptedKey, "encrypted-key", "", "base64 sealed project key (required)")
	cmd.Flags().StringVar(&nonce, "nonce", "", "base64 nonce used to seal (required)")
	_ = cmd.MarkFlagRequired("encrypted-key")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}

func newKeyCurrentCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "current <project> <user-id>",
		Short:         "Resolve a member's authoritative envelope",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			current, err := a.keys.ResolveCurrentKey(cmd.Context(), args[0], model.NormalizeMember(args[1]))
			if err != nil {
				return a.out.Fail("failed to resolve current key", err)
			}
			return a.out.Success(currentKeyView(current))
		},
	}
}

func newKeyHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <project> <user-id>",
		Short:         "List every envelope a member received, newest first",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.keys.History(cmd.Context(), args[0], model.NormalizeMember(args[1]))
			if err != nil {
				return a.out.Fail("failed to read envelope history", err)
			}
			return a.out.Success(envelopeList(history))
		},
	}
}

func newKeyRecipientsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "recipients <project>",
		Short:         "List members with a public key, i.e. the next fan-out's recipients",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			recipients, err := a.keys.ListRecipientsNeedingKey(cmd.Context(), args[0])
			if err != nil {
				return a.out.Fail("failed to list recipients", err)
			}
			return a.out.Success(recipientList(recipients))
		},
	}
}

func newKeyRotateCommand(rootOpts *RootOptions) *cobra.Command {
	var sender, senderKeyFile, projectKeyFile string

	cmd := &cobra.Command{
		Use:   "rotate <project>",
		Short: "Seal a project key for every recipient and issue the envelopes",
		Long: `Seal a project key for every current member with a public key.

A fresh project key is generated unless --project-key-file is given. With
--sender the key is sealed with that member's private key (--sender-key) and
the private key must match the member's registered public key. Without
--sender the configured system key seals it and the envelopes are
system-issued.

Recipients are independent: failures are reported per recipient and the
envelopes already issued are kept. Exit code 1 means a partial fan-out.

Examples:
  keyward key rotate proj-1 --sender alice --sender-key alice.key
  keyward --config keyward.yaml key rotate proj-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			project := args[0]
			sender = model.NormalizeMember(sender)

			keyFile := senderKeyFile
			switch {
			case sender != "" && keyFile == "":
				return a.out.Fail("--sender-key is required with --sender",
					model.InvalidRequest("rotate", "no private key for sender %s", sender))
			case sender == "" && keyFile == "":
				keyFile = a.cfg.SystemKeyFile
				if keyFile == "" {
					return a.out.Fail("system key is not configured",
						model.InvalidRequest("rotate", "set system_key_file or pass --sender"))
				}
			}

			privateKey, err := sealer.ReadKeyFile(keyFile)
			if err != nil {
				_ = a.out.Error(ErrCodeBadInput, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to read sender key", err)
			}
			box, err := sealer.New(privateKey)
			if err != nil {
				_ = a.out.Error(ErrCodeBadInput, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid sender key", err)
			}

			if sender != "" {
				registered, err := a.store.PublicKey(cmd.Context(), sender)
				if err != nil {
					return a.out.Fail("failed to read sender public key", err)
				}
				if !bytes.Equal(registered, box.PublicKey()) {
					return a.out.Fail("sender key mismatch",
						model.InvalidRequest("rotate", "private key does not match the registered public key of %s", sender))
				}
			}

			var projectKey []byte
			if projectKeyFile != "" {
				projectKey, err = sealer.ReadKeyFile(projectKeyFile)
			} else {
				projectKey, err = sealer.GenerateProjectKey()
			}
			if err != nil {
				_ = a.out.Error(ErrCodeBadInput, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to obtain project key", err)
			}

			res, fanErr := a.keys.FanOut(cmd.Context(), project, sender, projectKey, box)
			if fanErr != nil && len(res.Issued) == 0 && len(res.Failed) == 0 {
				return a.out.Fail("failed to rotate project key", fanErr)
			}

			result := rotateResult(project, sender, res)
			if err := a.out.Success(result); err != nil {
				return err
			}
			if fanErr != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d recipient(s) failed", len(res.Failed)), fanErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "rotating member (omit for system-issued)")
	cmd.Flags().StringVar(&senderKeyFile, "sender-key", "", "file holding the sender's base64 private key")
	cmd.Flags().StringVar(&projectKeyFile, "project-key-file", "", "file holding the base64 project key to distribute")
	return cmd
}

func rotateResult(project, sender string, res keys.FanOutResult) RotateResult {
	out := RotateResult{Project: project, Sender: sender, Issued: res.Issued}
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for user, err := range res.Failed {
			out.Failed[user] = err.Error()
		}
	}
	return out
}
