package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/keyward/internal/sealer"
)

// KeygenResult holds a generated keypair. PrivateKey is empty when it was
// written to a file.
type KeygenResult struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
	File       string `json:"file,omitempty"`
}

func (r KeygenResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "public_key=%s\n", r.PublicKey)
	if r.PrivateKey != "" {
		fmt.Fprintf(w, "private_key=%s\n", r.PrivateKey)
	}
	if r.File != "" {
		fmt.Fprintf(w, "private key written to %s\n", r.File)
	}
	return nil
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a NaCl box keypair",
		Long: `Generate a keypair for sealing project keys.

The public key is registered with "keyward user set-key" or used as the
system key. The private key stays with its owner; --out writes it to a
file readable only by the current user.

Examples:
  keyward keygen --out alice.key
  keyward keygen --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)

			pub, priv, err := sealer.GenerateKeyPair()
			if err != nil {
				_ = out.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to generate keypair", err)
			}

			result := KeygenResult{PublicKey: sealer.EncodeKey(pub)}
			if outFile != "" {
				if err := sealer.WriteKeyFile(outFile, priv); err != nil {
					_ = out.Error(ErrCodeGeneric, err.Error(), nil)
					return WrapExitError(ExitCommandError, "failed to write private key", err)
				}
				result.File = outFile
			} else {
				result.PrivateKey = sealer.EncodeKey(priv)
			}
			return out.Success(result)
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the private key to this file instead of stdout")
	return cmd
}
