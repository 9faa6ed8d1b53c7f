package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// errInvalidSignature is returned so the process exits non-zero.
var errInvalidSignature = errors.New("signature verification failed")

func newVerifyCmd(g *globals) *cobra.Command {
	var keyHex, sigHex, message, messageHex string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signature under an aggregated key",
		Long: `Verify a Schnorr signature (R || s, hex) under an aggregated public
key. The check is the ordinary single-key one: s*G == R + c*X.

Examples:
  musig2 verify --key <aggregated-key-hex> --signature <sig-hex> --message "hello"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := g.printer(cmd)
			if err != nil {
				return err
			}
			keys, err := parsePublicKeys(g.musig, []string{keyHex})
			if err != nil {
				return err
			}
			raw, err := decodeHex("signature", sigHex)
			if err != nil {
				return err
			}
			sig, err := g.musig.ParseSignature(raw)
			if err != nil {
				return err
			}
			msg := []byte(message)
			if messageHex != "" {
				if msg, err = decodeHex("message", messageHex); err != nil {
					return err
				}
			}

			valid := g.musig.Verify(sig, keys[0], msg)
			if err := out.printVerify(VerifyRecord{Valid: valid}); err != nil {
				return err
			}
			if !valid {
				return errInvalidSignature
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "aggregated public key hex (required)")
	cmd.Flags().StringVar(&sigHex, "signature", "", "signature hex (required)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "signed message")
	cmd.Flags().StringVar(&messageHex, "message-hex", "", "signed message, hex encoded")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
