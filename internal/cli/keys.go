package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/musig"
)

func newKeygenCmd(g *globals) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate signer key pairs",
		Long: `Generate one or more signer key pairs on the configured curve.

The secret is printed as a big-endian scalar and the public key in the
curve's compressed encoding, both hex encoded.

Examples:
  musig2 keygen --count 3
  musig2 keygen --curve bjj -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", count)
			}
			out, err := g.printer(cmd)
			if err != nil {
				return err
			}
			records := make([]KeyRecord, count)
			for i := range records {
				k, err := g.musig.GenerateKey(rand.Reader)
				if err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				records[i] = KeyRecord{
					Secret: hex.EncodeToString(k.Secret.Bytes()),
					Public: hex.EncodeToString(k.Public.Bytes()),
				}
			}
			return out.printKeys(records)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of key pairs")
	return cmd
}

func newAggregateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <public-key-hex>...",
		Short: "Compute the aggregated public key of an ordered key list",
		Long: `Compute the aggregated public key for the given signer keys.

The order of the keys matters: the same keys in a different order give
a different aggregated key.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := g.printer(cmd)
			if err != nil {
				return err
			}
			keys, err := parsePublicKeys(g.musig, args)
			if err != nil {
				return err
			}
			keyCtx, err := g.musig.AggregateKeys(keys)
			if err != nil {
				return err
			}
			return out.printAggregatedKey(hex.EncodeToString(keyCtx.AggregatedKey.Bytes()))
		},
	}
}

func decodeHex(name, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", name, err)
	}
	return b, nil
}

func parsePublicKeys(m *musig.MuSig, in []string) ([]group.Point, error) {
	keys := make([]group.Point, len(in))
	for i, s := range in {
		b, err := decodeHex("public key", s)
		if err != nil {
			return nil, err
		}
		p, err := m.ParsePoint(b)
		if err != nil {
			return nil, fmt.Errorf("public key %d: %w", i+1, err)
		}
		keys[i] = p
	}
	return keys, nil
}

func parseSecrets(m *musig.MuSig, in []string) ([]*musig.KeyPair, error) {
	keys := make([]*musig.KeyPair, len(in))
	for i, s := range in {
		b, err := decodeHex("secret key", s)
		if err != nil {
			return nil, err
		}
		k, err := m.KeyFromSecret(b)
		if err != nil {
			return nil, fmt.Errorf("secret key %d: %w", i+1, err)
		}
		keys[i] = k
	}
	return keys, nil
}
