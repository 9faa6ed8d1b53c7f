// Package cli implements the musig2 command line tool.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/f3rmion/musig2/bjj"
	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/internal/config"
	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/musig"
	"github.com/f3rmion/musig2/secp256k1"
)

// globals holds state resolved by the root command before any subcommand
// runs.
type globals struct {
	configFile string
	curve      string
	hasher     string
	output     string

	cfg    *config.Config
	logger *slog.Logger
	musig  *musig.MuSig
}

// NewRootCommand builds the musig2 command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "musig2",
		Short: "N-of-N Schnorr multi-signatures",
		Long: `musig2 aggregates the public keys of N signers into one key and
produces ordinary Schnorr signatures under it in three rounds:
nonce commitments, nonce reveals and partial signatures.

Supported curves:
  - secp256k1 (default)
  - bjj:       Baby Jubjub`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&g.curve, "curve", "", "curve override (secp256k1, bjj)")
	root.PersistentFlags().StringVar(&g.hasher, "hasher", "", "hasher override (blake2b, sha256)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format (text, json)")

	root.AddCommand(newKeygenCmd(g))
	root.AddCommand(newAggregateCmd(g))
	root.AddCommand(newDemoCmd(g))
	root.AddCommand(newVerifyCmd(g))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return err
	}
	if g.curve != "" {
		cfg.Protocol.Curve = g.curve
	}
	if g.hasher != "" {
		cfg.Protocol.Hasher = g.hasher
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	m, err := buildMuSig(cfg.Protocol)
	if err != nil {
		return err
	}
	g.cfg, g.logger, g.musig = cfg, logger, m
	return nil
}

func (g *globals) printer(cmd *cobra.Command) (*printer, error) {
	return newPrinter(g.output, cmd.OutOrStdout())
}

// buildMuSig selects the group and hasher named by p.
func buildMuSig(p config.ProtocolConfig) (*musig.MuSig, error) {
	var grp group.Group
	switch strings.ToLower(p.Curve) {
	case config.CurveSecp256k1:
		grp = secp256k1.New()
	case config.CurveBJJ:
		grp = bjj.New()
	default:
		return nil, fmt.Errorf("unsupported curve %q", p.Curve)
	}

	switch strings.ToLower(p.Hasher) {
	case config.HasherBlake2b:
		return musig.NewWithHasher(grp, musig.NewBlake2bHasher()), nil
	case config.HasherSHA256:
		return musig.NewWithHasher(grp, &musig.SHA256Hasher{}), nil
	default:
		return nil, fmt.Errorf("unsupported hasher %q", p.Hasher)
	}
}
