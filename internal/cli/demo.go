package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/f3rmion/musig2/internal/config"
	"github.com/f3rmion/musig2/internal/metrics"
	"github.com/f3rmion/musig2/ledger"
	"github.com/f3rmion/musig2/musig"
	"github.com/f3rmion/musig2/party"
	"github.com/f3rmion/musig2/session"
)

type demoOptions struct {
	signers    int
	message    string
	messageHex string
	secrets    []string
	duplicates bool
	timeout    time.Duration
	linger     time.Duration
}

func newDemoCmd(g *globals) *cobra.Command {
	opts := &demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an in-process signing ceremony",
		Long: `Run a complete N-of-N ceremony inside one process: a coordinator,
a relay and one participant per key exchanging messages over an
in-memory transport.

Nonces are recorded in the ledger configured under "ledger". With the
file backend, a restarted participant still refuses nonces it has
used before.

Examples:
  musig2 demo --signers 3 --message "hello"
  musig2 demo --key <secret-hex> --key <secret-hex> --message-hex 00ff
  musig2 demo --config musig2.yaml --duplicates -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, g, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.signers, "signers", "n", 3, "number of signers when no keys are given")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "hello, musig2", "message to sign")
	cmd.Flags().StringVar(&opts.messageHex, "message-hex", "", "message to sign, hex encoded")
	cmd.Flags().StringArrayVarP(&opts.secrets, "key", "k", nil, "secret key hex (repeatable; replaces --signers)")
	cmd.Flags().BoolVar(&opts.duplicates, "duplicates", false, "deliver every protocol message twice")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall ceremony timeout")
	cmd.Flags().DurationVar(&opts.linger, "linger", 0, "keep the metrics endpoint up for this long after signing")
	return cmd
}

func runDemo(cmd *cobra.Command, g *globals, opts *demoOptions) error {
	out, err := g.printer(cmd)
	if err != nil {
		return err
	}
	msg := []byte(opts.message)
	if opts.messageHex != "" {
		if msg, err = decodeHex("message", opts.messageHex); err != nil {
			return err
		}
	}

	var keys []*musig.KeyPair
	if len(opts.secrets) > 0 {
		if keys, err = parseSecrets(g.musig, opts.secrets); err != nil {
			return err
		}
	} else {
		if opts.signers < 2 {
			return fmt.Errorf("signers must be at least 2, got %d", opts.signers)
		}
		for i := 0; i < opts.signers; i++ {
			k, err := g.musig.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			keys = append(keys, k)
		}
	}

	l, err := openLedger(g.cfg.Ledger, g.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			g.logger.Warn("closing ledger", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	if g.cfg.Metrics.Enabled {
		metrics.Enable()
		stop, err := serveMetrics(g.cfg.Metrics, g.logger)
		if err != nil {
			return err
		}
		defer stop()
	} else {
		metrics.Disable()
	}

	sig, keyCtx, err := party.LocalCeremony(ctx, g.musig, keys, msg, party.CeremonyConfig{
		Logger:       g.logger,
		PhaseTimeout: g.cfg.Session.PhaseTimeout,
		Duplicate:    opts.duplicates,
		Ledger:       l,
		Coordinator: []session.CoordinatorOption{
			session.WithSweepInterval(g.cfg.Session.SweepInterval),
			session.WithKeyCacheSize(g.cfg.Session.KeyCacheSize),
		},
	})
	if err != nil {
		return fmt.Errorf("ceremony failed: %w", err)
	}
	if !g.musig.Verify(sig, keyCtx.AggregatedKey, msg) {
		return musig.ErrAggregationVerificationFailed
	}

	record := CeremonyRecord{
		Curve:         g.cfg.Protocol.Curve,
		Hasher:        g.cfg.Protocol.Hasher,
		AggregatedKey: hex.EncodeToString(keyCtx.AggregatedKey.Bytes()),
		Message:       hex.EncodeToString(msg),
		Signature:     hex.EncodeToString(sig.Bytes()),
	}
	for _, k := range keyCtx.Keys {
		record.PublicKeys = append(record.PublicKeys, hex.EncodeToString(k.Bytes()))
	}
	if err := out.printCeremony(record); err != nil {
		return err
	}

	if g.cfg.Metrics.Enabled && opts.linger > 0 {
		select {
		case <-time.After(opts.linger):
		case <-cmd.Context().Done():
		}
	}
	return nil
}

func openLedger(cfg config.LedgerConfig, logger *slog.Logger) (ledger.Ledger, error) {
	switch cfg.Backend {
	case config.LedgerFile:
		l, err := ledger.Open(cfg.Path, ledger.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		return l, nil
	default:
		return ledger.NewMemory(), nil
	}
}

// serveMetrics exposes the default Prometheus registry and returns a
// function that shuts the server down.
func serveMetrics(cfg config.MetricsConfig, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting metrics server", "address", ln.Addr().String(), "path", cfg.Path)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown", "error", err)
		}
	}, nil
}
