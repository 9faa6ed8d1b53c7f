package party

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/ledger"
	"github.com/f3rmion/musig2/musig"
	"github.com/f3rmion/musig2/session"
	"github.com/f3rmion/musig2/transport"
)

// settleTimeout bounds how long LocalCeremony waits for participants to
// process the final broadcast.
const settleTimeout = 5 * time.Second

// CeremonyConfig tunes [LocalCeremony]. The zero value is usable.
type CeremonyConfig struct {
	Logger *slog.Logger
	// PhaseTimeout overrides the coordinator's per-phase deadline.
	PhaseTimeout time.Duration
	// Duplicate delivers every message twice.
	Duplicate bool
	// Ledger is shared by all participants. Nil means a memory ledger.
	Ledger ledger.Ledger
	// Rand overrides the nonce randomness source.
	Rand io.Reader
	// Coordinator options are applied after PhaseTimeout.
	Coordinator []session.CoordinatorOption
}

// LocalCeremony signs msg with keys by running a coordinator, a relay and
// one [Participant] per key over an in-process transport. Participant ids
// are assigned 1..n in key order.
//
// It returns the aggregated signature and key context, or the abort reason
// wrapped in session.ErrSessionAborted.
func LocalCeremony(ctx context.Context, m *musig.MuSig, keys []*musig.KeyPair, msg []byte, cfg CeremonyConfig) (*musig.Signature, *musig.KeyAggContext, error) {
	if len(keys) == 0 {
		return nil, nil, errors.New("no keys provided")
	}
	logger := logging.OrDiscard(cfg.Logger)
	l := cfg.Ledger
	if l == nil {
		l = ledger.NewMemory()
	}

	trOpts := []transport.Option{transport.WithLogger(logger)}
	if cfg.Duplicate {
		trOpts = append(trOpts, transport.WithDuplicates())
	}
	tr := transport.NewChanTransport(trOpts...)
	defer tr.Close()

	coordOpts := []session.CoordinatorOption{session.WithLogger(logger)}
	if cfg.PhaseTimeout > 0 {
		coordOpts = append(coordOpts, session.WithPhaseTimeout(cfg.PhaseTimeout))
	}
	coordOpts = append(coordOpts, cfg.Coordinator...)
	coord, err := session.NewCoordinator(m, coordOpts...)
	if err != nil {
		return nil, nil, err
	}
	coord.Start(ctx)
	defer coord.Stop()
	relay := session.NewRelay(coord, tr, session.WithRelayLogger(logger))

	partyOpts := []Option{WithLedger(l), WithLogger(logger)}
	if cfg.Rand != nil {
		partyOpts = append(partyOpts, WithRand(cfg.Rand))
	}
	parties := make([]*Participant, len(keys))
	members := make([]musig.Participant, len(keys))
	for i, k := range keys {
		p, err := New(m, musig.ParticipantID(i+1), k, tr, partyOpts...)
		if err != nil {
			return nil, nil, err
		}
		parties[i] = p
		members[i] = p.Public()
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = relay.Run(runCtx)
	}()
	for _, p := range parties {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(runCtx)
		}()
	}

	h, err := relay.Open(ctx, members, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}
	s, err := coord.Session(h)
	if err != nil {
		return nil, nil, err
	}
	res, err := coord.Wait(ctx, h)
	if err != nil {
		_ = coord.Cancel(h)
		return nil, nil, err
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, settleTimeout)
	defer waitCancel()
	for _, p := range parties {
		out, err := p.Wait(waitCtx, h.ID)
		if err != nil {
			logger.Warn("participant did not settle", "participant", p.ID(), "error", err)
			continue
		}
		if res.Status == session.StatusSigned && out.State != StateCompleted {
			logger.Warn("participant did not confirm signature", "participant", p.ID(), "state", out.State.String())
		}
	}

	if res.Status != session.StatusSigned {
		return nil, s.KeyAggContext(), fmt.Errorf("%w: %w", session.ErrSessionAborted, res.Reason)
	}
	return res.Signature, s.KeyAggContext(), nil
}
