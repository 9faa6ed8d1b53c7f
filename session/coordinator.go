package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/internal/metrics"
	"github.com/f3rmion/musig2/musig"
)

const (
	DefaultPhaseTimeout  = 30 * time.Second
	DefaultSweepInterval = time.Second
	DefaultKeyCacheSize  = 128
)

// Handle refers to one session created by a [Coordinator]. A handle stays
// bound to its session even if a later ceremony reuses the session id.
type Handle struct {
	ID  musig.SessionID
	seq uint64
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.ID, h.seq)
}

// Observer is notified of every phase a session enters. Observers run on
// the goroutine that caused the transition, after the coordinator's locks
// are released.
type Observer func(h Handle, s *Session, phase Phase)

type entry struct {
	handle  Handle
	session *Session
	closed  time.Time
}

// Coordinator manages concurrent signing sessions. It holds public data
// only: commitments, nonces and partial signatures.
//
// Sessions are keyed by [musig.MuSig.SessionID]. At most one non-terminal
// session exists per id; a terminal one is replaced by the next
// CreateSession for the same keys and message.
type Coordinator struct {
	mu        sync.Mutex
	musig     *musig.MuSig
	clock     clock.Clock
	logger    *slog.Logger
	timeout   time.Duration
	sweep     time.Duration
	retention time.Duration
	cacheSize int

	keyCache  *lru.Cache[string, *musig.KeyAggContext]
	sessions  map[musig.SessionID]*entry
	seq       uint64
	observers []Observer

	cancel context.CancelFunc
	done   chan struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock sets the clock used for phase deadlines.
func WithClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithPhaseTimeout sets the time each phase may take.
func WithPhaseTimeout(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.timeout = d }
}

// WithSweepInterval sets how often the watchdog checks deadlines.
func WithSweepInterval(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.sweep = d }
}

// WithRetention sets how long terminal sessions stay queryable.
func WithRetention(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.retention = d }
}

// WithKeyCacheSize sets the number of key aggregation results cached.
func WithKeyCacheSize(n int) CoordinatorOption {
	return func(co *Coordinator) { co.cacheSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(co *Coordinator) { co.logger = l }
}

// NewCoordinator creates a coordinator for ceremonies over m.
func NewCoordinator(m *musig.MuSig, opts ...CoordinatorOption) (*Coordinator, error) {
	c := &Coordinator{
		musig:     m,
		clock:     clock.New(),
		logger:    logging.Discard(),
		timeout:   DefaultPhaseTimeout,
		sweep:     DefaultSweepInterval,
		cacheSize: DefaultKeyCacheSize,
		sessions:  make(map[musig.SessionID]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		return nil, fmt.Errorf("phase timeout must be positive, got %s", c.timeout)
	}
	if c.sweep <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", c.sweep)
	}
	if c.retention <= 0 {
		c.retention = 10 * c.timeout
	}

	cache, err := lru.New[string, *musig.KeyAggContext](c.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	c.keyCache = cache
	return c, nil
}

// MuSig returns the protocol instance the coordinator runs.
func (c *Coordinator) MuSig() *musig.MuSig {
	return c.musig
}

// Observe registers fn for phase notifications.
func (c *Coordinator) Observe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// CreateSession opens a ceremony for participants, in the given key
// order, over message.
func (c *Coordinator) CreateSession(participants []musig.Participant, message []byte) (Handle, error) {
	if err := musig.ValidateParticipants(participants); err != nil {
		return Handle{}, err
	}
	keys := musig.PublicKeys(participants)
	keyCtx, err := c.keyContext(keys)
	if err != nil {
		return Handle{}, err
	}
	sid := c.musig.SessionID(keys, message)

	c.mu.Lock()
	if e, ok := c.sessions[sid]; ok && !e.session.Phase().IsTerminal() {
		c.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s", ErrSessionExists, sid)
	}
	c.seq++
	h := Handle{ID: sid, seq: c.seq}
	traceID := uuid.New().String()
	s := newSession(c.musig, c.clock, c.logger, traceID, participants, message, keyCtx, c.timeout)
	s.counted = metrics.SessionOpened()
	c.sessions[sid] = &entry{handle: h, session: s}
	c.mu.Unlock()

	s.logger.Info("session created",
		"participants", len(participants),
		"aggregated_key", fmt.Sprintf("%x", keyCtx.AggregatedKey.Bytes()))
	return h, nil
}

// keyContext returns the cached aggregation result for the ordered keys.
func (c *Coordinator) keyContext(keys []group.Point) (*musig.KeyAggContext, error) {
	var buf bytes.Buffer
	for _, k := range keys {
		buf.Write(k.Bytes())
	}
	cacheKey := buf.String()

	if kc, ok := c.keyCache.Get(cacheKey); ok {
		metrics.RecordKeyCache(true)
		return kc, nil
	}
	metrics.RecordKeyCache(false)
	kc, err := c.musig.AggregateKeys(keys)
	if err != nil {
		return nil, err
	}
	c.keyCache.Add(cacheKey, kc)
	return kc, nil
}

// Lookup returns the handle of the session currently registered under sid.
func (c *Coordinator) Lookup(sid musig.SessionID) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sid]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownSession, sid)
	}
	return e.handle, nil
}

// Session returns the session behind h.
func (c *Coordinator) Session(h Handle) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[h.ID]
	if !ok || e.handle != h {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	return e.session, nil
}

// SubmitRound1 records a participant's commitment.
func (c *Coordinator) SubmitRound1(h Handle, id musig.ParticipantID, commitment musig.Commitment) error {
	return c.submit(h, func(s *Session) (bool, error) {
		return s.SubmitCommitment(id, commitment)
	})
}

// SubmitRound2 records a participant's nonce reveal.
func (c *Coordinator) SubmitRound2(h Handle, id musig.ParticipantID, nonce *musig.PublicNonce) error {
	return c.submit(h, func(s *Session) (bool, error) {
		return s.SubmitNonce(id, nonce)
	})
}

// SubmitRound3 records a participant's partial signature.
func (c *Coordinator) SubmitRound3(h Handle, id musig.ParticipantID, partial group.Scalar) error {
	return c.submit(h, func(s *Session) (bool, error) {
		return s.SubmitPartial(id, partial)
	})
}

// ReportAbort aborts the session behind h because participant id could
// not continue, for example after finding its nonce already consumed.
func (c *Coordinator) ReportAbort(h Handle, id musig.ParticipantID, reason error) error {
	return c.submit(h, func(s *Session) (bool, error) {
		return false, s.Report(id, reason)
	})
}

func (c *Coordinator) submit(h Handle, fn func(*Session) (bool, error)) error {
	s, err := c.Session(h)
	if err != nil {
		return err
	}
	_, err = fn(s)
	c.notify(h, s)
	return err
}

// GetSignature returns the current outcome of the session behind h.
func (c *Coordinator) GetSignature(h Handle) (Result, error) {
	s, err := c.Session(h)
	if err != nil {
		return Result{}, err
	}
	if s.checkDeadline(c.clock.Now()) {
		c.notify(h, s)
	}
	return s.Result(), nil
}

// Wait blocks until the session behind h is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, h Handle) (Result, error) {
	s, err := c.Session(h)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-s.Done():
		return s.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel aborts the session behind h with ErrSessionCancelled. Cancelling
// a terminal session has no effect.
func (c *Coordinator) Cancel(h Handle) error {
	s, err := c.Session(h)
	if err != nil {
		return err
	}
	s.Cancel()
	c.notify(h, s)
	return nil
}

func (c *Coordinator) notify(h Handle, s *Session) {
	phases := s.drainTransitions()
	if len(phases) == 0 {
		return
	}
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()
	for _, p := range phases {
		for _, fn := range observers {
			fn(h, s, p)
		}
	}
}

// Start launches the watchdog that aborts sessions whose phase deadline
// has passed and forgets terminal sessions after the retention period.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ticker := c.clock.Ticker(c.sweep)
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop halts the watchdog and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep runs one watchdog pass.
func (c *Coordinator) Sweep() {
	now := c.clock.Now()

	c.mu.Lock()
	entries := make([]*entry, 0, len(c.sessions))
	for sid, e := range c.sessions {
		if e.session.Phase().IsTerminal() {
			if e.closed.IsZero() {
				e.closed = now
			} else if now.Sub(e.closed) >= c.retention {
				delete(c.sessions, sid)
				continue
			}
		}
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		if e.session.checkDeadline(now) {
			c.logger.Debug("watchdog expired session", "session", e.handle.String())
		}
		c.notify(e.handle, e.session)
	}
}

// Len returns the number of sessions the coordinator tracks.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
