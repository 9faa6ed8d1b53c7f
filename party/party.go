// Package party implements the participant side of a signing ceremony.
//
// A [Participant] owns a long-term key and, per session, one single-use
// nonce pair. It reacts to relay broadcasts on its transport inbox:
//
//	SessionStart  -> sample nonces, record them in the ledger, send Commitment
//	CommitmentSet -> check its own commitment, send NonceReveal
//	NonceSet      -> check every reveal, aggregate, send PartialSig
//	FinalSignature / Abort -> record the outcome, discard nonces
//
// A participant that cannot sign, because its nonce is gone or the ledger
// refuses every fresh pair, sends an Abort naming itself so the session
// ends at once instead of timing out.
//
// Every broadcast is handled at most once per session, so duplicated
// delivery is harmless. Secret nonces are zeroed when a session ends,
// whether it signed or aborted.
package party

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/ledger"
	"github.com/f3rmion/musig2/musig"
	"github.com/f3rmion/musig2/transport"
	"github.com/f3rmion/musig2/wire"
)

// maxNonceAttempts bounds resampling when the ledger reports a collision.
const maxNonceAttempts = 3

// ErrNotParticipant reports a SessionStart that does not list this
// participant's key under its id.
var ErrNotParticipant = errors.New("party: not a participant of the session")

// State is a participant's progress within one session.
type State int

const (
	StateCommitted State = iota + 1
	StateRevealed
	StateSigned
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateRevealed:
		return "revealed"
	case StateSigned:
		return "signed"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further messages are processed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Outcome is what a participant learned about one session.
type Outcome struct {
	State     State
	Signature *musig.Signature
	// Reason is set when State is StateAborted.
	Reason      string
	Offender    musig.ParticipantID
	HasOffender bool
}

// signing is the per-session state. signer is the only secret.
type signing struct {
	id          musig.SessionID
	traceID     string
	message     []byte
	ids         []musig.ParticipantID
	keyCtx      *musig.KeyAggContext
	signer      *musig.Signer
	commitments []musig.Commitment
	state       State
	outcome     Outcome
}

// Participant runs one signer's side of the protocol over a transport.
type Participant struct {
	musig  *musig.MuSig
	id     musig.ParticipantID
	key    *musig.KeyPair
	name   string
	tr     transport.Transport
	inbox  <-chan transport.Envelope
	codec  *wire.Codec
	ledger ledger.Ledger
	logger *slog.Logger
	rng    io.Reader

	mu       sync.Mutex
	sessions map[musig.SessionID]*signing
	changed  chan struct{}
}

// Option configures a Participant.
type Option func(*Participant)

// WithLedger sets the nonce ledger. The default is a fresh
// [ledger.MemoryLedger].
func WithLedger(l ledger.Ledger) Option {
	return func(p *Participant) { p.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Participant) { p.logger = l }
}

// WithRand sets the randomness source for nonces. The default is
// crypto/rand.
func WithRand(r io.Reader) Option {
	return func(p *Participant) { p.rng = r }
}

// New creates a participant signing as id with key. Its inbox,
// [transport.ParticipantName](id), is registered immediately.
func New(m *musig.MuSig, id musig.ParticipantID, key *musig.KeyPair, tr transport.Transport, opts ...Option) (*Participant, error) {
	if key == nil || key.Secret == nil || key.Public == nil {
		return nil, fmt.Errorf("%w: participant %d has no key", musig.ErrInvalidKeyMaterial, id)
	}
	p := &Participant{
		musig:    m,
		id:       id,
		key:      key,
		name:     transport.ParticipantName(id),
		tr:       tr,
		codec:    wire.NewCodec(m.Group()),
		rng:      rand.Reader,
		sessions: make(map[musig.SessionID]*signing),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ledger == nil {
		p.ledger = ledger.NewMemory()
	}
	p.logger = logging.OrDiscard(p.logger).With("participant", id)
	p.inbox = tr.Inbox(p.name)
	return p, nil
}

// ID returns the participant id.
func (p *Participant) ID() musig.ParticipantID {
	return p.id
}

// Public returns the participant's public identity.
func (p *Participant) Public() musig.Participant {
	return musig.Participant{ID: p.id, PublicKey: p.key.Public}
}

// Outcome reports the participant's view of session sid.
func (p *Participant) Outcome(sid musig.SessionID) (Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sessions[sid]
	if !ok {
		return Outcome{}, false
	}
	out := st.outcome
	out.State = st.state
	return out, true
}

// Wait blocks until session sid reaches a terminal state or ctx is done.
func (p *Participant) Wait(ctx context.Context, sid musig.SessionID) (Outcome, error) {
	for {
		p.mu.Lock()
		changed := p.changed
		p.mu.Unlock()

		if out, ok := p.Outcome(sid); ok && out.State.IsTerminal() {
			return out, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
}

// Run processes broadcasts until ctx is done or the inbox closes.
func (p *Participant) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-p.inbox:
			if !ok {
				return nil
			}
			if err := p.handle(ctx, env); err != nil {
				p.logger.Warn("message handling failed",
					"session", env.SessionID.String(),
					"kind", env.Kind.String(),
					"trace_id", env.TraceID,
					"error", err)
			}
		}
	}
}

func (p *Participant) handle(ctx context.Context, env transport.Envelope) error {
	if env.From != transport.CoordinatorName {
		return fmt.Errorf("unexpected sender %q", env.From)
	}
	msg, err := p.codec.Decode(env.Payload)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.notifyLocked()

	switch m := msg.(type) {
	case *wire.SessionStart:
		return p.onStart(ctx, env.TraceID, m)
	case *wire.CommitmentSet:
		return p.onCommitments(ctx, m)
	case *wire.NonceSet:
		return p.onNonces(ctx, m)
	case *wire.FinalSignature:
		return p.onFinal(m)
	case *wire.Abort:
		return p.onAbort(m)
	default:
		return fmt.Errorf("unexpected message kind %s", msg.Kind())
	}
}

func (p *Participant) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Participant) onStart(ctx context.Context, traceID string, m *wire.SessionStart) error {
	// A redelivered start for a ceremony already joined is ignored, even
	// once it ended. A new ceremony for the same id carries a new trace id.
	if st, ok := p.sessions[m.SessionID]; ok && (!st.state.IsTerminal() || st.traceID == traceID) {
		return nil
	}

	ids := make([]musig.ParticipantID, len(m.Participants))
	own := -1
	for i, pt := range m.Participants {
		ids[i] = pt.ID
		if pt.ID == p.id {
			own = i
		}
	}
	if own < 0 || !m.Participants[own].PublicKey.Equal(p.key.Public) {
		return ErrNotParticipant
	}

	keys := musig.PublicKeys(m.Participants)
	if sid := p.musig.SessionID(keys, m.Message); sid != m.SessionID {
		return fmt.Errorf("session id %s does not match participants and message", m.SessionID)
	}
	keyCtx, err := p.musig.AggregateKeys(keys)
	if err != nil {
		return err
	}

	signer, err := p.freshSigner(m.SessionID)
	if err != nil {
		return errors.Join(err, p.report(ctx, m.SessionID, traceID, err))
	}
	st := &signing{
		id:      m.SessionID,
		traceID: traceID,
		message: m.Message,
		ids:     ids,
		keyCtx:  keyCtx,
		signer:  signer,
		state:   StateCommitted,
	}
	p.sessions[m.SessionID] = st

	p.logger.Debug("session joined", "session", st.id.String(), "trace_id", traceID, "participants", len(ids))
	return p.send(ctx, st, &wire.Commitment{
		SessionID:   st.id,
		Participant: p.id,
		Commitment:  signer.Commitment(st.id),
	})
}

// freshSigner samples nonces until the ledger accepts the pair.
func (p *Participant) freshSigner(sid musig.SessionID) (*musig.Signer, error) {
	for attempt := 1; attempt <= maxNonceAttempts; attempt++ {
		signer, err := p.musig.NewSigner(p.rng, p.id, p.key)
		if err != nil {
			return nil, err
		}
		pub := signer.PublicNonce()
		r1, r2 := pub.R1.Bytes(), pub.R2.Bytes()

		if seen, err := p.seen(r1, r2); err != nil {
			signer.Discard()
			return nil, err
		} else if seen {
			signer.Discard()
			p.logger.Warn("sampled nonce already in ledger, resampling", "attempt", attempt)
			continue
		}

		err = p.ledger.Record(ledger.Entry{
			SessionID:   sid.String(),
			Participant: uint32(p.id),
			R1:          r1,
			R2:          r2,
			CreatedAt:   time.Now().UTC(),
		})
		switch {
		case err == nil:
			return signer, nil
		case errors.Is(err, ledger.ErrNonceReuse):
			signer.Discard()
			p.logger.Warn("ledger rejected nonce, resampling", "attempt", attempt)
		default:
			signer.Discard()
			return nil, fmt.Errorf("record nonce: %w", err)
		}
	}
	return nil, fmt.Errorf("no unused nonce after %d attempts: %w", maxNonceAttempts, ledger.ErrNonceReuse)
}

func (p *Participant) seen(points ...[]byte) (bool, error) {
	for _, pt := range points {
		ok, err := p.ledger.Seen(pt)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (p *Participant) onCommitments(ctx context.Context, m *wire.CommitmentSet) error {
	st, ok := p.sessions[m.SessionID]
	if !ok || st.state != StateCommitted {
		return nil
	}
	if len(m.Commitments) != len(st.ids) {
		p.fail(st, "commitment set has wrong size")
		return nil
	}

	commitments := make([]musig.Commitment, len(m.Commitments))
	for i, c := range m.Commitments {
		if c.Participant != st.ids[i] {
			p.fail(st, "commitment set out of key order")
			return nil
		}
		commitments[i] = c.Commitment
		if c.Participant == p.id && !c.Commitment.Equal(st.signer.Commitment(st.id)) {
			p.fail(st, "own commitment altered by relay")
			return nil
		}
	}
	st.commitments = commitments
	st.state = StateRevealed

	return p.send(ctx, st, &wire.NonceReveal{
		SessionID:   st.id,
		Participant: p.id,
		Nonce:       st.signer.PublicNonce(),
	})
}

func (p *Participant) onNonces(ctx context.Context, m *wire.NonceSet) error {
	st, ok := p.sessions[m.SessionID]
	if !ok || st.state != StateRevealed {
		return nil
	}
	if len(m.Nonces) != len(st.ids) {
		p.fail(st, "nonce set has wrong size")
		return nil
	}

	nonces := make([]*musig.PublicNonce, len(m.Nonces))
	for i, n := range m.Nonces {
		if n.Participant != st.ids[i] {
			p.fail(st, "nonce set out of key order")
			return nil
		}
		if err := p.musig.VerifyCommitment(st.id, n.Participant, n.Nonce, st.commitments[i]); err != nil {
			p.failErr(st, err)
			return nil
		}
		nonces[i] = n.Nonce
	}

	aggNonce, err := p.musig.AggregateNonces(st.keyCtx, st.message, nonces, st.ids)
	if err != nil {
		p.failErr(st, err)
		return nil
	}
	partial, err := st.signer.Sign(st.keyCtx, aggNonce, st.message)
	if err != nil {
		p.failErr(st, err)
		if errors.Is(err, musig.ErrNonceAlreadyConsumed) {
			return p.report(ctx, st.id, st.traceID, err)
		}
		return nil
	}
	st.state = StateSigned

	return p.send(ctx, st, &wire.PartialSig{
		SessionID:   st.id,
		Participant: p.id,
		S:           partial,
	})
}

func (p *Participant) onFinal(m *wire.FinalSignature) error {
	st, ok := p.sessions[m.SessionID]
	if !ok || st.state.IsTerminal() {
		return nil
	}
	st.signer.Discard()
	if !p.musig.Verify(m.Signature, st.keyCtx.AggregatedKey, st.message) {
		p.fail(st, "final signature does not verify")
		return musig.ErrAggregationVerificationFailed
	}
	st.state = StateCompleted
	st.outcome.Signature = m.Signature
	p.logger.Info("session completed", "session", st.id.String(), "trace_id", st.traceID)
	return nil
}

func (p *Participant) onAbort(m *wire.Abort) error {
	st, ok := p.sessions[m.SessionID]
	if !ok || st.state.IsTerminal() {
		return nil
	}
	p.fail(st, m.Reason)
	st.outcome.Offender = m.Offender
	st.outcome.HasOffender = m.HasOffender
	return nil
}

func (p *Participant) failErr(st *signing, err error) {
	p.fail(st, err.Error())
	if id, ok := musig.Offender(err); ok {
		st.outcome.Offender = id
		st.outcome.HasOffender = true
	}
}

// fail ends the session locally. The nonce pair is never reused.
func (p *Participant) fail(st *signing, reason string) {
	st.signer.Discard()
	st.state = StateAborted
	st.outcome.Reason = reason
	p.logger.Warn("session aborted", "session", st.id.String(), "trace_id", st.traceID, "reason", reason)
}

// report tells the coordinator that this participant cannot continue
// session sid because of cause. The abort names the participant itself.
func (p *Participant) report(ctx context.Context, sid musig.SessionID, traceID string, cause error) error {
	return p.sendTo(ctx, sid, traceID, &wire.Abort{
		SessionID:   sid,
		Reason:      cause.Error(),
		Offender:    p.id,
		HasOffender: true,
	})
}

func (p *Participant) send(ctx context.Context, st *signing, msg wire.Message) error {
	return p.sendTo(ctx, st.id, st.traceID, msg)
}

func (p *Participant) sendTo(ctx context.Context, sid musig.SessionID, traceID string, msg wire.Message) error {
	payload, err := p.codec.Encode(msg)
	if err != nil {
		return err
	}
	return p.tr.Send(ctx, transport.Envelope{
		SessionID: sid,
		From:      p.name,
		To:        transport.CoordinatorName,
		Kind:      msg.Kind(),
		Payload:   payload,
		TraceID:   traceID,
	})
}
