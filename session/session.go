package session

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/internal/metrics"
	"github.com/f3rmion/musig2/musig"
)

// Status is the externally visible outcome of a session.
type Status int

const (
	StatusPending Status = iota
	StatusSigned
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSigned:
		return "signed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is a snapshot of a session's outcome.
type Result struct {
	Status    Status
	Phase     Phase
	Signature *musig.Signature
	// Reason is the abort cause when Status is StatusAborted.
	Reason error
	// Offender names the participant blamed for the abort, if any.
	Offender    musig.ParticipantID
	HasOffender bool
}

// Session is the coordinator-side state of one ceremony. It only ever
// holds public values: commitments, public nonces and partial signatures.
//
// A Session is safe for concurrent use. Submissions are accepted only in
// the phase they belong to; an identical resubmission is ignored and a
// different one aborts the session.
type Session struct {
	mu     sync.Mutex
	musig  *musig.MuSig
	clock  clock.Clock
	logger *slog.Logger

	id           musig.SessionID
	traceID      string
	participants []musig.Participant
	index        map[musig.ParticipantID]int
	message      []byte
	keyCtx       *musig.KeyAggContext
	timeout      time.Duration

	phase        Phase
	phaseStarted time.Time
	deadline     time.Time
	transitions  []Phase
	done         chan struct{}

	commitments []*musig.Commitment
	nonces      []*musig.PublicNonce
	partials    []group.Scalar
	aggNonce    *musig.AggregatedNonce
	signature   *musig.Signature

	reason      error
	offender    musig.ParticipantID
	hasOffender bool

	// counted records whether the active sessions gauge includes s.
	counted bool
}

func newSession(
	m *musig.MuSig,
	clk clock.Clock,
	logger *slog.Logger,
	traceID string,
	participants []musig.Participant,
	message []byte,
	keyCtx *musig.KeyAggContext,
	timeout time.Duration,
) *Session {
	n := len(participants)
	index := make(map[musig.ParticipantID]int, n)
	for i, p := range participants {
		index[p.ID] = i
	}
	now := clk.Now()
	sid := m.SessionID(keyCtx.Keys, message)

	return &Session{
		musig:  m,
		clock:  clk,
		logger: logging.OrDiscard(logger).With("session", sid.String(), "trace_id", traceID),

		id:           sid,
		traceID:      traceID,
		participants: append([]musig.Participant(nil), participants...),
		index:        index,
		message:      bytes.Clone(message),
		keyCtx:       keyCtx,
		timeout:      timeout,

		phase:        PhaseCreated,
		phaseStarted: now,
		deadline:     now.Add(timeout),
		done:         make(chan struct{}),

		commitments: make([]*musig.Commitment, n),
		nonces:      make([]*musig.PublicNonce, n),
		partials:    make([]group.Scalar, n),
	}
}

// ID returns the session identifier.
func (s *Session) ID() musig.SessionID { return s.id }

// TraceID returns the identifier used to correlate logs of this session.
func (s *Session) TraceID() string { return s.traceID }

// Message returns a copy of the message being signed.
func (s *Session) Message() []byte { return bytes.Clone(s.message) }

// Participants returns the participants in key order.
func (s *Session) Participants() []musig.Participant {
	return append([]musig.Participant(nil), s.participants...)
}

// KeyAggContext returns the key aggregation result for the session.
func (s *Session) KeyAggContext() *musig.KeyAggContext { return s.keyCtx }

// Done is closed once the session reaches a terminal phase.
func (s *Session) Done() <-chan struct{} { return s.done }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Result returns a snapshot of the session outcome.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Result{Phase: s.phase}
	switch s.phase {
	case PhaseSigned:
		r.Status = StatusSigned
		r.Signature = s.signature
	case PhaseAborted:
		r.Status = StatusAborted
		r.Reason = s.reason
		r.Offender = s.offender
		r.HasOffender = s.hasOffender
	default:
		r.Status = StatusPending
	}
	return r
}

// Commitments returns the collected commitments in key order. Missing
// entries are zero.
func (s *Session) Commitments() []musig.Commitment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]musig.Commitment, len(s.commitments))
	for i, c := range s.commitments {
		if c != nil {
			out[i] = *c
		}
	}
	return out
}

// Nonces returns the revealed public nonces in key order. Missing entries
// are nil.
func (s *Session) Nonces() []*musig.PublicNonce {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*musig.PublicNonce(nil), s.nonces...)
}

// AggregatedNonce returns the aggregated nonce once all reveals are in.
func (s *Session) AggregatedNonce() *musig.AggregatedNonce {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggNonce
}

// SubmitCommitment records a round 1 commitment. It reports whether the
// submission was new; an identical duplicate returns false and no error.
func (s *Session) SubmitCommitment(id musig.ParticipantID, c musig.Commitment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.admit(id, Round1)
	if err != nil {
		return false, err
	}
	if prev := s.commitments[idx]; prev != nil {
		if prev.Equal(c) {
			metrics.RecordSubmission(Round1.String(), metrics.StatusDuplicate)
			return false, nil
		}
		return false, s.conflict(id, Round1)
	}
	if err := s.inPhase(id, Round1); err != nil {
		return false, err
	}

	s.commitments[idx] = &c
	if s.complete(Round1) {
		s.advance(eventCommitmentsComplete)
	}
	return true, nil
}

// SubmitNonce records a round 2 nonce reveal after checking it against the
// participant's commitment. A mismatch aborts the session.
func (s *Session) SubmitNonce(id musig.ParticipantID, n *musig.PublicNonce) (bool, error) {
	if n == nil || n.R1 == nil || n.R2 == nil {
		return false, fmt.Errorf("participant %d: missing nonce", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.admit(id, Round2)
	if err != nil {
		return false, err
	}
	if prev := s.nonces[idx]; prev != nil {
		if prev.Equal(n) {
			metrics.RecordSubmission(Round2.String(), metrics.StatusDuplicate)
			return false, nil
		}
		return false, s.conflict(id, Round2)
	}
	if err := s.inPhase(id, Round2); err != nil {
		return false, err
	}

	if err := s.musig.VerifyCommitment(s.id, id, n, *s.commitments[idx]); err != nil {
		s.abort(err)
		return false, err
	}
	s.nonces[idx] = n

	if s.complete(Round2) {
		ids := make([]musig.ParticipantID, len(s.participants))
		for i, p := range s.participants {
			ids[i] = p.ID
		}
		agg, err := s.musig.AggregateNonces(s.keyCtx, s.message, s.nonces, ids)
		if err != nil {
			s.abort(err)
			return true, err
		}
		s.aggNonce = agg
		s.advance(eventNoncesComplete)
	}
	return true, nil
}

// SubmitPartial records a round 3 partial signature. When the last one
// arrives the signature is aggregated and verified; on failure every
// partial is checked individually and the session aborts naming the first
// offender.
func (s *Session) SubmitPartial(id musig.ParticipantID, partial group.Scalar) (bool, error) {
	if partial == nil {
		return false, fmt.Errorf("participant %d: missing partial signature", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.admit(id, Round3)
	if err != nil {
		return false, err
	}
	if prev := s.partials[idx]; prev != nil {
		if prev.Equal(partial) {
			metrics.RecordSubmission(Round3.String(), metrics.StatusDuplicate)
			return false, nil
		}
		return false, s.conflict(id, Round3)
	}
	if err := s.inPhase(id, Round3); err != nil {
		return false, err
	}

	s.partials[idx] = partial
	if s.complete(Round3) {
		s.advance(eventPartialsComplete)
		if err := s.finalize(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Cancel aborts a non-terminal session with ErrSessionCancelled.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.IsTerminal() {
		s.abort(ErrSessionCancelled)
	}
}

// Report aborts the session on behalf of participant id, which hit reason
// locally and cannot continue. The abort is attributed to id. Reports for
// a terminal session are ignored.
func (s *Session) Report(id musig.ParticipantID, reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	if s.phase.IsTerminal() {
		return nil
	}
	s.abort(&musig.ParticipantError{Participant: id, Err: reason})
	return nil
}

// checkDeadline aborts the session with ErrSessionTimeout when its phase
// deadline has passed. It reports whether it did so.
func (s *Session) checkDeadline(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(now)
}

func (s *Session) expireLocked(now time.Time) bool {
	if s.phase.IsTerminal() || now.Before(s.deadline) {
		return false
	}
	s.abort(fmt.Errorf("%w: %s after %s", musig.ErrSessionTimeout, s.phase, s.timeout))
	return true
}

// drainTransitions returns and clears the phases entered since the last
// call.
func (s *Session) drainTransitions() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.transitions
	s.transitions = nil
	return out
}

// admit runs the checks common to every submission: deadline, membership
// and terminal state.
func (s *Session) admit(id musig.ParticipantID, r Round) (int, error) {
	if s.expireLocked(s.clock.Now()) {
		metrics.RecordSubmission(r.String(), metrics.StatusRejected)
		return -1, s.reason
	}
	idx, ok := s.index[id]
	if !ok {
		metrics.RecordSubmission(r.String(), metrics.StatusRejected)
		return -1, fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	if s.phase == PhaseAborted {
		metrics.RecordSubmission(r.String(), metrics.StatusRejected)
		return -1, fmt.Errorf("%w: %w", ErrSessionAborted, s.reason)
	}
	return idx, nil
}

// inPhase rejects a new submission for round r outside its phase. The
// session is left untouched.
func (s *Session) inPhase(id musig.ParticipantID, r Round) error {
	if s.phase != acceptingPhase(r) {
		metrics.RecordSubmission(r.String(), metrics.StatusRejected)
		s.logger.Debug("out-of-order submission",
			"participant", id, "round", int(r), "phase", s.phase.String())
		return fmt.Errorf("participant %d round %d in phase %s: %w", id, r, s.phase, musig.ErrOutOfOrderMessage)
	}
	metrics.RecordSubmission(r.String(), metrics.StatusAccepted)
	return nil
}

// conflict handles a second, different submission for the same round.
// A session still in progress aborts; a signed session is left alone.
func (s *Session) conflict(id musig.ParticipantID, r Round) error {
	metrics.RecordSubmission(r.String(), metrics.StatusRejected)
	err := &musig.ParticipantError{
		Participant: id,
		Err:         fmt.Errorf("%w in round %d", ErrConflictingSubmission, r),
	}
	if !s.phase.IsTerminal() {
		s.abort(err)
	}
	return err
}

func (s *Session) complete(r Round) bool {
	for i := range s.participants {
		switch r {
		case Round1:
			if s.commitments[i] == nil {
				return false
			}
		case Round2:
			if s.nonces[i] == nil {
				return false
			}
		case Round3:
			if s.partials[i] == nil {
				return false
			}
		}
	}
	return true
}

func (s *Session) finalize() error {
	sig := s.musig.Aggregate(s.partials, s.aggNonce.R)
	if s.musig.Verify(sig, s.keyCtx.AggregatedKey, s.message) {
		s.signature = sig
		s.advance(eventVerified)
		return nil
	}

	bad, err := s.musig.FindInvalidPartials(s.keyCtx, s.aggNonce, s.message, s.partials)
	if err == nil && len(bad) > 0 {
		err = &musig.ParticipantError{
			Participant: s.participants[bad[0]].ID,
			Err:         musig.ErrAggregationVerificationFailed,
		}
	} else {
		err = musig.ErrAggregationVerificationFailed
	}
	s.abort(err)
	return err
}

// advance applies a non-abort event. The transition is always valid at
// the call sites, so an error indicates a programming mistake.
func (s *Session) advance(ev event) {
	next, err := transition(s.phase, ev)
	if err != nil {
		panic(fmt.Sprintf("session: %v", err))
	}
	s.enter(next)
}

func (s *Session) abort(reason error) {
	next, err := transition(s.phase, eventAbort)
	if err != nil {
		return
	}
	s.reason = reason
	if id, ok := musig.Offender(reason); ok {
		s.offender = id
		s.hasOffender = true
	}
	s.wipe()
	s.enter(next)
}

// wipe drops collected round data once it can no longer be used.
func (s *Session) wipe() {
	for i := range s.partials {
		s.partials[i] = nil
	}
}

func (s *Session) enter(next Phase) {
	now := s.clock.Now()
	prev := s.phase
	metrics.RecordPhase(prev.String(), now.Sub(s.phaseStarted).Seconds())

	s.phase = next
	s.phaseStarted = now
	s.deadline = now.Add(s.timeout)
	s.transitions = append(s.transitions, next)

	attrs := []any{"from", prev.String(), "to", next.String()}
	switch next {
	case PhaseAborted:
		attrs = append(attrs, "reason", s.reason.Error())
		if s.hasOffender {
			attrs = append(attrs, "offender", s.offender)
		}
		s.logger.Warn("session aborted", attrs...)
		metrics.RecordSession(metrics.ResultAborted, abortLabel(s.reason))
	case PhaseSigned:
		s.logger.Info("session signed", attrs...)
		metrics.RecordSession(metrics.ResultSigned, "")
	default:
		s.logger.Debug("phase transition", attrs...)
	}
	if next.IsTerminal() {
		metrics.SessionClosed(s.counted)
		close(s.done)
	}
}

// abortLabel maps an abort reason onto a bounded metrics label.
func abortLabel(err error) string {
	switch {
	case errors.Is(err, musig.ErrSessionTimeout):
		return "timeout"
	case errors.Is(err, musig.ErrCommitmentMismatch):
		return "commitment_mismatch"
	case errors.Is(err, ErrConflictingSubmission):
		return "conflicting_submission"
	case errors.Is(err, musig.ErrAggregationVerificationFailed):
		return "verification_failed"
	case errors.Is(err, musig.ErrDegenerateNonce):
		return "degenerate_nonce"
	case errors.Is(err, ErrSessionCancelled):
		return "cancelled"
	case errors.Is(err, musig.ErrNonceAlreadyConsumed):
		return "nonce_reuse"
	case errors.Is(err, ErrParticipantAborted):
		return "participant_abort"
	default:
		return "other"
	}
}
