package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/musig"
	"github.com/f3rmion/musig2/transport"
	"github.com/f3rmion/musig2/wire"
)

// Relay connects a [Coordinator] to a transport. It feeds participant
// messages into the coordinator and broadcasts the result of every phase
// transition back to the participants. A participant that cannot continue
// sends an Abort naming itself, which aborts the session.
type Relay struct {
	coord       *Coordinator
	tr          transport.Transport
	codec       *wire.Codec
	name        string
	inbox       <-chan transport.Envelope
	logger      *slog.Logger
	sendTimeout time.Duration
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the relay logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

// WithSendTimeout bounds each broadcast send.
func WithSendTimeout(d time.Duration) RelayOption {
	return func(r *Relay) { r.sendTimeout = d }
}

// NewRelay creates a relay listening on [transport.CoordinatorName]. The
// inbox is registered immediately so participants can reply before Run
// starts.
func NewRelay(coord *Coordinator, tr transport.Transport, opts ...RelayOption) *Relay {
	r := &Relay{
		coord:       coord,
		tr:          tr,
		codec:       wire.NewCodec(coord.MuSig().Group()),
		name:        transport.CoordinatorName,
		logger:      logging.Discard(),
		sendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.inbox = tr.Inbox(r.name)
	coord.Observe(r.onPhase)
	return r
}

// Open creates a session and sends SessionStart to every participant.
func (r *Relay) Open(ctx context.Context, participants []musig.Participant, message []byte) (Handle, error) {
	h, err := r.coord.CreateSession(participants, message)
	if err != nil {
		return Handle{}, err
	}
	s, err := r.coord.Session(h)
	if err != nil {
		return Handle{}, err
	}

	start := &wire.SessionStart{
		SessionID:    s.ID(),
		Participants: s.Participants(),
		Message:      s.Message(),
	}
	if err := r.broadcast(ctx, s, start); err != nil {
		_ = r.coord.Cancel(h)
		return Handle{}, err
	}
	return h, nil
}

// Run processes inbound messages until ctx is done or the inbox closes.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-r.inbox:
			if !ok {
				return nil
			}
			r.handle(env)
		}
	}
}

func (r *Relay) handle(env transport.Envelope) {
	msg, err := r.codec.Decode(env.Payload)
	if err != nil {
		r.logger.Warn("dropping undecodable message", "from", env.From, "error", err)
		return
	}
	h, err := r.coord.Lookup(msg.Session())
	if err != nil {
		r.logger.Warn("message for unknown session", "from", env.From, "session", msg.Session().String())
		return
	}

	var id musig.ParticipantID
	switch m := msg.(type) {
	case *wire.Commitment:
		id = m.Participant
	case *wire.NonceReveal:
		id = m.Participant
	case *wire.PartialSig:
		id = m.Participant
	case *wire.Abort:
		if !m.HasOffender {
			r.logger.Warn("participant abort without reporter", "from", env.From)
			return
		}
		id = m.Offender
	default:
		r.logger.Warn("unexpected message kind from participant", "from", env.From, "kind", msg.Kind().String())
		return
	}
	if env.From != transport.ParticipantName(id) {
		r.logger.Warn("sender does not match participant id", "from", env.From, "participant", id)
		return
	}

	switch m := msg.(type) {
	case *wire.Commitment:
		err = r.coord.SubmitRound1(h, m.Participant, m.Commitment)
	case *wire.NonceReveal:
		err = r.coord.SubmitRound2(h, m.Participant, m.Nonce)
	case *wire.PartialSig:
		err = r.coord.SubmitRound3(h, m.Participant, m.S)
	case *wire.Abort:
		err = r.coord.ReportAbort(h, m.Offender, reportedReason(m.Reason))
	}
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, musig.ErrOutOfOrderMessage) || errors.Is(err, ErrSessionAborted) {
			level = slog.LevelDebug
		}
		r.logger.Log(context.Background(), level, "submission rejected",
			"session", h.String(), "participant", id, "kind", msg.Kind().String(), "error", err)
	}
}

// reportedReasons are the failures a participant may report that keep
// their sentinel across the wire.
var reportedReasons = []error{
	musig.ErrNonceAlreadyConsumed,
	musig.ErrCommitmentMismatch,
	musig.ErrDegenerateNonce,
	musig.ErrInvalidKeyMaterial,
}

func reportedReason(reason string) error {
	for _, err := range reportedReasons {
		if strings.Contains(reason, err.Error()) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrParticipantAborted, reason)
}

// onPhase turns a phase transition into the matching broadcast.
func (r *Relay) onPhase(h Handle, s *Session, phase Phase) {
	var msg wire.Message
	switch phase {
	case PhaseCommitmentsCollected:
		set := &wire.CommitmentSet{SessionID: s.ID()}
		commitments := s.Commitments()
		for i, p := range s.Participants() {
			set.Commitments = append(set.Commitments, wire.Commitment{
				SessionID:   s.ID(),
				Participant: p.ID,
				Commitment:  commitments[i],
			})
		}
		msg = set
	case PhaseNoncesRevealed:
		set := &wire.NonceSet{SessionID: s.ID()}
		nonces := s.Nonces()
		for i, p := range s.Participants() {
			set.Nonces = append(set.Nonces, wire.NonceReveal{
				SessionID:   s.ID(),
				Participant: p.ID,
				Nonce:       nonces[i],
			})
		}
		msg = set
	case PhaseSigned:
		msg = &wire.FinalSignature{SessionID: s.ID(), Signature: s.Result().Signature}
	case PhaseAborted:
		res := s.Result()
		abort := &wire.Abort{
			SessionID:   s.ID(),
			Offender:    res.Offender,
			HasOffender: res.HasOffender,
		}
		if res.Reason != nil {
			abort.Reason = res.Reason.Error()
		}
		msg = abort
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()
	if err := r.broadcast(ctx, s, msg); err != nil {
		r.logger.Error("broadcast failed", "session", h.String(), "kind", msg.Kind().String(), "error", err)
	}
}

func (r *Relay) broadcast(ctx context.Context, s *Session, msg wire.Message) error {
	payload, err := r.codec.Encode(msg)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range s.Participants() {
		err := r.tr.Send(ctx, transport.Envelope{
			SessionID: s.ID(),
			From:      r.name,
			To:        transport.ParticipantName(p.ID),
			Kind:      msg.Kind(),
			Payload:   payload,
			TraceID:   s.TraceID(),
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
