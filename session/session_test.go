package session

import (
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/musig"
	"github.com/f3rmion/musig2/secp256k1"
)

type fixture struct {
	m            *musig.MuSig
	clock        *clock.Mock
	coord        *Coordinator
	participants []musig.Participant
	keys         []*musig.KeyPair
	signers      []*musig.Signer
	message      []byte
}

func newFixture(t *testing.T, n int, opts ...CoordinatorOption) *fixture {
	t.Helper()
	m := musig.New(secp256k1.New())
	mock := clock.NewMock()

	opts = append([]CoordinatorOption{WithClock(mock), WithPhaseTimeout(10 * time.Second)}, opts...)
	coord, err := NewCoordinator(m, opts...)
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}

	f := &fixture{m: m, clock: mock, coord: coord, message: []byte("coordinated message")}
	for i := 0; i < n; i++ {
		kp, err := m.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		id := musig.ParticipantID(i + 1)
		f.keys = append(f.keys, kp)
		f.participants = append(f.participants, musig.Participant{ID: id, PublicKey: kp.Public})

		s, err := m.NewSigner(rand.Reader, id, kp)
		if err != nil {
			t.Fatal(err)
		}
		f.signers = append(f.signers, s)
	}
	return f
}

func (f *fixture) create(t *testing.T) (Handle, *Session) {
	t.Helper()
	h, err := f.coord.CreateSession(f.participants, f.message)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	s, err := f.coord.Session(h)
	if err != nil {
		t.Fatal(err)
	}
	return h, s
}

func (f *fixture) round1(t *testing.T, h Handle) {
	t.Helper()
	for _, s := range f.signers {
		if err := f.coord.SubmitRound1(h, s.ID(), s.Commitment(h.ID)); err != nil {
			t.Fatalf("participant %d round 1: %v", s.ID(), err)
		}
	}
}

func (f *fixture) round2(t *testing.T, h Handle) {
	t.Helper()
	for _, s := range f.signers {
		if err := f.coord.SubmitRound2(h, s.ID(), s.PublicNonce()); err != nil {
			t.Fatalf("participant %d round 2: %v", s.ID(), err)
		}
	}
}

func (f *fixture) partials(t *testing.T, sess *Session) []group.Scalar {
	t.Helper()
	out := make([]group.Scalar, len(f.signers))
	for i, s := range f.signers {
		p, err := s.Sign(sess.KeyAggContext(), sess.AggregatedNonce(), f.message)
		if err != nil {
			t.Fatalf("participant %d failed to sign: %v", s.ID(), err)
		}
		out[i] = p
	}
	return out
}

func TestCoordinatorCeremony(t *testing.T) {
	f := newFixture(t, 3)

	var seen []Phase
	f.coord.Observe(func(_ Handle, _ *Session, p Phase) {
		seen = append(seen, p)
	})

	h, sess := f.create(t)
	if sess.ID() != f.m.SessionID(musig.PublicKeys(f.participants), f.message) {
		t.Error("session id must be derived from keys and message")
	}

	// Round 1: commitments
	f.round1(t, h)
	if got := sess.Phase(); got != PhaseCommitmentsCollected {
		t.Fatalf("phase = %s, want %s", got, PhaseCommitmentsCollected)
	}

	// Round 2: reveals
	f.round2(t, h)
	if got := sess.Phase(); got != PhaseNoncesRevealed {
		t.Fatalf("phase = %s, want %s", got, PhaseNoncesRevealed)
	}

	// Round 3: partial signatures
	for i, p := range f.partials(t, sess) {
		if err := f.coord.SubmitRound3(h, f.signers[i].ID(), p); err != nil {
			t.Fatalf("participant %d round 3: %v", i+1, err)
		}
	}

	res, err := f.coord.GetSignature(h)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSigned {
		t.Fatalf("status = %s (%v), want signed", res.Status, res.Reason)
	}
	if !f.m.Verify(res.Signature, sess.KeyAggContext().AggregatedKey, f.message) {
		t.Error("aggregated signature does not verify")
	}

	want := []Phase{PhaseCommitmentsCollected, PhaseNoncesRevealed, PhasePartialSignaturesCollected, PhaseSigned}
	if len(seen) != len(want) {
		t.Fatalf("observed phases %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("observed phase %d = %s, want %s", i, seen[i], want[i])
		}
	}

	select {
	case <-sess.Done():
	default:
		t.Error("Done must be closed after signing")
	}
}

func TestOutOfOrderMessages(t *testing.T) {
	t.Run("Round2BeforeAllCommitments", func(t *testing.T) {
		f := newFixture(t, 2)
		h, sess := f.create(t)

		s1 := f.signers[0]
		if err := f.coord.SubmitRound1(h, s1.ID(), s1.Commitment(h.ID)); err != nil {
			t.Fatal(err)
		}
		err := f.coord.SubmitRound2(h, s1.ID(), s1.PublicNonce())
		if !errors.Is(err, musig.ErrOutOfOrderMessage) {
			t.Fatalf("expected ErrOutOfOrderMessage, got %v", err)
		}
		if sess.Phase() != PhaseCreated {
			t.Errorf("out-of-order message must not change the phase, got %s", sess.Phase())
		}
	})

	t.Run("Round2WithoutOwnCommitment", func(t *testing.T) {
		f := newFixture(t, 2)
		h, sess := f.create(t)

		s1, s2 := f.signers[0], f.signers[1]
		if err := f.coord.SubmitRound1(h, s1.ID(), s1.Commitment(h.ID)); err != nil {
			t.Fatal(err)
		}
		err := f.coord.SubmitRound2(h, s2.ID(), s2.PublicNonce())
		if !errors.Is(err, musig.ErrOutOfOrderMessage) {
			t.Fatalf("expected ErrOutOfOrderMessage, got %v", err)
		}
		if sess.Phase() != PhaseCreated {
			t.Errorf("phase = %s, want %s", sess.Phase(), PhaseCreated)
		}
		if nonces := sess.Nonces(); nonces[1] != nil {
			t.Error("rejected reveal must not be recorded")
		}

		// The ceremony still completes once the commitment arrives.
		if err := f.coord.SubmitRound1(h, s2.ID(), s2.Commitment(h.ID)); err != nil {
			t.Fatal(err)
		}
		f.round2(t, h)
		if sess.Phase() != PhaseNoncesRevealed {
			t.Errorf("phase = %s, want %s", sess.Phase(), PhaseNoncesRevealed)
		}
	})

	t.Run("Round3BeforeReveals", func(t *testing.T) {
		f := newFixture(t, 2)
		h, sess := f.create(t)
		f.round1(t, h)

		one := f.m.Group().ReduceScalar([]byte{1})
		err := f.coord.SubmitRound3(h, 1, one)
		if !errors.Is(err, musig.ErrOutOfOrderMessage) {
			t.Fatalf("expected ErrOutOfOrderMessage, got %v", err)
		}
		if sess.Phase() != PhaseCommitmentsCollected {
			t.Errorf("phase = %s, want %s", sess.Phase(), PhaseCommitmentsCollected)
		}
	})
}

func TestDuplicateSubmissions(t *testing.T) {
	t.Run("IdenticalIgnored", func(t *testing.T) {
		f := newFixture(t, 2)
		h, sess := f.create(t)
		f.round1(t, h)

		// Redelivery after the phase moved on is still a no-op.
		f.round1(t, h)
		f.round2(t, h)
		f.round2(t, h)

		if sess.Phase() != PhaseNoncesRevealed {
			t.Fatalf("phase = %s, want %s", sess.Phase(), PhaseNoncesRevealed)
		}
	})

	t.Run("ConflictingAborts", func(t *testing.T) {
		f := newFixture(t, 3)
		h, sess := f.create(t)

		s2 := f.signers[1]
		if err := f.coord.SubmitRound1(h, s2.ID(), s2.Commitment(h.ID)); err != nil {
			t.Fatal(err)
		}
		var other musig.Commitment
		other[0] = 1
		err := f.coord.SubmitRound1(h, s2.ID(), other)
		if !errors.Is(err, ErrConflictingSubmission) {
			t.Fatalf("expected ErrConflictingSubmission, got %v", err)
		}

		res := sess.Result()
		if res.Status != StatusAborted {
			t.Fatalf("status = %s, want aborted", res.Status)
		}
		if !res.HasOffender || res.Offender != s2.ID() {
			t.Errorf("offender = %d (%v), want %d", res.Offender, res.HasOffender, s2.ID())
		}

		err = f.coord.SubmitRound1(h, 1, f.signers[0].Commitment(h.ID))
		if !errors.Is(err, ErrSessionAborted) || !errors.Is(err, ErrConflictingSubmission) {
			t.Errorf("submission to aborted session: %v", err)
		}
	})
}

func TestConflictingRound1AfterCollection(t *testing.T) {
	f := newFixture(t, 2)
	h, sess := f.create(t)
	f.round1(t, h)

	var other musig.Commitment
	other[0] = 7
	err := f.coord.SubmitRound1(h, 1, other)
	if !errors.Is(err, ErrConflictingSubmission) {
		t.Fatalf("expected ErrConflictingSubmission, got %v", err)
	}
	if sess.Phase() != PhaseAborted {
		t.Fatalf("phase = %s, want %s", sess.Phase(), PhaseAborted)
	}
	res := sess.Result()
	if !res.HasOffender || res.Offender != 1 {
		t.Errorf("offender = %d (%v), want 1", res.Offender, res.HasOffender)
	}
}

func TestReportAbort(t *testing.T) {
	f := newFixture(t, 2)
	h, sess := f.create(t)
	f.round1(t, h)

	if err := f.coord.ReportAbort(h, 9, musig.ErrNonceAlreadyConsumed); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}
	if sess.Phase() != PhaseCommitmentsCollected {
		t.Fatalf("report from a stranger changed the phase to %s", sess.Phase())
	}

	if err := f.coord.ReportAbort(h, 2, musig.ErrNonceAlreadyConsumed); err != nil {
		t.Fatal(err)
	}
	res := sess.Result()
	if res.Status != StatusAborted || !errors.Is(res.Reason, musig.ErrNonceAlreadyConsumed) {
		t.Fatalf("result = %s (%v), want aborted with ErrNonceAlreadyConsumed", res.Status, res.Reason)
	}
	if !res.HasOffender || res.Offender != 2 {
		t.Errorf("offender = %d (%v), want 2", res.Offender, res.HasOffender)
	}

	// A second report leaves the first reason in place.
	if err := f.coord.ReportAbort(h, 1, ErrParticipantAborted); err != nil {
		t.Fatal(err)
	}
	if got := sess.Result(); got.Offender != 2 {
		t.Errorf("offender changed to %d", got.Offender)
	}
}

func TestCommitmentMismatchAborts(t *testing.T) {
	f := newFixture(t, 2)
	h, _ := f.create(t)
	f.round1(t, h)

	// Participant 2 reveals nonces it never committed to.
	impostor, err := f.m.NewSigner(rand.Reader, 2, f.keys[1])
	if err != nil {
		t.Fatal(err)
	}
	err = f.coord.SubmitRound2(h, 2, impostor.PublicNonce())
	if !errors.Is(err, musig.ErrCommitmentMismatch) {
		t.Fatalf("expected ErrCommitmentMismatch, got %v", err)
	}

	res, err := f.coord.GetSignature(h)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAborted || !errors.Is(res.Reason, musig.ErrCommitmentMismatch) {
		t.Fatalf("result = %+v, want commitment mismatch abort", res)
	}
	if !res.HasOffender || res.Offender != 2 {
		t.Errorf("offender = %d, want 2", res.Offender)
	}
}

func TestAggregationFailureAttribution(t *testing.T) {
	f := newFixture(t, 3)
	h, sess := f.create(t)
	f.round1(t, h)
	f.round2(t, h)

	partials := f.partials(t, sess)
	one := f.m.Group().ReduceScalar([]byte{1})
	partials[1] = f.m.Group().NewScalar().Add(partials[1], one)

	var err error
	for i, p := range partials {
		err = f.coord.SubmitRound3(h, f.signers[i].ID(), p)
	}
	if !errors.Is(err, musig.ErrAggregationVerificationFailed) {
		t.Fatalf("expected ErrAggregationVerificationFailed, got %v", err)
	}

	res := sess.Result()
	if res.Status != StatusAborted {
		t.Fatalf("status = %s, want aborted", res.Status)
	}
	if !res.HasOffender || res.Offender != 2 {
		t.Errorf("offender = %d (%v), want 2", res.Offender, res.HasOffender)
	}
}

func TestTimeout(t *testing.T) {
	t.Run("LazyCheck", func(t *testing.T) {
		f := newFixture(t, 2)
		h, sess := f.create(t)

		s1 := f.signers[0]
		if err := f.coord.SubmitRound1(h, s1.ID(), s1.Commitment(h.ID)); err != nil {
			t.Fatal(err)
		}
		f.clock.Add(11 * time.Second)

		s2 := f.signers[1]
		err := f.coord.SubmitRound1(h, s2.ID(), s2.Commitment(h.ID))
		if !errors.Is(err, musig.ErrSessionTimeout) {
			t.Fatalf("expected ErrSessionTimeout, got %v", err)
		}
		if res := sess.Result(); res.Status != StatusAborted || res.HasOffender {
			t.Errorf("result = %+v, want abort without offender", res)
		}
	})

	t.Run("DeadlineResetsPerPhase", func(t *testing.T) {
		f := newFixture(t, 2)
		h, sess := f.create(t)

		f.clock.Add(9 * time.Second)
		f.round1(t, h)
		f.clock.Add(9 * time.Second)

		res, err := f.coord.GetSignature(h)
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusPending {
			t.Fatalf("status = %s (%v), want pending", res.Status, res.Reason)
		}
		if sess.Phase() != PhaseCommitmentsCollected {
			t.Errorf("phase = %s", sess.Phase())
		}
	})

	t.Run("Watchdog", func(t *testing.T) {
		f := newFixture(t, 2, WithSweepInterval(time.Second))
		f.coord.Start(t.Context())
		defer f.coord.Stop()

		_, sess := f.create(t)
		f.clock.Add(12 * time.Second)

		select {
		case <-sess.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("watchdog did not abort the session")
		}
		if res := sess.Result(); !errors.Is(res.Reason, musig.ErrSessionTimeout) {
			t.Errorf("reason = %v, want timeout", res.Reason)
		}
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 2)
	h, sess := f.create(t)

	if err := f.coord.Cancel(h); err != nil {
		t.Fatal(err)
	}
	res := sess.Result()
	if res.Status != StatusAborted || !errors.Is(res.Reason, ErrSessionCancelled) {
		t.Fatalf("result = %+v, want cancelled", res)
	}

	// Cancelling again keeps the original reason.
	if err := f.coord.Cancel(h); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(sess.Result().Reason, ErrSessionCancelled) {
		t.Error("abort reason changed")
	}
}

func TestSessionReplacement(t *testing.T) {
	f := newFixture(t, 2)
	h1, _ := f.create(t)

	if _, err := f.coord.CreateSession(f.participants, f.message); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	if err := f.coord.Cancel(h1); err != nil {
		t.Fatal(err)
	}
	h2, err := f.coord.CreateSession(f.participants, f.message)
	if err != nil {
		t.Fatalf("terminal session should be replaceable: %v", err)
	}
	if h1.ID != h2.ID || h1 == h2 {
		t.Errorf("replacement should share the id but not the handle: %s vs %s", h1, h2)
	}
	if _, err := f.coord.Session(h1); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("stale handle: expected ErrUnknownSession, got %v", err)
	}
	if got, _ := f.coord.Lookup(h1.ID); got != h2 {
		t.Errorf("lookup = %s, want %s", got, h2)
	}
}

func TestUnknownParticipant(t *testing.T) {
	f := newFixture(t, 2)
	h, sess := f.create(t)

	err := f.coord.SubmitRound1(h, 99, musig.Commitment{})
	if !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}
	if sess.Phase() != PhaseCreated {
		t.Error("unknown participant must not affect the session")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, 2)

	t.Run("DuplicateID", func(t *testing.T) {
		ps := []musig.Participant{
			{ID: 1, PublicKey: f.keys[0].Public},
			{ID: 1, PublicKey: f.keys[1].Public},
		}
		if _, err := f.coord.CreateSession(ps, f.message); !errors.Is(err, musig.ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		ps := []musig.Participant{
			{ID: 1, PublicKey: f.keys[0].Public},
			{ID: 2, PublicKey: f.keys[0].Public},
		}
		if _, err := f.coord.CreateSession(ps, f.message); !errors.Is(err, musig.ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})

	t.Run("Single", func(t *testing.T) {
		if _, err := f.coord.CreateSession(f.participants[:1], f.message); !errors.Is(err, musig.ErrInvalidKeyMaterial) {
			t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
		}
	})
}

func TestKeyContextCache(t *testing.T) {
	f := newFixture(t, 2)

	h1, err := f.coord.CreateSession(f.participants, []byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := f.coord.CreateSession(f.participants, []byte("second"))
	if err != nil {
		t.Fatal(err)
	}
	if h1.ID == h2.ID {
		t.Fatal("different messages must give different session ids")
	}

	s1, _ := f.coord.Session(h1)
	s2, _ := f.coord.Session(h2)
	if s1.KeyAggContext() != s2.KeyAggContext() {
		t.Error("key aggregation result should be served from the cache")
	}
}

func TestRetention(t *testing.T) {
	f := newFixture(t, 2, WithRetention(time.Minute))
	h, _ := f.create(t)
	if err := f.coord.Cancel(h); err != nil {
		t.Fatal(err)
	}

	f.coord.Sweep()
	if f.coord.Len() != 1 {
		t.Fatal("terminal session should be retained")
	}
	f.clock.Add(2 * time.Minute)
	f.coord.Sweep()
	if f.coord.Len() != 0 {
		t.Error("terminal session should be dropped after retention")
	}
	if _, err := f.coord.GetSignature(h); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestSignedSessionIgnoresDuplicates(t *testing.T) {
	f := newFixture(t, 2)
	h, sess := f.create(t)
	f.round1(t, h)
	f.round2(t, h)
	partials := f.partials(t, sess)
	for i, p := range partials {
		if err := f.coord.SubmitRound3(h, f.signers[i].ID(), p); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.coord.SubmitRound3(h, 1, partials[0]); err != nil {
		t.Errorf("identical duplicate after signing: %v", err)
	}
	if sess.Result().Status != StatusSigned {
		t.Error("session must stay signed")
	}
}

func TestTransition(t *testing.T) {
	valid := []struct {
		from Phase
		ev   event
		to   Phase
	}{
		{PhaseCreated, eventCommitmentsComplete, PhaseCommitmentsCollected},
		{PhaseCommitmentsCollected, eventNoncesComplete, PhaseNoncesRevealed},
		{PhaseNoncesRevealed, eventPartialsComplete, PhasePartialSignaturesCollected},
		{PhasePartialSignaturesCollected, eventVerified, PhaseSigned},
		{PhaseCreated, eventAbort, PhaseAborted},
		{PhaseNoncesRevealed, eventAbort, PhaseAborted},
	}
	for _, tt := range valid {
		got, err := transition(tt.from, tt.ev)
		if err != nil || got != tt.to {
			t.Errorf("transition(%s, %d) = %s, %v; want %s", tt.from, tt.ev, got, err, tt.to)
		}
	}

	invalid := []struct {
		from Phase
		ev   event
	}{
		{PhaseCreated, eventNoncesComplete},
		{PhaseCommitmentsCollected, eventCommitmentsComplete},
		{PhaseSigned, eventAbort},
		{PhaseAborted, eventCommitmentsComplete},
	}
	for _, tt := range invalid {
		got, err := transition(tt.from, tt.ev)
		if !errors.Is(err, musig.ErrOutOfOrderMessage) || got != tt.from {
			t.Errorf("transition(%s, %d) = %s, %v; want rejection", tt.from, tt.ev, got, err)
		}
	}
}
