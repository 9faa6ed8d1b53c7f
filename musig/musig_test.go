package musig

import (
	"crypto/rand"
	"errors"
	"fmt"
	"testing"

	"github.com/f3rmion/musig2/bjj"
	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/secp256k1"
)

func groups() map[string]group.Group {
	return map[string]group.Group{
		"secp256k1":  secp256k1.New(),
		"babyjubjub": bjj.New(),
	}
}

func hashers() map[string]Hasher {
	return map[string]Hasher{
		"blake2b": NewBlake2bHasher(),
		"sha256":  &SHA256Hasher{},
	}
}

// seededKey builds a deterministic key whose secret is the integer seed.
func seededKey(t *testing.T, m *MuSig, seed byte) *KeyPair {
	t.Helper()
	secret := make([]byte, m.Group().ScalarLen())
	secret[len(secret)-1] = seed
	kp, err := m.KeyFromSecret(secret)
	if err != nil {
		t.Fatalf("seeded key %d: %v", seed, err)
	}
	return kp
}

func randomKeys(t *testing.T, m *MuSig, n int) []*KeyPair {
	t.Helper()
	keys := make([]*KeyPair, n)
	for i := range keys {
		kp, err := m.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		keys[i] = kp
	}
	return keys
}

type ceremony struct {
	keyCtx   *KeyAggContext
	aggNonce *AggregatedNonce
	signers  []*Signer
	partials []group.Scalar
}

// runCeremony walks the three rounds by hand and returns every
// intermediate value.
func runCeremony(t *testing.T, m *MuSig, keys []*KeyPair, msg []byte) *ceremony {
	t.Helper()

	pubs := make([]group.Point, len(keys))
	for i, k := range keys {
		pubs[i] = k.Public
	}
	keyCtx, err := m.AggregateKeys(pubs)
	if err != nil {
		t.Fatalf("aggregate keys: %v", err)
	}
	sid := m.SessionID(pubs, msg)

	// Round 1: commitments
	signers := make([]*Signer, len(keys))
	commitments := make([]Commitment, len(keys))
	for i, k := range keys {
		s, err := m.NewSigner(rand.Reader, ParticipantID(i+1), k)
		if err != nil {
			t.Fatalf("signer %d: %v", i+1, err)
		}
		signers[i] = s
		commitments[i] = s.Commitment(sid)
	}

	// Round 2: reveal and verify
	nonces := make([]*PublicNonce, len(keys))
	for i, s := range signers {
		if err := m.VerifyCommitment(sid, s.ID(), s.PublicNonce(), commitments[i]); err != nil {
			t.Fatalf("commitment %d: %v", i+1, err)
		}
		nonces[i] = s.PublicNonce()
	}
	aggNonce, err := m.AggregateNonces(keyCtx, msg, nonces, nil)
	if err != nil {
		t.Fatalf("aggregate nonces: %v", err)
	}

	// Round 3: partial signatures
	partials := make([]group.Scalar, len(keys))
	for i, s := range signers {
		p, err := s.Sign(keyCtx, aggNonce, msg)
		if err != nil {
			t.Fatalf("signer %d failed to sign: %v", i+1, err)
		}
		partials[i] = p
	}

	return &ceremony{keyCtx: keyCtx, aggNonce: aggNonce, signers: signers, partials: partials}
}

func TestSignAndVerify(t *testing.T) {
	for gName, g := range groups() {
		for hName, h := range hashers() {
			for _, n := range []int{2, 3, 5} {
				t.Run(fmt.Sprintf("%s/%s/n=%d", gName, hName, n), func(t *testing.T) {
					m := NewWithHasher(g, h)
					msg := []byte("hello musig2")
					c := runCeremony(t, m, randomKeys(t, m, n), msg)

					sig := m.Aggregate(c.partials, c.aggNonce.R)
					if !m.Verify(sig, c.keyCtx.AggregatedKey, msg) {
						t.Fatal("signature verification failed")
					}
					if m.Verify(sig, c.keyCtx.AggregatedKey, []byte("wrong message")) {
						t.Error("signature should not verify with wrong message")
					}
					if m.Verify(sig, c.keyCtx.Keys[0], msg) {
						t.Error("signature should not verify under an individual key")
					}
				})
			}
		}
	}
}

func TestKeyOrderingChangesAggregate(t *testing.T) {
	m := New(secp256k1.New())
	k1 := seededKey(t, m, 1)
	k2 := seededKey(t, m, 2)

	forward, err := m.AggregateKeys([]group.Point{k1.Public, k2.Public})
	if err != nil {
		t.Fatal(err)
	}
	reverse, err := m.AggregateKeys([]group.Point{k2.Public, k1.Public})
	if err != nil {
		t.Fatal(err)
	}

	if forward.ListHash == reverse.ListHash {
		t.Error("list hash should depend on key order")
	}
	if forward.AggregatedKey.Equal(reverse.AggregatedKey) {
		t.Error("aggregated key should depend on key order")
	}
	if forward.Coefficients[0].Equal(reverse.Coefficients[1]) {
		t.Error("coefficient of k1 should change with the ordering")
	}
}

func TestAggregateKeysDeterministic(t *testing.T) {
	m := New(secp256k1.New())
	keys := []group.Point{seededKey(t, m, 7).Public, seededKey(t, m, 9).Public}

	a, err := m.AggregateKeys(keys)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.AggregateKeys(keys)
	if err != nil {
		t.Fatal(err)
	}
	if a.ListHash != b.ListHash || !a.AggregatedKey.Equal(b.AggregatedKey) {
		t.Error("key aggregation is not deterministic")
	}
	for i := range a.Coefficients {
		if !a.Coefficients[i].Equal(b.Coefficients[i]) {
			t.Errorf("coefficient %d differs between runs", i)
		}
	}
	if a.Coefficients[0].Equal(a.Coefficients[1]) {
		t.Error("different keys should have different coefficients")
	}
}

func TestAggregateKeysRejectsInvalidKeyMaterial(t *testing.T) {
	m := New(secp256k1.New())
	k1 := seededKey(t, m, 1)
	k2 := seededKey(t, m, 2)

	cases := map[string][]group.Point{
		"empty":     nil,
		"single":    {k1.Public},
		"duplicate": {k1.Public, k2.Public, k1.Public},
		"identity":  {k1.Public, m.Group().NewPoint()},
	}
	for name, keys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.AggregateKeys(keys)
			if !errors.Is(err, ErrInvalidKeyMaterial) {
				t.Errorf("expected ErrInvalidKeyMaterial, got %v", err)
			}
		})
	}
}

func TestCommitmentMismatch(t *testing.T) {
	m := New(secp256k1.New())
	kp := seededKey(t, m, 3)
	sid := m.SessionID([]group.Point{kp.Public}, []byte("msg"))

	s1, _ := m.NewSigner(rand.Reader, 1, kp)
	s2, _ := m.NewSigner(rand.Reader, 1, kp)

	// Commit to s1's nonces, reveal s2's.
	err := m.VerifyCommitment(sid, 1, s2.PublicNonce(), s1.Commitment(sid))
	if !errors.Is(err, ErrCommitmentMismatch) {
		t.Fatalf("expected ErrCommitmentMismatch, got %v", err)
	}
	if id, ok := Offender(err); !ok || id != 1 {
		t.Errorf("offender = %d, %v; want 1, true", id, ok)
	}

	// The commitment binds the participant id and the session.
	if err := m.VerifyCommitment(sid, 2, s1.PublicNonce(), s1.Commitment(sid)); err == nil {
		t.Error("commitment should not verify under another participant id")
	}
	var other SessionID
	other[0] = 1
	if err := m.VerifyCommitment(other, 1, s1.PublicNonce(), s1.Commitment(sid)); err == nil {
		t.Error("commitment should not verify in another session")
	}
}

func TestNonceReusePrevention(t *testing.T) {
	m := New(secp256k1.New())
	msg := []byte("test nonce reuse")
	c := runCeremony(t, m, randomKeys(t, m, 2), msg)

	signer := c.signers[0]
	if !signer.IsConsumed() {
		t.Fatal("signer should be consumed after signing")
	}

	t.Run("SameMessage", func(t *testing.T) {
		_, err := signer.Sign(c.keyCtx, c.aggNonce, msg)
		if !errors.Is(err, ErrNonceAlreadyConsumed) {
			t.Errorf("expected ErrNonceAlreadyConsumed, got %v", err)
		}
	})

	t.Run("DifferentMessage", func(t *testing.T) {
		_, err := signer.Sign(c.keyCtx, c.aggNonce, []byte("another message"))
		if !errors.Is(err, ErrNonceAlreadyConsumed) {
			t.Errorf("expected ErrNonceAlreadyConsumed, got %v", err)
		}
	})

	t.Run("PartialSignaturePrimitive", func(t *testing.T) {
		kp := seededKey(t, m, 7)
		sec, _, err := m.GenerateNonces(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		a := c.keyCtx.Coefficients[0]
		c1 := m.Group().ReduceScalar([]byte("challenge one"))
		c2 := m.Group().ReduceScalar([]byte("challenge two"))

		if _, err := m.ComputePartialSignature(kp.Secret, a, sec, c.aggNonce.B, c1); err != nil {
			t.Fatalf("first partial: %v", err)
		}
		_, err = m.ComputePartialSignature(kp.Secret, a, sec, c.aggNonce.B, c2)
		if !errors.Is(err, ErrNonceAlreadyConsumed) {
			t.Errorf("expected ErrNonceAlreadyConsumed, got %v", err)
		}
	})

	t.Run("Discarded", func(t *testing.T) {
		kp := seededKey(t, m, 5)
		s, _ := m.NewSigner(rand.Reader, 1, kp)
		s.Discard()
		_, err := s.Sign(c.keyCtx, c.aggNonce, msg)
		if !errors.Is(err, ErrNonceAlreadyConsumed) {
			t.Errorf("expected ErrNonceAlreadyConsumed, got %v", err)
		}
	})
}

func TestTamperedPartialSignature(t *testing.T) {
	m := New(secp256k1.New())
	msg := []byte("tamper")
	c := runCeremony(t, m, randomKeys(t, m, 3), msg)

	one := m.Group().ReduceScalar([]byte{1})
	c.partials[1] = m.Group().NewScalar().Add(c.partials[1], one)

	sig := m.Aggregate(c.partials, c.aggNonce.R)
	if m.Verify(sig, c.keyCtx.AggregatedKey, msg) {
		t.Fatal("tampered signature should not verify")
	}

	bad, err := m.FindInvalidPartials(c.keyCtx, c.aggNonce, msg, c.partials)
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 1 || bad[0] != 1 {
		t.Errorf("invalid partials = %v, want [1]", bad)
	}
}

func TestPartialSignaturesVerifyIndividually(t *testing.T) {
	m := New(bjj.New())
	msg := []byte("partials")
	c := runCeremony(t, m, randomKeys(t, m, 3), msg)

	bad, err := m.FindInvalidPartials(c.keyCtx, c.aggNonce, msg, c.partials)
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 0 {
		t.Errorf("honest partials flagged: %v", bad)
	}
}

func TestSeededEndToEnd(t *testing.T) {
	m := New(secp256k1.New())
	msg := []byte("fixed message m")
	keys := []*KeyPair{seededKey(t, m, 11), seededKey(t, m, 22)}

	first := runCeremony(t, m, keys, msg)
	second := runCeremony(t, m, keys, msg)

	for i := range first.keyCtx.Coefficients {
		if !first.keyCtx.Coefficients[i].Equal(second.keyCtx.Coefficients[i]) {
			t.Errorf("coefficient %d is not deterministic", i)
		}
	}

	sig1 := m.Aggregate(first.partials, first.aggNonce.R)
	sig2 := m.Aggregate(second.partials, second.aggNonce.R)
	if !m.Verify(sig1, first.keyCtx.AggregatedKey, msg) || !m.Verify(sig2, second.keyCtx.AggregatedKey, msg) {
		t.Fatal("signatures should verify")
	}
	if sig1.R.Equal(sig2.R) || sig1.S.Equal(sig2.S) {
		t.Error("fresh nonces should yield a different signature")
	}
}

func TestSignatureEncoding(t *testing.T) {
	for name, g := range groups() {
		t.Run(name, func(t *testing.T) {
			m := New(g)
			msg := []byte("encode me")
			sig, keyCtx, err := m.SignLocal(rand.Reader, randomKeys(t, m, 2), msg)
			if err != nil {
				t.Fatal(err)
			}

			if got, want := len(sig.Bytes()), g.PointLen()+g.ScalarLen(); got != want {
				t.Errorf("encoded length = %d, want %d", got, want)
			}

			parsed, err := m.ParseSignature(sig.Bytes())
			if err != nil {
				t.Fatal(err)
			}
			if !m.Verify(parsed, keyCtx.AggregatedKey, msg) {
				t.Error("parsed signature should verify")
			}
			if _, err := m.ParseSignature(sig.Bytes()[1:]); err == nil {
				t.Error("truncated signature should be rejected")
			}
		})
	}
}

func TestSignerRejectsForeignNonceSet(t *testing.T) {
	m := New(secp256k1.New())
	msg := []byte("foreign")
	keys := randomKeys(t, m, 2)
	c := runCeremony(t, m, keys, msg)

	// A fresh signer whose nonce is not part of c.aggNonce must refuse.
	s, _ := m.NewSigner(rand.Reader, 1, keys[0])
	if _, err := s.Sign(c.keyCtx, c.aggNonce, msg); err == nil {
		t.Error("signing against an aggregated nonce without our nonce should fail")
	}
	if !s.IsConsumed() {
		t.Error("failed sign attempt must still consume the nonce")
	}
}
