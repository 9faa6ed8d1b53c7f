// Package wire defines the messages exchanged during a signing ceremony
// and their binary encoding.
//
// Participants send exactly three kinds of message to the relay:
// [Commitment] in round 1, [NonceReveal] in round 2 and [PartialSig] in
// round 3. The relay broadcasts [SessionStart], [CommitmentSet],
// [NonceSet], [FinalSignature] and [Abort].
//
// Every encoding starts with a one-byte kind and the 32-byte session id.
// Integers are big-endian. Points and scalars use the fixed-length
// encodings of the group the [Codec] was created for:
//
//	Commitment     kind(1) sessionId(32) participantId(4) commitment(32)
//	NonceReveal    kind(1) sessionId(32) participantId(4) R1 R2
//	PartialSig     kind(1) sessionId(32) participantId(4) s
//	FinalSignature kind(1) sessionId(32) R s
//
// Broadcast lists carry a 4-byte count followed by fixed-size entries.
package wire
