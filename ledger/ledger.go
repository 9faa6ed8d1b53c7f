// Package ledger records which public nonces a participant has generated
// so that a nonce pair is never used twice, even across restarts.
//
// A participant records every freshly generated pair before revealing
// anything derived from it and refuses a pair whose points were seen
// before. [MemoryLedger] keeps entries for the life of the process;
// [FileLedger] appends them to a checksummed log that is replayed on
// open.
package ledger

import (
	"errors"
	"time"
)

var (
	// ErrNonceReuse reports a nonce point that is already recorded.
	ErrNonceReuse = errors.New("ledger: nonce already recorded")
	// ErrClosed reports use of a closed ledger.
	ErrClosed = errors.New("ledger: closed")
	// ErrCorrupt reports a record that fails its integrity checks.
	ErrCorrupt = errors.New("ledger: corrupt record")
)

// Entry is one generated nonce pair. It holds public values only.
type Entry struct {
	SessionID   string    `json:"session_id"`
	Participant uint32    `json:"participant"`
	R1          []byte    `json:"r1"`
	R2          []byte    `json:"r2"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger is an append-only record of nonce usage.
type Ledger interface {
	// Record appends e. It fails with ErrNonceReuse when either point of
	// e was recorded before, in which case nothing is written.
	Record(e Entry) error
	// Seen reports whether point appears in any recorded entry.
	Seen(point []byte) (bool, error)
	// Len returns the number of recorded entries.
	Len() int
	Close() error
}

// index is the in-memory lookup shared by both backends.
type index struct {
	points  map[string]struct{}
	entries int
}

func newIndex() *index {
	return &index{points: make(map[string]struct{})}
}

func (ix *index) check(e Entry) error {
	if len(e.R1) == 0 || len(e.R2) == 0 {
		return errors.New("ledger: entry has empty nonce points")
	}
	if string(e.R1) == string(e.R2) {
		return ErrNonceReuse
	}
	if ix.has(e.R1) || ix.has(e.R2) {
		return ErrNonceReuse
	}
	return nil
}

func (ix *index) add(e Entry) {
	ix.points[string(e.R1)] = struct{}{}
	ix.points[string(e.R2)] = struct{}{}
	ix.entries++
}

func (ix *index) has(point []byte) bool {
	_, ok := ix.points[string(point)]
	return ok
}
