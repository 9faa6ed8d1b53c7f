package ledger

import (
	"sync"

	"github.com/f3rmion/musig2/internal/metrics"
)

// MemoryLedger is an in-process [Ledger]. Thread-safe.
type MemoryLedger struct {
	mu     sync.RWMutex
	idx    *index
	closed bool
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{idx: newIndex()}
}

func (m *MemoryLedger) Record(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if err := m.idx.check(e); err != nil {
		metrics.RecordLedger("memory", metrics.StatusRejected)
		return err
	}
	m.idx.add(e)
	metrics.RecordLedger("memory", metrics.StatusAccepted)
	return nil
}

func (m *MemoryLedger) Seen(point []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	return m.idx.has(point), nil
}

func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx.entries
}

func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
