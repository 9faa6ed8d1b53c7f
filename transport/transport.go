// Package transport moves encoded protocol messages between the relay and
// participants.
//
// The protocol tolerates at-least-once delivery: duplicates are
// deduplicated by the session layer, so a transport may redeliver. It must
// not reorder messages from one sender to one receiver.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/musig"
	"github.com/f3rmion/musig2/wire"
)

var (
	// ErrUnknownPeer reports a send to a name with no inbox.
	ErrUnknownPeer = errors.New("transport: unknown peer")
	// ErrClosed reports use of a closed transport.
	ErrClosed = errors.New("transport: closed")
)

// CoordinatorName is the inbox of the relay.
const CoordinatorName = "coordinator"

// ParticipantName returns the inbox name of participant id.
func ParticipantName(id musig.ParticipantID) string {
	return fmt.Sprintf("participant-%d", id)
}

// Envelope carries one encoded message with routing metadata.
type Envelope struct {
	SessionID musig.SessionID
	From      string
	To        string
	Kind      wire.Kind
	Payload   []byte
	TraceID   string
}

// Transport delivers envelopes by recipient name.
type Transport interface {
	// Send delivers env to env.To. It blocks until the message is queued
	// or ctx is done.
	Send(ctx context.Context, env Envelope) error
	// Inbox returns the receive channel for name, creating it on first
	// use. The channel is closed when the transport closes.
	Inbox(name string) <-chan Envelope
}

// ChanTransport is an in-process [Transport] backed by buffered channels.
type ChanTransport struct {
	mu        sync.RWMutex
	inboxes   map[string]chan Envelope
	size      int
	duplicate bool
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a ChanTransport.
type Option func(*ChanTransport)

// WithBufferSize sets the per-inbox buffer.
func WithBufferSize(n int) Option {
	return func(t *ChanTransport) {
		if n > 0 {
			t.size = n
		}
	}
}

// WithDuplicates makes every Send deliver its envelope twice.
func WithDuplicates() Option {
	return func(t *ChanTransport) { t.duplicate = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *ChanTransport) { t.logger = l }
}

// NewChanTransport creates an empty in-process transport.
func NewChanTransport(opts ...Option) *ChanTransport {
	t := &ChanTransport{
		inboxes: make(map[string]chan Envelope),
		size:    256,
		logger:  logging.Discard(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ChanTransport) Inbox(name string) <-chan Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.inboxes[name]
	if !ok {
		ch = make(chan Envelope, t.size)
		select {
		case <-t.done:
			close(ch)
		default:
			t.inboxes[name] = ch
		}
	}
	return ch
}

func (t *ChanTransport) Send(ctx context.Context, env Envelope) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	ch, ok := t.inboxes[env.To]
	if !ok {
		return ErrUnknownPeer
	}

	copies := 1
	if t.duplicate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		e := env
		e.Payload = append([]byte(nil), env.Payload...)
		select {
		case ch <- e:
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrClosed
		}
	}
	t.logger.Debug("envelope queued",
		"session", env.SessionID.String(),
		"from", env.From,
		"to", env.To,
		"kind", env.Kind.String(),
		"trace_id", env.TraceID)
	return nil
}

// Close stops delivery and closes every inbox. Pending messages stay
// readable.
func (t *ChanTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, ch := range t.inboxes {
			close(ch)
		}
	})
	return nil
}
