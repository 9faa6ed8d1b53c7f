package ledger

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/f3rmion/musig2/internal/logging"
	"github.com/f3rmion/musig2/internal/metrics"
)

// Record framing: [magic u32][version u16][flags u16][len u32][crc32 u32][json]
const (
	recordMagic   uint32 = 0x4d534e4c // 'MSNL'
	recordVersion uint16 = 1
	headerLen            = 4 + 2 + 2 + 4 + 4
	maxRecordLen         = 1 << 16
)

var errTornTail = errors.New("ledger: incomplete trailing record")

// file is the part of *os.File the ledger appends through.
type file interface {
	io.WriteSeeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// FileLedger is an append-only, file-backed [Ledger]. Every record is
// synced to disk before Record returns. A failed append is truncated away
// so the file always ends on a complete record. Thread-safe.
type FileLedger struct {
	mu     sync.Mutex
	f      file
	path   string
	idx    *index
	logger *slog.Logger
	closed bool
	// broken is set when a failed append could not be rolled back.
	broken error
}

// Option configures a FileLedger.
type Option func(*FileLedger)

// WithLogger sets the logger used for replay diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(fl *FileLedger) { fl.logger = l }
}

// Open opens or creates the ledger at path and replays its records. A
// record cut short by a crash at the end of the file is dropped; any
// other damage fails with ErrCorrupt.
func Open(path string, opts ...Option) (*FileLedger, error) {
	fl := &FileLedger{path: path, idx: newIndex(), logger: logging.Discard()}
	for _, opt := range opts {
		opt(fl)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	// #nosec G304 - ledger path is provided by the operator
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	valid, err := replay(f, fl.idx)
	switch {
	case errors.Is(err, errTornTail):
		fl.logger.Warn("dropping incomplete ledger record", "path", path, "offset", valid)
		if err := f.Truncate(valid); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("truncate ledger: %w", err)
		}
	case err != nil:
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek ledger: %w", err)
	}

	fl.f = f
	fl.logger.Debug("ledger opened", "path", path, "entries", fl.idx.entries)
	return fl, nil
}

// replay loads every record into idx and returns the offset just past
// the last complete record.
func replay(r io.Reader, idx *index) (int64, error) {
	br := bufio.NewReader(r)
	var off int64
	var hdr [headerLen]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return off, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return off, errTornTail
			}
			return off, fmt.Errorf("read ledger: %w", err)
		}
		if binary.BigEndian.Uint32(hdr[0:]) != recordMagic {
			return off, fmt.Errorf("%w: bad magic at offset %d", ErrCorrupt, off)
		}
		if v := binary.BigEndian.Uint16(hdr[4:]); v != recordVersion {
			return off, fmt.Errorf("%w: unsupported version %d at offset %d", ErrCorrupt, v, off)
		}
		l := binary.BigEndian.Uint32(hdr[8:])
		want := binary.BigEndian.Uint32(hdr[12:])
		if l > maxRecordLen {
			return off, fmt.Errorf("%w: record of %d bytes at offset %d", ErrCorrupt, l, off)
		}

		body := make([]byte, l)
		if _, err := io.ReadFull(br, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return off, errTornTail
			}
			return off, fmt.Errorf("read ledger: %w", err)
		}
		if crc32.ChecksumIEEE(body) != want {
			return off, fmt.Errorf("%w: crc mismatch at offset %d", ErrCorrupt, off)
		}
		var e Entry
		if err := json.Unmarshal(body, &e); err != nil {
			return off, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		idx.add(e)
		off += int64(headerLen) + int64(l)
	}
}

func encodeRecord(e Entry) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(buf[0:], recordMagic)
	binary.BigEndian.PutUint16(buf[4:], recordVersion)
	binary.BigEndian.PutUint16(buf[6:], 0)
	// #nosec G115 - entries are far below 4 GiB
	binary.BigEndian.PutUint32(buf[8:], uint32(len(body)))
	binary.BigEndian.PutUint32(buf[12:], crc32.ChecksumIEEE(body))
	copy(buf[headerLen:], body)
	return buf, nil
}

func (fl *FileLedger) Record(e Entry) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.closed {
		return ErrClosed
	}
	if fl.broken != nil {
		return fl.broken
	}
	if err := fl.idx.check(e); err != nil {
		metrics.RecordLedger("file", metrics.StatusRejected)
		return err
	}

	rec, err := encodeRecord(e)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	off, err := fl.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("seek ledger: %w", err)
	}
	if _, err := fl.f.Write(rec); err != nil {
		fl.logger.Error("ledger append failed", "path", fl.path, "error", err)
		return errors.Join(fmt.Errorf("append ledger record: %w", err), fl.rollback(off))
	}
	if err := fl.f.Sync(); err != nil {
		fl.logger.Error("ledger sync failed", "path", fl.path, "error", err)
		return errors.Join(fmt.Errorf("sync ledger: %w", err), fl.rollback(off))
	}

	fl.idx.add(e)
	metrics.RecordLedger("file", metrics.StatusAccepted)
	return nil
}

// rollback cuts the file back to off after a failed append. If that
// fails too the ledger refuses further records.
func (fl *FileLedger) rollback(off int64) error {
	err := fl.f.Truncate(off)
	if err == nil {
		_, err = fl.f.Seek(off, io.SeekStart)
	}
	if err != nil {
		fl.broken = fmt.Errorf("%w: rollback to offset %d failed: %w", ErrCorrupt, off, err)
		fl.logger.Error("ledger rollback failed", "path", fl.path, "offset", off, "error", err)
		return fl.broken
	}
	return nil
}

func (fl *FileLedger) Seen(point []byte) (bool, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.closed {
		return false, ErrClosed
	}
	return fl.idx.has(point), nil
}

func (fl *FileLedger) Len() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.idx.entries
}

func (fl *FileLedger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.closed {
		return nil
	}
	fl.closed = true
	return fl.f.Close()
}
