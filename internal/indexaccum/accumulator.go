// Package indexaccum implements the Index Accumulator (C3): an optional
// spill file recording (hash_key, size, payload) triples for every
// blocklist-hash block written to a volume, so the uploader can synthesize an index volume
// alongside the compressed data volume.
package indexaccum

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/blockpack/blockpack/internal/blockproc"
	"github.com/blockpack/blockpack/internal/fsx"
)

// Entry is one recorded (hash_key, size, payload) triple.
type Entry struct {
	HashKey string
	Size    int64
	Payload []byte
}

type state int

const (
	stateOpen state = iota
	stateClosed
	stateDisposed
)

// Accumulator appends entries to an uncompressed spill file, per the
// framing: `u32 hashLen | hash_key | u64 size | u32
// payloadLen | payload`.
type Accumulator struct {
	fs    fsx.FS
	path  string
	w     io.WriteCloser
	state state
}

// New opens a fresh accumulator backed by a temp file in dir. Passing
// blockproc.IndexPolicyNone or IndexPolicyLookup to the caller should skip
// constructing an Accumulator entirely; this constructor always opens one.
func New(fs fsx.FS, dir string) (*Accumulator, error) {
	w, path, err := fs.CreateTempFile(dir, "blockpack-index-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("indexaccum: create temp file: %w", err)
	}
	return &Accumulator{fs: fs, path: path, w: w}, nil
}

// Path returns the temp file's current path.
func (a *Accumulator) Path() string { return a.path }

// Append writes one entry's record.
func (a *Accumulator) Append(e Entry) error {
	if a.state != stateOpen {
		return &blockproc.InvariantViolationError{Detail: "Append called on an index accumulator that is not open"}
	}

	hdr := make([]byte, 4+8+4)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(e.HashKey)))
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(e.Size))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(e.Payload)))

	if _, err := a.w.Write(hdr[0:4]); err != nil {
		return fmt.Errorf("indexaccum: write hash len: %w", err)
	}
	if _, err := a.w.Write([]byte(e.HashKey)); err != nil {
		return fmt.Errorf("indexaccum: write hash key: %w", err)
	}
	if _, err := a.w.Write(hdr[4:16]); err != nil {
		return fmt.Errorf("indexaccum: write size/payload len: %w", err)
	}
	if _, err := a.w.Write(e.Payload); err != nil {
		return fmt.Errorf("indexaccum: write payload: %w", err)
	}
	return nil
}

// Close finalizes the spill file and leaves it in place at Path().
func (a *Accumulator) Close() error {
	if a.state != stateOpen {
		return &blockproc.InvariantViolationError{Detail: "Close called on an index accumulator that is not open"}
	}
	if err := a.w.Close(); err != nil {
		return fmt.Errorf("indexaccum: close: %w", err)
	}
	a.state = stateClosed
	return nil
}

// Dispose abandons the accumulator and removes its temp file, matching
// Writer.Dispose's role for the block volume writer.
func (a *Accumulator) Dispose() error {
	if a.state == stateDisposed {
		return nil
	}
	if a.state == stateOpen {
		a.w.Close()
	}
	a.state = stateDisposed
	if err := a.fs.Remove(a.path); err != nil && !a.fs.IsNotExist(err) {
		return fmt.Errorf("indexaccum: dispose: remove temp file: %w", err)
	}
	return nil
}

// Decoder reads back a closed accumulator's entries in append order.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps a closed accumulator's byte stream for forward-only
// decoding, used by the uploader and by tests.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next decodes the next entry, returning io.EOF once the stream is
// exhausted.
func (d *Decoder) Next() (Entry, error) {
	var hashLen uint32
	if err := binary.Read(d.r, binary.LittleEndian, &hashLen); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("indexaccum: decode hash len: %w", err)
	}

	hashKey := make([]byte, hashLen)
	if _, err := io.ReadFull(d.r, hashKey); err != nil {
		return Entry{}, fmt.Errorf("indexaccum: decode hash key: %w", err)
	}

	var size uint64
	if err := binary.Read(d.r, binary.LittleEndian, &size); err != nil {
		return Entry{}, fmt.Errorf("indexaccum: decode size: %w", err)
	}
	var payloadLen uint32
	if err := binary.Read(d.r, binary.LittleEndian, &payloadLen); err != nil {
		return Entry{}, fmt.Errorf("indexaccum: decode payload len: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Entry{}, fmt.Errorf("indexaccum: decode payload: %w", err)
	}

	return Entry{HashKey: string(hashKey), Size: int64(size), Payload: payload}, nil
}

// DecodeAll decodes every entry in the stream.
func DecodeAll(r io.Reader) ([]Entry, error) {
	dec := NewDecoder(r)
	var out []Entry
	for {
		e, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}
