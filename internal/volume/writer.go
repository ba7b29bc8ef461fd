// Package volume implements the Block Volume Writer (C2): a zstd-compressed
// container that accepted blocks are appended to until the Capacity Planner
// decides it must rotate.
package volume

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/blockpack/blockpack/internal/blockproc"
	"github.com/blockpack/blockpack/internal/fsx"
)

const (
	flagBlocklistHashes byte = 1 << 0
)

// state is the writer's lifecycle: a volume is Open while
// accepting blocks, Closed once its zstd frame has been finalized for the
// uploader, or Disposed if it was abandoned (e.g. on terminate) without
// ever being handed to the uploader.
type state int

const (
	stateOpen state = iota
	stateClosed
	stateDisposed
)

// Writer is a single Block Volume Writer instance: one temp file, one zstd
// stream, one monotonically growing file_size.
type Writer struct {
	fs   fsx.FS
	path string
	raw  io.WriteCloser
	cw   *countingWriter
	enc  *zstd.Encoder

	state state

	// SourceSize is the sum of uncompressed block sizes written so far.
	SourceSize int64
}

// countingWriter tracks bytes actually written to the underlying temp
// file, independent of how much the zstd encoder has buffered internally.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// New opens a fresh volume backed by a temp file in dir, compressed with
// the given zstd level.
func New(fs fsx.FS, dir string, compressionLevel int) (*Writer, error) {
	raw, path, err := fs.CreateTempFile(dir, "blockpack-volume-*.tmp")
	if err != nil {
		return nil, blockproc.NewVolumeWriteError("create temp file", err)
	}
	cw := &countingWriter{w: raw}
	enc, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		raw.Close()
		fs.Remove(path)
		return nil, blockproc.NewVolumeWriteError("init zstd encoder", err)
	}
	return &Writer{fs: fs, path: path, raw: raw, cw: cw, enc: enc}, nil
}

// Path returns the temp file's current path. It stays valid (though the
// caller should not rely on its name) until Dispose; after Close the file
// stays there for the uploader.
func (w *Writer) Path() string { return w.path }

// FileSize returns the compressed bytes durably flushed to the temp file
// so far. It only reflects reality immediately after AddBlock, because the
// zstd encoder is flushed there; it is not updated incrementally within a
// single AddBlock call.
func (w *Writer) FileSize() int64 { return w.cw.n }

// AddBlock appends one block's self-delimiting record to the
// volume and flushes the encoder so FileSize reflects the new bytes before
// the caller runs the capacity check.
func (w *Writer) AddBlock(b blockproc.Block) error {
	if w.state != stateOpen {
		return &blockproc.InvariantViolationError{Detail: "AddBlock called on a volume that is not open"}
	}

	if b.Offset < 0 || b.Size < 0 || b.Offset+b.Size > int64(len(b.Data)) {
		return &blockproc.InvariantViolationError{Detail: "AddBlock: Offset/Size lie outside the block's Data"}
	}
	payload := b.Data[b.Offset : b.Offset+b.Size]

	var flags byte
	if b.IsBlocklistHashes {
		flags |= flagBlocklistHashes
	}

	hdr := make([]byte, 1+4+8)
	hdr[0] = flags
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(b.HashKey)))
	binary.LittleEndian.PutUint64(hdr[5:13], uint64(b.Size))

	if _, err := w.enc.Write(hdr); err != nil {
		return blockproc.NewVolumeWriteError("write record header", err)
	}
	if _, err := w.enc.Write([]byte(b.HashKey)); err != nil {
		return blockproc.NewVolumeWriteError("write hash key", err)
	}
	if _, err := w.enc.Write(payload); err != nil {
		return blockproc.NewVolumeWriteError("write payload", err)
	}
	if err := w.enc.Flush(); err != nil {
		return blockproc.NewVolumeWriteError("flush", err)
	}

	w.SourceSize += b.Size
	return nil
}

// Close finalizes the zstd frame, closes the temp file (without an fsync),
// and leaves it in place at Path() for the uploader to stream. Calling Close again once the
// volume is already Closed is a no-op; calling it after Dispose is an
// error, since the underlying temp file is already gone.
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return nil
	}
	if w.state != stateOpen {
		return &blockproc.InvariantViolationError{Detail: "Close called on a volume that is not open"}
	}
	if err := w.enc.Close(); err != nil {
		return blockproc.NewVolumeWriteError("close zstd encoder", err)
	}
	if err := w.raw.Close(); err != nil {
		return blockproc.NewVolumeWriteError("close temp file", err)
	}
	w.state = stateClosed
	return nil
}

// Dispose abandons the volume: the zstd stream is closed without
// inspecting errors (the data is being thrown away) and the temp file is
// removed. Used when the Task Reader observes a terminate request, so
// an open-but-unflushed volume is never handed to the uploader.
func (w *Writer) Dispose() error {
	if w.state == stateDisposed {
		return nil
	}
	if w.state == stateOpen {
		w.enc.Close()
		w.raw.Close()
	}
	w.state = stateDisposed
	if err := w.fs.Remove(w.path); err != nil && !w.fs.IsNotExist(err) {
		return fmt.Errorf("volume: dispose: remove temp file: %w", err)
	}
	return nil
}
