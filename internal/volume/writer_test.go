package volume_test

import (
	"testing"

	"github.com/blockpack/blockpack/internal/blockproc"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/volume"
)

func block(hashKey string, data []byte) blockproc.Block {
	return blockproc.Block{HashKey: hashKey, Size: int64(len(data)), Data: data}
}

func TestWriter_AddBlockThenClose_RoundTrips(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/tmp", 0o755)

	w, err := volume.New(fs, "/tmp", 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	blocks := []blockproc.Block{
		block("hash-a", []byte("alpha payload")),
		block("hash-b", []byte("beta payload, a bit longer")),
	}
	for _, b := range blocks {
		if err := w.AddBlock(b); err != nil {
			t.Fatalf("AddBlock: %v", err)
		}
	}
	if w.FileSize() <= 0 {
		t.Fatal("FileSize should be positive after writing blocks")
	}
	if w.SourceSize != int64(len(blocks[0].Data)+len(blocks[1].Data)) {
		t.Fatalf("SourceSize = %d, want %d", w.SourceSize, len(blocks[0].Data)+len(blocks[1].Data))
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := fs.Open(w.Path())
	if err != nil {
		t.Fatalf("Open written volume: %v", err)
	}
	defer f.Close()

	records, err := volume.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != len(blocks) {
		t.Fatalf("got %d records, want %d", len(records), len(blocks))
	}
	for i, rec := range records {
		if rec.HashKey != blocks[i].HashKey {
			t.Errorf("record %d HashKey = %q, want %q", i, rec.HashKey, blocks[i].HashKey)
		}
		if string(rec.Data) != string(blocks[i].Data) {
			t.Errorf("record %d Data = %q, want %q", i, rec.Data, blocks[i].Data)
		}
	}
}

func TestWriter_Dispose_RemovesTempFile(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/tmp", 0o755)

	w, err := volume.New(fs, "/tmp", 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.AddBlock(block("hash-a", []byte("data"))); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	path := w.Path()

	if err := w.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if fs.Exists(path) {
		t.Fatal("disposed volume's temp file should be removed")
	}

	// Dispose is idempotent.
	if err := w.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
}

func TestWriter_CloseAfterClose_IsIdempotent(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/tmp", 0o755)
	w, err := volume.New(fs, "/tmp", 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	size := w.FileSize()
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if w.FileSize() != size {
		t.Fatalf("FileSize changed across idempotent Close: %d -> %d", size, w.FileSize())
	}
}

func TestWriter_AddBlockAfterClose_IsInvariantViolation(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/tmp", 0o755)
	w, err := volume.New(fs, "/tmp", 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.AddBlock(block("hash-a", []byte("data"))); err == nil {
		t.Fatal("AddBlock after Close should fail")
	}
}
