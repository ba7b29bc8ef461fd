package indexaccum_test

import (
	"strings"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/indexaccum"
)

func TestAccumulator_AppendThenDecodeAll_RoundTrips(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/tmp", 0o755)

	a, err := indexaccum.New(fs, "/tmp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []indexaccum.Entry{
		{HashKey: "hash-b", Size: 3, Payload: []byte("bbb")},
		{HashKey: "hash-a", Size: 5, Payload: []byte("aaaaa")},
	}
	for _, e := range entries {
		if err := a.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := fs.Open(a.Path())
	if err != nil {
		t.Fatalf("Open spill file: %v", err)
	}
	defer f.Close()

	decoded, err := indexaccum.DecodeAll(f)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(decoded), len(entries))
	}

	hashKeys := make([]string, len(decoded))
	for i, e := range decoded {
		hashKeys[i] = e.HashKey
	}
	slices.Sort(hashKeys)
	if got := strings.Join(hashKeys, ","); got != "hash-a,hash-b" {
		t.Fatalf("sorted hash keys = %q, want %q", got, "hash-a,hash-b")
	}

	// Order is append order, not sorted.
	if decoded[0].HashKey != "hash-b" || decoded[1].HashKey != "hash-a" {
		t.Fatalf("decode order = %v, want append order preserved", decoded)
	}
}

func TestAccumulator_Dispose_RemovesTempFile(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/tmp", 0o755)

	a, err := indexaccum.New(fs, "/tmp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Append(indexaccum.Entry{HashKey: "h", Size: 1, Payload: []byte("x")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path := a.Path()

	if err := a.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if fs.Exists(path) {
		t.Fatal("disposed accumulator's temp file should be removed")
	}
}

func TestAccumulator_AppendAfterClose_IsInvariantViolation(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/tmp", 0o755)

	a, err := indexaccum.New(fs, "/tmp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Append(indexaccum.Entry{HashKey: "h", Size: 1, Payload: []byte("x")}); err == nil {
		t.Fatal("Append after Close should fail")
	}
}

func TestDecodeAll_EmptyStream(t *testing.T) {
	entries, err := indexaccum.DecodeAll(strings.NewReader(""))
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
