package fsx_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/blockpack/blockpack/internal/fsx"
)

func TestMemoryFS_WriteReadFile(t *testing.T) {
	m := fsx.NewMemoryFS()

	if err := m.MkdirAll("dir/sub", 0o755); err != nil {
		t.Fatal(err)
	}

	content := []byte("hello world")
	if err := m.WriteFile("dir/sub/file.txt", content, 0o644); err != nil {
		t.Fatal(err)
	}

	read, err := m.ReadFile("dir/sub/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(read, content) {
		t.Fatalf("expected %q, got %q", content, read)
	}
}

func TestMemoryFS_WriteFileNonExistentDir(t *testing.T) {
	m := fsx.NewMemoryFS()
	if err := m.WriteFile("nope/file.txt", []byte("x"), 0o644); err == nil {
		t.Fatal("expected error writing to non-existent dir")
	}
}

func TestMemoryFS_OpenAndClose(t *testing.T) {
	m := fsx.NewMemoryFS()
	m.MkdirAll("d", 0o755)
	m.WriteFile("d/f", []byte("abc"), 0o644)

	f, err := m.Open("d/f")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, 3)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if n != 3 || string(buf) != "abc" {
		t.Fatalf("unexpected read %q", buf)
	}
}

func TestMemoryFS_CreateTempFileThenRename(t *testing.T) {
	m := fsx.NewMemoryFS()
	m.MkdirAll("vol", 0o755)

	wc, tmpPath, err := m.CreateTempFile("vol", "tmp-*")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte("volume-bytes")); err != nil {
		t.Fatal(err)
	}
	if err := wc.Close(); err != nil {
		t.Fatal(err)
	}

	if err := m.Rename(tmpPath, "vol/final.bin"); err != nil {
		t.Fatal(err)
	}

	data, err := m.ReadFile("vol/final.bin")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "volume-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
	if m.Exists(tmpPath) {
		t.Fatal("expected temp path to be gone after rename")
	}
}

func TestMemoryFS_RemoveMissing(t *testing.T) {
	m := fsx.NewMemoryFS()
	err := m.Remove("missing")
	if err == nil || !m.IsNotExist(err) {
		t.Fatalf("expected IsNotExist error, got %v", err)
	}
}
