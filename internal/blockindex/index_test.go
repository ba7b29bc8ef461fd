package blockindex_test

import (
	"context"
	"testing"

	"github.com/blockpack/blockpack/internal/blockindex"
)

func TestFindOrAddBlock_DelegatesToAtomicFindOrAdder(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()

	owner, wasNew, err := blockindex.FindOrAddBlock(ctx, idx, "hash-a", 10, 1)
	if err != nil {
		t.Fatalf("FindOrAddBlock: %v", err)
	}
	if !wasNew || owner != 1 {
		t.Fatalf("owner=%d wasNew=%v, want owner=1 wasNew=true", owner, wasNew)
	}

	owner, wasNew, err = blockindex.FindOrAddBlock(ctx, idx, "hash-a", 10, 99)
	if err != nil {
		t.Fatalf("FindOrAddBlock: %v", err)
	}
	if wasNew || owner != 1 {
		t.Fatalf("owner=%d wasNew=%v, want owner=1 wasNew=false", owner, wasNew)
	}
}

var _ blockindex.Index = (*blockindex.MemoryIndex)(nil)
