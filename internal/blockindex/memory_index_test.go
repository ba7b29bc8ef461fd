package blockindex_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/blockpack/blockpack/internal/blockindex"
)

func TestMemoryIndex_FindOrAddBlockAtomic_FirstCallerWins(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()

	ownerA, wasNewA, err := idx.FindOrAddBlockAtomic(ctx, "hash-x", 100, 1)
	if err != nil {
		t.Fatalf("FindOrAddBlockAtomic: %v", err)
	}
	if !wasNewA || ownerA != 1 {
		t.Fatalf("first call: ownerA=%d wasNewA=%v, want owner=1 wasNew=true", ownerA, wasNewA)
	}

	ownerB, wasNewB, err := idx.FindOrAddBlockAtomic(ctx, "hash-x", 100, 2)
	if err != nil {
		t.Fatalf("FindOrAddBlockAtomic: %v", err)
	}
	if wasNewB || ownerB != 1 {
		t.Fatalf("second call: ownerB=%d wasNewB=%v, want owner=1 wasNew=false", ownerB, wasNewB)
	}
}

// TestMemoryIndex_ConcurrentFindOrAdd_ExactlyOneWinner: many
// shards racing to register the same hash_key/size must agree on exactly
// one owning volume, with exactly one of them observing wasNew=true.
func TestMemoryIndex_ConcurrentFindOrAdd_ExactlyOneWinner(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()
	const shards = 64

	var wg sync.WaitGroup
	owners := make([]int64, shards)
	wasNews := make([]bool, shards)
	for i := 0; i < shards; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner, wasNew, err := idx.FindOrAddBlockAtomic(ctx, "hash-race", 42, int64(i+1))
			if err != nil {
				t.Errorf("shard %d: FindOrAddBlockAtomic: %v", i, err)
				return
			}
			owners[i] = owner
			wasNews[i] = wasNew
		}(i)
	}
	wg.Wait()

	winners := 0
	winnerOwner := owners[0]
	for i := 0; i < shards; i++ {
		if owners[i] != winnerOwner {
			t.Fatalf("shard %d disagreed on owner: got %d, want %d", i, owners[i], winnerOwner)
		}
		if wasNews[i] {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one shard to observe wasNew=true, got %d", winners)
	}
}

func TestMemoryIndex_VolumeLifecycle(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()

	id, remoteFilename, err := idx.RegisterRemoteVolume(ctx)
	if err != nil {
		t.Fatalf("RegisterRemoteVolume: %v", err)
	}
	if remoteFilename == "" {
		t.Fatal("expected non-empty remote filename")
	}

	meta, err := idx.VolumeMeta(ctx, id)
	if err != nil {
		t.Fatalf("VolumeMeta: %v", err)
	}
	if meta.State != blockindex.VolumeStatePending {
		t.Fatalf("initial state = %v, want Pending", meta.State)
	}

	if err := idx.FinalizeVolume(ctx, id, blockindex.VolumeStateClosed); err != nil {
		t.Fatalf("FinalizeVolume: %v", err)
	}
	meta, err = idx.VolumeMeta(ctx, id)
	if err != nil {
		t.Fatalf("VolumeMeta: %v", err)
	}
	if meta.State != blockindex.VolumeStateClosed {
		t.Fatalf("state after finalize = %v, want Closed", meta.State)
	}
}

func TestMemoryIndex_MoveBlockToVolume(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()

	if err := idx.AddBlock(ctx, "hash-a", 10, 1); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := idx.MoveBlockToVolume(ctx, "hash-a", 10, 1, 2); err != nil {
		t.Fatalf("MoveBlockToVolume: %v", err)
	}

	id, found, err := idx.FindBlockID(ctx, "hash-a", 10)
	if err != nil {
		t.Fatalf("FindBlockID: %v", err)
	}
	if !found || id != 2 {
		t.Fatalf("FindBlockID after move = (%d, %v), want (2, true)", id, found)
	}
}

func TestMemoryIndex_MoveBlockToVolume_MissingBlockFails(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()
	if err := idx.MoveBlockToVolume(ctx, "missing", 10, 1, 2); err == nil {
		t.Fatal("expected error moving a block that was never added")
	}
}

func TestMemoryIndex_MoveBlockToVolume_WrongFromVolumeConflicts(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()

	if err := idx.AddBlock(ctx, "hash-a", 10, 1); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := idx.MoveBlockToVolume(ctx, "hash-a", 10, 99, 2); !errors.Is(err, blockindex.ErrMoveConflict) {
		t.Fatalf("MoveBlockToVolume with wrong fromVolumeID = %v, want ErrMoveConflict", err)
	}

	id, found, err := idx.FindBlockID(ctx, "hash-a", 10)
	if err != nil {
		t.Fatalf("FindBlockID: %v", err)
	}
	if !found || id != 1 {
		t.Fatalf("FindBlockID after failed move = (%d, %v), want (1, true) unchanged", id, found)
	}
}

func TestMemoryIndex_ListVolumes_ReturnsAllSortedByID(t *testing.T) {
	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()

	idA, _, _ := idx.RegisterRemoteVolume(ctx)
	idB, _, _ := idx.RegisterRemoteVolume(ctx)
	idx.FinalizeVolume(ctx, idB, blockindex.VolumeStateClosed)

	metas, err := idx.ListVolumes(ctx)
	if err != nil {
		t.Fatalf("ListVolumes: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len(metas) = %d, want 2", len(metas))
	}
	if metas[0].ID != idA || metas[1].ID != idB {
		t.Fatalf("metas = %+v, want ids %d then %d", metas, idA, idB)
	}
	if metas[1].State != blockindex.VolumeStateClosed {
		t.Fatalf("metas[1].State = %v, want Closed", metas[1].State)
	}
}
