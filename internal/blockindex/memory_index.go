package blockindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-process, mutex-guarded Block Index Client used by
// tests that need deterministic, fast dedup semantics without spinning up
// a real badger database. It gives the same single-winner guarantee
// BadgerIndex gets from badger's transaction isolation, via its own
// mutex, so concurrent-shard race tests exercise the pipeline's use of
// FindOrAddBlockAtomic without paying for a real badger instance.
type MemoryIndex struct {
	mu      sync.Mutex
	blocks  map[string]int64
	volumes map[int64]volumeRecord
	nextID  int64
}

// NewMemoryIndex returns an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		blocks:  make(map[string]int64),
		volumes: make(map[int64]volumeRecord),
	}
}

func blockKey(hashKey string, size int64) string {
	return fmt.Sprintf("%s:%d", hashKey, size)
}

func (m *MemoryIndex) FindBlockID(ctx context.Context, hashKey string, size int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.blocks[blockKey(hashKey, size)]
	return id, ok, nil
}

func (m *MemoryIndex) AddBlock(ctx context.Context, hashKey string, size int64, volumeID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[blockKey(hashKey, size)] = volumeID
	return nil
}

func (m *MemoryIndex) FindOrAddBlockAtomic(ctx context.Context, hashKey string, size, volumeID int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := blockKey(hashKey, size)
	if existing, ok := m.blocks[key]; ok {
		return existing, false, nil
	}
	m.blocks[key] = volumeID
	return volumeID, true, nil
}

// MoveBlockToVolume is a compare-and-swap: it only reassigns the block if
// its current owner is still fromVolumeID, under the same lock as the
// lookup, so a racing mover of the same block never clobbers a
// concurrent update.
func (m *MemoryIndex) MoveBlockToVolume(ctx context.Context, hashKey string, size int64, fromVolumeID, toVolumeID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := blockKey(hashKey, size)
	current, ok := m.blocks[key]
	if !ok {
		return fmt.Errorf("blockindex: move block to volume: block %s not found", key)
	}
	if current != fromVolumeID {
		return ErrMoveConflict
	}
	m.blocks[key] = toVolumeID
	return nil
}

func (m *MemoryIndex) RegisterRemoteVolume(ctx context.Context) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	remoteFilename := fmt.Sprintf("mem-volume-%d.blockvol", id)
	m.volumes[id] = volumeRecord{RemoteFilename: remoteFilename, State: VolumeStatePending}
	return id, remoteFilename, nil
}

func (m *MemoryIndex) FinalizeVolume(ctx context.Context, volumeID int64, state VolumeState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.volumes[volumeID]
	if !ok {
		return fmt.Errorf("blockindex: finalize volume: volume %d not found", volumeID)
	}
	rec.State = state
	m.volumes[volumeID] = rec
	return nil
}

func (m *MemoryIndex) VolumeMeta(ctx context.Context, volumeID int64) (VolumeMeta, error) {
	if err := ctx.Err(); err != nil {
		return VolumeMeta{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.volumes[volumeID]
	if !ok {
		return VolumeMeta{}, fmt.Errorf("blockindex: volume meta: volume %d not found", volumeID)
	}
	return VolumeMeta{ID: volumeID, RemoteFilename: rec.RemoteFilename, State: rec.State}, nil
}

func (m *MemoryIndex) ListVolumes(ctx context.Context) ([]VolumeMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metas := make([]VolumeMeta, 0, len(m.volumes))
	for id, rec := range m.volumes {
		metas = append(metas, VolumeMeta{ID: id, RemoteFilename: rec.RemoteFilename, State: rec.State})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas, nil
}

func (m *MemoryIndex) CommitTransaction(ctx context.Context, tag string) error {
	return ctx.Err()
}

func (m *MemoryIndex) Close() error { return nil }
