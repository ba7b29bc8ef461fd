// Package blockindex implements the Block Index Client (C1): the
// persistent, transactional record of which volume owns each accepted
// block, plus per-volume metadata and id allocation.
package blockindex

import (
	"context"
	"errors"
	"fmt"
)

// ErrMoveConflict is returned by MoveBlockToVolume when the block's
// current owner is not fromVolumeID: the caller's compare-and-swap lost
// to a concurrent move and must not overwrite it.
var ErrMoveConflict = errors.New("blockindex: move conflict: block is not owned by fromVolumeID")

// VolumeState tracks a volume row's lifecycle from the index's point of
// view: Pending while the pipeline is still appending blocks to it,
// Closed once the pipeline has closed it and handed it to the uploader,
// Uploaded once the uploader confirms durability.
type VolumeState int

const (
	VolumeStatePending VolumeState = iota
	VolumeStateClosed
	VolumeStateUploaded
)

func (s VolumeState) String() string {
	switch s {
	case VolumeStatePending:
		return "pending"
	case VolumeStateClosed:
		return "closed"
	case VolumeStateUploaded:
		return "uploaded"
	default:
		return "unknown"
	}
}

// VolumeMeta is the durable record for one volume id.
type VolumeMeta struct {
	ID             int64
	RemoteFilename string
	State          VolumeState
}

// Index is the Block Index Client's contract, satisfied by both the
// badger-backed production store and the in-memory test store. Every
// method corresponds 1:1 to one persistent index operation.
type Index interface {
	// FindBlockID reports which volume, if any, already owns a block
	// with this hash_key and size. found is false when no such block
	// has been registered yet.
	FindBlockID(ctx context.Context, hashKey string, size int64) (volumeID int64, found bool, err error)

	// AddBlock records that the block with this hash_key and size
	// belongs to volumeID, overwriting any existing row. The pipeline's
	// insert-if-absent does not use it; that goes through FindOrAddBlock.
	AddBlock(ctx context.Context, hashKey string, size int64, volumeID int64) error

	// MoveBlockToVolume reassigns an already-registered block to a
	// different volume id, used on rotation to move the block that
	// triggered it from the outgoing volume to the new one. It is a
	// compare-and-swap: it succeeds only if the block's current owner is
	// fromVolumeID, and reports ErrMoveConflict otherwise so a caller
	// racing against another mover never clobbers a concurrent update.
	MoveBlockToVolume(ctx context.Context, hashKey string, size int64, fromVolumeID, toVolumeID int64) error

	// RegisterRemoteVolume allocates a fresh volume id and its
	// remote_filename, returning both. The volume starts in
	// VolumeStatePending.
	RegisterRemoteVolume(ctx context.Context) (volumeID int64, remoteFilename string, err error)

	// FinalizeVolume transitions a volume row to the given state, used
	// by the pipeline (Pending -> Closed) and the uploader (Closed ->
	// Uploaded).
	FinalizeVolume(ctx context.Context, volumeID int64, state VolumeState) error

	// VolumeMeta returns a volume's durable record, used by `blockpack
	// verify`/`blockpack stats`.
	VolumeMeta(ctx context.Context, volumeID int64) (VolumeMeta, error)

	// ListVolumes returns every volume row in the index, used by
	// `blockpack verify`/`blockpack stats` to enumerate what to check
	// without the caller needing to track ids itself.
	ListVolumes(ctx context.Context) ([]VolumeMeta, error)

	// CommitTransaction is a diagnostic flush point; the caller treats
	// the tag as opaque. It never changes control flow.
	CommitTransaction(ctx context.Context, tag string) error

	Close() error
}

// FindOrAddBlock atomically probes the index for an existing block and,
// if absent, registers one under volumeID — the early-dedup-probe-then-
// insert operation the pipeline needs to run as a single transaction
// so two shards racing on the same hash_key cannot both believe they
// inserted it.
//
// wasNew reports whether this call is the one that created the row.
func FindOrAddBlock(ctx context.Context, idx Index, hashKey string, size, volumeID int64) (ownerVolumeID int64, wasNew bool, err error) {
	tx, ok := idx.(atomicFindOrAdder)
	if !ok {
		return 0, false, fmt.Errorf("blockindex: %T does not support atomic find-or-add", idx)
	}
	return tx.FindOrAddBlockAtomic(ctx, hashKey, size, volumeID)
}

// atomicFindOrAdder is implemented by index backends that can run the
// find-then-insert as one transaction instead of two independent calls.
type atomicFindOrAdder interface {
	FindOrAddBlockAtomic(ctx context.Context, hashKey string, size, volumeID int64) (ownerVolumeID int64, wasNew bool, err error)
}
