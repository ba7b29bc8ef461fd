// Package pipeline implements the Pipeline Core (C5): the loop
// orchestrating the Block Index Client, Block Volume Writer, Index
// Accumulator, and Capacity Planner over one shard's share of the Input
// channel.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/blockproc"
	"github.com/blockpack/blockpack/internal/capacity"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/gate"
	"github.com/blockpack/blockpack/internal/indexaccum"
	"github.com/blockpack/blockpack/internal/metrics"
	"github.com/blockpack/blockpack/internal/volume"
)

// Shard is one Pipeline Core instance ("multiple instances of
// the Pipeline Core may run in parallel as shards over the same Input
// channel"). C2 and C3 are owned exclusively by the shard currently
// holding them; C1 (idx) is shared and must be safe for concurrent use.
type Shard struct {
	ID int

	Index   blockindex.Index
	FS      fsx.FS
	VolDir  string
	Options blockproc.Options
	Gate    *gate.Gate
	Log     LogChannel
	Metrics *metrics.Metrics // nil is safe; every call becomes a no-op

	Input       Input
	Output      Output
	SpillPickup SpillPickup

	current       *volume.Writer
	currentID     int64
	currentRemote string
	accum         *indexaccum.Accumulator
	sourceSize    int64 // current volume's source_size, mirrored here since Writer doesn't expose volume_id
}

// Run executes the main protocol until Input retires, the
// Task Reader observes a terminate signal, or a fatal error occurs.
//
// A nil return means clean shutdown (retirement, with any partial volume
// already drained to SpillPickup on shutdown).
func (s *Shard) Run(ctx context.Context) error {
	for {
		block, ok := <-s.Input.In()
		if !ok {
			return s.drainOnRetirement(ctx)
		}

		if err := s.handleBlock(ctx, block); err != nil {
			// No leaks: every fatal exit disposes whatever volume
			// this shard still owns. rotate() already disposes any tmp
			// writer it failed to hand ownership of before returning,
			// so the only writer left to dispose here is s.current, if any.
			s.disposeCurrent()
			return err
		}
	}
}

func (s *Shard) handleBlock(ctx context.Context, b blockproc.Block) error {
	// Step 1: early dedup probe, pre-volume.
	if s.current == nil {
		_, found, err := s.Index.FindBlockID(ctx, b.HashKey, b.Size)
		if err != nil {
			return blockproc.NewDatabaseError("find_block_id", err)
		}
		if found {
			b.Completion.Resolve(false)
			s.Metrics.BlockSeen("duplicate")
			return s.awaitProgress(ctx)
		}
	}

	// Step 2: lazy volume creation.
	if s.current == nil {
		if err := s.openNewVolume(ctx); err != nil {
			return err
		}
	}

	// Step 3: atomic add — resolves the benign race from step 1.
	_, wasNew, err := blockindex.FindOrAddBlock(ctx, s.Index, b.HashKey, b.Size, s.currentID)
	if err != nil {
		return blockproc.NewDatabaseError("add_block", err)
	}
	b.Completion.Resolve(wasNew)
	if !wasNew {
		s.Metrics.BlockSeen("duplicate")
		return s.awaitProgress(ctx)
	}
	s.Metrics.BlockSeen("new")

	// Step 4: capacity check (C4).
	if capacity.ShouldRotate(s.current.FileSize(), b.Size, s.Options) {
		if err := s.rotate(ctx, b); err != nil {
			return err
		}
	}

	// Step 5: append.
	before := s.current.FileSize()
	if err := s.current.AddBlock(b); err != nil {
		return blockproc.NewVolumeWriteError("add_block", err)
	}
	if growth := s.current.FileSize() - before; growth > capacity.WorstCaseGrowth(b.Size) {
		s.Log.Warnf(logrus.Fields{"volume_id": s.currentID, "shard": s.ID, "event": "growth_over_bound"}, "compressed growth exceeded the planner's worst-case bound")
	}
	s.sourceSize += b.Size
	s.Metrics.BytesPacked(b.Size)
	s.Metrics.OpenVolumeBytes(fmt.Sprintf("%d", s.ID), s.current.FileSize())
	if s.accum != nil && b.IsBlocklistHashes {
		if err := s.accum.Append(indexaccum.Entry{HashKey: b.HashKey, Size: b.Size, Payload: b.Data[b.Offset : b.Offset+b.Size]}); err != nil {
			return fmt.Errorf("pipeline: append index accumulator entry: %w", err)
		}
	}

	// Step 6: progress gate.
	return s.awaitProgress(ctx)
}

func (s *Shard) awaitProgress(ctx context.Context) error {
	return s.Gate.Progress(ctx)
}

func (s *Shard) openNewVolume(ctx context.Context) error {
	w, err := volume.New(s.FS, s.VolDir, s.Options.CompressionLevel)
	if err != nil {
		return blockproc.NewVolumeWriteError("open volume", err)
	}

	id, remoteFilename, err := s.Index.RegisterRemoteVolume(ctx)
	if err != nil {
		w.Dispose()
		return blockproc.NewDatabaseError("register_remote_volume", err)
	}

	s.current = w
	s.currentID = id
	s.currentRemote = remoteFilename
	s.sourceSize = 0

	if s.Options.IndexFilePolicy == blockproc.IndexPolicyFull {
		accum, err := indexaccum.New(s.FS, s.VolDir)
		if err != nil {
			w.Dispose()
			s.current = nil
			return fmt.Errorf("pipeline: open index accumulator: %w", err)
		}
		s.accum = accum
	}
	return nil
}

// rotate allocates a fresh volume, transfers the
// triggering block's just-added row, close+emit the old volume, and make
// tmp the new current.
func (s *Shard) rotate(ctx context.Context, triggering blockproc.Block) error {
	tmp, err := volume.New(s.FS, s.VolDir, s.Options.CompressionLevel)
	if err != nil {
		return blockproc.NewVolumeWriteError("allocate rotation volume", err)
	}
	tmpID, tmpRemote, err := s.Index.RegisterRemoteVolume(ctx)
	if err != nil {
		tmp.Dispose()
		return blockproc.NewDatabaseError("register_remote_volume", err)
	}

	if err := s.Index.MoveBlockToVolume(ctx, triggering.HashKey, triggering.Size, s.currentID, tmpID); err != nil {
		tmp.Dispose()
		return blockproc.NewDatabaseError("move_block_to_volume", err)
	}

	old := s.current
	oldID := s.currentID
	oldRemote := s.currentRemote
	oldAccum := s.accum

	if err := old.Close(); err != nil {
		tmp.Dispose()
		return blockproc.NewVolumeWriteError("close rotated volume", err)
	}
	if err := s.Index.CommitTransaction(ctx, "CommitAddBlockToOutputFlush"); err != nil {
		tmp.Dispose()
		return blockproc.NewDatabaseError("commit_transaction", err)
	}
	if err := s.Index.FinalizeVolume(ctx, oldID, blockindex.VolumeStateClosed); err != nil {
		tmp.Dispose()
		return blockproc.NewDatabaseError("finalize_volume", err)
	}

	if oldAccum != nil {
		if err := oldAccum.Close(); err != nil {
			tmp.Dispose()
			return fmt.Errorf("pipeline: close rotated index accumulator: %w", err)
		}
	}

	req := VolumeUploadRequest{
		VolumeID:       oldID,
		RemoteFilename: oldRemote,
		VolumePath:     old.Path(),
		SourceSize:     s.sourceSize,
		FileSize:       old.FileSize(),
		CloseFlag:      true,
	}
	if oldAccum != nil {
		req.IndexPath = oldAccum.Path()
	}
	s.Log.Infof(logrus.Fields{"volume_id": oldID, "shard": s.ID, "event": "rotate"}, "volume rotated")
	s.Metrics.VolumeRotated()
	s.Output.Send(req)

	s.current = tmp
	s.currentID = tmpID
	s.currentRemote = tmpRemote
	s.sourceSize = 0
	s.accum = nil
	if s.Options.IndexFilePolicy == blockproc.IndexPolicyFull {
		accum, err := indexaccum.New(s.FS, s.VolDir)
		if err != nil {
			return fmt.Errorf("pipeline: open index accumulator after rotation: %w", err)
		}
		s.accum = accum
	}
	return nil
}

// drainOnRetirement handles shutdown: a non-empty
// open volume is emitted to SpillPickup, not Output, since retirement is
// not a rotation triggered by capacity.
func (s *Shard) drainOnRetirement(ctx context.Context) error {
	if s.current == nil || s.sourceSize == 0 {
		s.disposeCurrent()
		return nil
	}

	if err := s.current.Close(); err != nil {
		return blockproc.NewVolumeWriteError("close volume on drain", err)
	}
	if err := s.Index.FinalizeVolume(ctx, s.currentID, blockindex.VolumeStateClosed); err != nil {
		return blockproc.NewDatabaseError("finalize_volume", err)
	}
	if s.accum != nil {
		if err := s.accum.Close(); err != nil {
			return fmt.Errorf("pipeline: close index accumulator on drain: %w", err)
		}
	}

	req := VolumeUploadRequest{
		VolumeID:       s.currentID,
		RemoteFilename: s.currentRemote,
		VolumePath:     s.current.Path(),
		SourceSize:     s.sourceSize,
		FileSize:       s.current.FileSize(),
		CloseFlag:      true,
	}
	if s.accum != nil {
		req.IndexPath = s.accum.Path()
	}
	s.Log.Infof(logrus.Fields{"volume_id": s.currentID, "shard": s.ID, "event": "drain"}, "volume drained to spill pickup")
	s.SpillPickup.Send(req)

	s.current = nil
	s.accum = nil
	return nil
}

// disposeCurrent abandons any open volume and accumulator without
// emitting them: the Terminated and fatal-error policies and
// the empty-volume drain case all require this, never Output or
// SpillPickup.
func (s *Shard) disposeCurrent() {
	if s.current != nil {
		s.current.Dispose()
		s.current = nil
	}
	if s.accum != nil {
		s.accum.Dispose()
		s.accum = nil
	}
}
