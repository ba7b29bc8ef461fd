// Package capacity implements the Capacity Planner (C4): the decision of
// whether the next block forces the current volume to rotate.
package capacity

import "github.com/blockpack/blockpack/internal/blockproc"

// WorstCaseGrowth returns the upper bound on how much a block's addition
// may grow a volume's compressed file_size.
func WorstCaseGrowth(size int64) int64 {
	return int64(float64(size)*blockproc.NonCompressibleExpansionFactor) + blockproc.BlockCompressionOverhead
}

// ShouldRotate reports whether appending a block of the given size to a
// volume currently at fileSize would exceed opts.MaxVolumeSize(), per the
// rule:
//
//	rotate iff current_volume.file_size + size*NonCompressibleExpansionFactor > max_volume_size
//
// Note the rotation check itself omits BlockCompressionOverhead (that
// constant is already folded into MaxVolumeSize), matching the
// rationale for pre-subtracting the header budget from the threshold.
func ShouldRotate(fileSize, size int64, opts blockproc.Options) bool {
	grown := float64(fileSize) + float64(size)*blockproc.NonCompressibleExpansionFactor
	return grown > float64(opts.MaxVolumeSize())
}
