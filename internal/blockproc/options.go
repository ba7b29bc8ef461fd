package blockproc

// IndexFilePolicy controls whether the pipeline maintains an Index
// Accumulator alongside each block volume.
type IndexFilePolicy int

const (
	// IndexPolicyNone disables the index accumulator entirely.
	IndexPolicyNone IndexFilePolicy = iota
	// IndexPolicyLookup is reserved for a lighter-weight index file the
	// uploader can build without the pipeline accumulating entries
	// itself; the pipeline treats it identically to None.
	IndexPolicyLookup
	// IndexPolicyFull enables the index accumulator (C3).
	IndexPolicyFull
)

// BlockCompressionOverhead is the fixed per-volume header/footer budget
// subtracted from VolumeSize to get MaxVolumeSize.
const BlockCompressionOverhead = 1024

// NonCompressibleExpansionFactor is the worst-case per-block expansion
// factor assumed by the capacity planner. It is advisory: a
// concrete compressor that expands more than this should use a larger
// factor, and a block that defeats even this widened bound is accepted
// with a warning rather than rejected outright.
const NonCompressibleExpansionFactor = 1.02

// Options configures one pipeline shard.
type Options struct {
	// VolumeSize is the target maximum compressed volume size in bytes.
	VolumeSize int64
	// IndexFilePolicy selects whether the index accumulator runs.
	IndexFilePolicy IndexFilePolicy
	// CompressionLevel is passed through to the volume writer unchanged;
	// the pipeline never interprets it.
	CompressionLevel int
}

// MaxVolumeSize is the threshold the capacity planner compares file_size
// against, with the compression header/footer overhead pre-subtracted so
// file_size itself may fill the entire value.
func (o Options) MaxVolumeSize() int64 {
	return o.VolumeSize - BlockCompressionOverhead
}
