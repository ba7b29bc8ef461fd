// Package blockproc holds the data model shared by the block index,
// volume writer, index accumulator, and pipeline: the Block arriving on
// the input channel and the VolumeUploadRequest handed to the uploader.
package blockproc

import "sync"

// Block is a candidate data block arriving on the pipeline's input
// channel. HashKey and Size together identify the block's content;
// Data/Offset describe where its bytes live; IsBlocklistHashes marks a
// block whose payload is itself a concatenation of other blocks' hash
// keys, used to reconstruct large files.
type Block struct {
	HashKey           string
	Size              int64
	Data              []byte
	Offset            int64
	IsBlocklistHashes bool
	Hint              CompressionHint
	Completion        *Completion
}

// CompressionHint is an opaque pass-through to the volume writer; the
// pipeline never inspects it.
type CompressionHint struct {
	Label string
}

// Completion is a one-shot signal resolved with whether a block caused a
// new index row (was_new). Exactly one Resolve call per block is honored;
// later calls are no-ops, so a block resolves exactly once.
type Completion struct {
	once sync.Once
	done chan struct{}
	val  bool
}

// NewCompletion returns an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve sets the completion's value. Only the first call takes effect.
func (c *Completion) Resolve(wasNew bool) {
	c.once.Do(func() {
		c.val = wasNew
		close(c.done)
	})
}

// Wait blocks until Resolve has been called and returns the resolved
// value. It is safe to call Wait from multiple goroutines.
func (c *Completion) Wait() bool {
	<-c.done
	return c.val
}

// Resolved reports whether Resolve has already been called, without
// blocking.
func (c *Completion) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
