// Package upload provides concrete collaborators for the external
// Uploader interface the core pipeline assumes but does not define: something
// that transmits a closed VolumeUploadRequest's bytes and transitions its
// durable index row out of Temporary.
package upload

import (
	"context"
	"fmt"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/metrics"
	"github.com/blockpack/blockpack/internal/pipeline"
)

// Uploader consumes VolumeUploadRequests drained from Output or
// SpillPickup. Implementations own transmitting the volume (and, if
// present, the synthesized index volume) and finalizing the durable
// index row.
type Uploader interface {
	Upload(ctx context.Context, req pipeline.VolumeUploadRequest) error
}

// Run drains reqs until the channel closes, uploading each request in
// turn. It returns the first upload error encountered; callers that want
// to keep draining on error should wrap Uploader themselves. m may be nil.
func Run(ctx context.Context, u Uploader, reqs <-chan pipeline.VolumeUploadRequest, m *metrics.Metrics) error {
	for req := range reqs {
		if err := u.Upload(ctx, req); err != nil {
			m.UploadError()
			return fmt.Errorf("upload: %w", err)
		}
		m.VolumeUploaded()
	}
	return nil
}

// finalize marks a volume Uploaded in the durable index once its bytes
// (and, if present, its index volume) are confirmed durable — the part
// of an uploader's job that transitions the durable volume state out of
// Temporary.
func finalize(ctx context.Context, idx blockindex.Index, volumeID int64) error {
	if err := idx.FinalizeVolume(ctx, volumeID, blockindex.VolumeStateUploaded); err != nil {
		return fmt.Errorf("finalize volume %d: %w", volumeID, err)
	}
	return nil
}

// readVolumeBytes reads a volume's (already-closed) temp file in full,
// shared by LocalDir and S3 since both need the whole object body.
func readVolumeBytes(fs fsx.FS, path string) ([]byte, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read volume file: %w", err)
	}
	return data, nil
}
