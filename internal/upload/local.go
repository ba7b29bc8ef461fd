package upload

import (
	"context"
	"fmt"
	"path"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/pipeline"
)

// LocalDir uploads by copying a closed volume's temp file (and its index
// volume, if any) into a destination directory, named by the durable
// index's remote_filename.
type LocalDir struct {
	FS    fsx.FS
	Index blockindex.Index
	Dir   string
}

func (u *LocalDir) Upload(ctx context.Context, req pipeline.VolumeUploadRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := readVolumeBytes(u.FS, req.VolumePath)
	if err != nil {
		return err
	}

	destName := req.RemoteFilename
	if destName == "" {
		destName = fmt.Sprintf("volume-%d.blockvol", req.VolumeID)
	}
	dest := path.Join(u.Dir, destName)
	if err := u.FS.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("local upload: write %s: %w", dest, err)
	}

	if req.IndexPath != "" {
		indexData, err := readVolumeBytes(u.FS, req.IndexPath)
		if err != nil {
			return err
		}
		indexDest := path.Join(u.Dir, destName+".index")
		if err := u.FS.WriteFile(indexDest, indexData, 0o644); err != nil {
			return fmt.Errorf("local upload: write %s: %w", indexDest, err)
		}
	}

	return finalize(ctx, u.Index, req.VolumeID)
}
