package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/config"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/util"
	"github.com/blockpack/blockpack/internal/volume"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every uploaded volume's framing against the index",
	Long: `Verify re-decodes every closed volume written by the local
uploader and checks each record's (hash_key, size) against the durable
index: the volume it lives in must be the one the index says owns that
block.

Content hashing of raw bytes is out of scope (hash_key is produced
upstream, opaquely), so verify never recomputes a digest. It checks
structure and index agreement, not payload authenticity.`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if cfg.Upload.Backend != "local" {
		return fmt.Errorf("verify: only the local upload backend can be checked from disk, got %q", cfg.Upload.Backend)
	}

	idx, closeIdx, err := openIndex(cfg.Index)
	if err != nil {
		return err
	}
	defer closeIdx()

	ctx := context.Background()
	metas, err := idx.ListVolumes(ctx)
	if err != nil {
		return fmt.Errorf("verify: list volumes: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })

	fmt.Print("\033[90mLegend:\033[0m \033[32m█\033[0m OK   \033[33m█\033[0m Skipped (not uploaded)   \033[31m█\033[0m Mismatch\n\n")

	fs := fsx.NewOSFS()
	var mu sync.Mutex
	var okCount, skipCount, badCount int
	var mismatches []string

	err = util.Parallel(metas, util.WorkerCount(), func(m blockindex.VolumeMeta) error {
		if m.State != blockindex.VolumeStateUploaded {
			mu.Lock()
			skipCount++
			mu.Unlock()
			fmt.Print("\033[33m█\033[0m")
			return nil
		}

		n, mismatchLines, verr := verifyVolumeFile(ctx, fs, idx, path.Join(cfg.Upload.LocalDir, m.RemoteFilename), m.ID)

		mu.Lock()
		defer mu.Unlock()
		if verr != nil {
			badCount++
			fmt.Print("\033[31m█\033[0m")
			mismatches = append(mismatches, fmt.Sprintf("volume %d: %v", m.ID, verr))
			return nil
		}
		if len(mismatchLines) > 0 {
			badCount++
			fmt.Print("\033[31m█\033[0m")
			mismatches = append(mismatches, mismatchLines...)
			return nil
		}
		okCount += n
		fmt.Print("\033[32m█\033[0m")
		return nil
	})
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("\nVolumes checked: %d   Skipped: %d   Bad: %d\n", len(metas)-skipCount, skipCount, badCount)
	fmt.Printf("Blocks checked OK: %d\n", okCount)

	if len(mismatches) > 0 {
		fmt.Println("\nProblems found:")
		for _, m := range mismatches {
			fmt.Printf("\033[31m%s\033[0m\n", m)
		}
		os.Exit(1)
	}

	return nil
}

// verifyVolumeFile decodes every record in path and checks it against idx.
// It returns the count of records that checked out clean and any mismatch
// descriptions; a non-nil error means the file itself could not be read or
// decoded at all.
func verifyVolumeFile(ctx context.Context, fs fsx.FS, idx blockindex.Index, path string, volumeID int64) (int, []string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r, err := volume.NewReader(f)
	if err != nil {
		return 0, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer r.Close()

	var ok int
	var mismatches []string
	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return ok, mismatches, fmt.Errorf("decode record in %s: %w", path, err)
		}
		if rec.IsBlocklistHashes {
			continue
		}

		owner, found, err := idx.FindBlockID(ctx, rec.HashKey, rec.Size)
		if err != nil {
			return ok, mismatches, fmt.Errorf("look up %s: %w", rec.HashKey, err)
		}
		if !found {
			mismatches = append(mismatches, fmt.Sprintf("volume %d: block %s (%d bytes) is not in the index", volumeID, rec.HashKey, rec.Size))
			continue
		}
		if owner != volumeID {
			mismatches = append(mismatches, fmt.Sprintf("volume %d: block %s (%d bytes) belongs to volume %d in the index", volumeID, rec.HashKey, rec.Size, owner))
			continue
		}
		ok++
	}
	return ok, mismatches, nil
}
