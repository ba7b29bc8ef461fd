package commands

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/spf13/cobra"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/config"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/volume"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report per-volume sizes and the overall dedup ratio",
	Long: `Stats enumerates every volume the index knows about and, for
uploaded ones stored under the local backend, reports the on-disk
(packed) size next to the sum of the source block sizes it holds. The
ratio between the two is how much deduplication and compression bought
you.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	idx, closeIdx, err := openIndex(cfg.Index)
	if err != nil {
		return err
	}
	defer closeIdx()

	ctx := context.Background()
	metas, err := idx.ListVolumes(ctx)
	if err != nil {
		return fmt.Errorf("stats: list volumes: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })

	fs := fsx.NewOSFS()
	var totalSourceBytes, totalPackedBytes int64
	var countByState = map[blockindex.VolumeState]int{}

	fmt.Printf("%-8s %-10s %-14s %-14s %s\n", "ID", "STATE", "SOURCE BYTES", "PACKED BYTES", "RATIO")
	for _, m := range metas {
		countByState[m.State]++

		sourceBytes, packedBytes, err := volumeSizes(fs, cfg, m)
		if err != nil {
			fmt.Printf("%-8d %-10s %-14s %-14s %s\n", m.ID, m.State, "-", "-", fmt.Sprintf("(%v)", err))
			continue
		}

		totalSourceBytes += sourceBytes
		totalPackedBytes += packedBytes
		fmt.Printf("%-8d %-10s %-14d %-14d %s\n", m.ID, m.State, sourceBytes, packedBytes, ratioString(sourceBytes, packedBytes))
	}

	fmt.Printf("\nVolumes: %d", len(metas))
	for _, s := range []blockindex.VolumeState{blockindex.VolumeStatePending, blockindex.VolumeStateClosed, blockindex.VolumeStateUploaded} {
		fmt.Printf("  %s=%d", s, countByState[s])
	}
	fmt.Println()

	fmt.Printf("Total source bytes: %d\n", totalSourceBytes)
	fmt.Printf("Total packed bytes: %d\n", totalPackedBytes)
	fmt.Printf("Overall ratio: %s\n", ratioString(totalSourceBytes, totalPackedBytes))

	return nil
}

// volumeSizes reports a volume's packed (on-disk) size and the sum of its
// non-blocklist records' sizes. Only uploaded volumes under the local
// backend can be inspected this way; any other volume yields an error.
func volumeSizes(fs fsx.FS, cfg *config.Config, m blockindex.VolumeMeta) (sourceBytes, packedBytes int64, err error) {
	if cfg.Upload.Backend != "local" || m.State != blockindex.VolumeStateUploaded {
		return 0, 0, fmt.Errorf("not on local disk")
	}

	dest := path.Join(cfg.Upload.LocalDir, m.RemoteFilename)
	info, err := fs.Stat(dest)
	if err != nil {
		return 0, 0, err
	}
	packedBytes = info.Size()

	records, err := readVolumeRecords(fs, dest)
	if err != nil {
		return 0, packedBytes, err
	}
	for _, rec := range records {
		if rec.IsBlocklistHashes {
			continue
		}
		sourceBytes += rec.Size
	}
	return sourceBytes, packedBytes, nil
}

func readVolumeRecords(fs fsx.FS, path string) ([]volume.Record, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return volume.ReadAll(f)
}

func ratioString(sourceBytes, packedBytes int64) string {
	if packedBytes <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", float64(sourceBytes)/float64(packedBytes))
}
