package commands

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zeebo/xxh3"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/blockproc"
	"github.com/blockpack/blockpack/internal/config"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/gate"
	"github.com/blockpack/blockpack/internal/logging"
	"github.com/blockpack/blockpack/internal/metrics"
	"github.com/blockpack/blockpack/internal/pipeline"
	"github.com/blockpack/blockpack/internal/progress"
	"github.com/blockpack/blockpack/internal/upload"
)

var demoBlockCount int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the block processor until terminated",
	Long: `Run starts one or more Pipeline Core shards consuming blocks from
the Channel Fabric's Input queue and packing survivors into volumes.

There is no upstream chunker in this build (content hashing/chunking of
source files is out of scope); --demo-blocks feeds the pipeline a
synthetic stream so the dedup/rotation/upload path can be exercised
end to end.

Signals:
  SIGUSR1          toggle the Task Reader's pause/resume gate
  SIGINT/SIGTERM   request termination; a shard that reaches its progress
                   gate discards its open volume and exits`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&demoBlockCount, "demo-blocks", 0, "generate N synthetic blocks instead of waiting for a real producer")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, logging.Format(cfg.Logging.Format))
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	idx, closeIdx, err := openIndex(cfg.Index)
	if err != nil {
		return err
	}
	defer closeIdx()

	uploader, err := buildUploader(cfg.Upload, idx)
	if err != nil {
		return err
	}

	fs := fsx.NewOSFS()
	if err := os.MkdirAll(cfg.Pipeline.VolumeDir, 0o755); err != nil {
		return fmt.Errorf("run: create volume dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := gate.New()
	watchSignals(g, cancel, logger)

	inputCh := make(chan blockproc.Block, cfg.Pipeline.InputBufferSize)
	outputCh := make(chan pipeline.VolumeUploadRequest, cfg.Pipeline.OutputBufferSize)
	spillCh := make(chan pipeline.VolumeUploadRequest, cfg.Pipeline.OutputBufferSize)
	logCh, stopLog := pipeline.NewLogChannel(logger, 256)
	defer stopLog()

	var shardWG sync.WaitGroup
	for i := 0; i < cfg.Pipeline.Shards; i++ {
		s := &pipeline.Shard{
			ID:      i,
			Index:   idx,
			FS:      fs,
			VolDir:  cfg.Pipeline.VolumeDir,
			Options: cfg.Pipeline.Options(),
			Gate:    g,
			Log:     logCh,
			Metrics: m,

			Input:       pipeline.NewInput(inputCh),
			Output:      pipeline.NewOutput(outputCh),
			SpillPickup: pipeline.NewSpillPickup(spillCh),
		}
		shardWG.Add(1)
		go func(s *pipeline.Shard) {
			defer shardWG.Done()
			if err := s.Run(ctx); err != nil {
				logger.WithError(err).WithField("shard", s.ID).Error("shard exited")
			}
		}(s)
	}

	var uploadWG sync.WaitGroup
	uploadWG.Add(2)
	go func() {
		defer uploadWG.Done()
		if err := upload.Run(ctx, uploader, outputCh, m); err != nil {
			logger.WithError(err).Error("output uploader exited")
		}
	}()
	go func() {
		defer uploadWG.Done()
		if err := upload.Run(ctx, uploader, spillCh, m); err != nil {
			logger.WithError(err).Error("spill uploader exited")
		}
	}()

	if demoBlockCount > 0 {
		tracker := progress.NewProgress(demoBlockCount, "packing blocks")
		generateDemoBlocks(inputCh, demoBlockCount, tracker)
		tracker.Finish()
	}
	close(inputCh)

	shardWG.Wait()
	close(outputCh)
	close(spillCh)
	uploadWG.Wait()

	return nil
}

// watchSignals toggles g's pause state on SIGUSR1 and requests
// termination (via both g and cancel) on SIGINT/SIGTERM.
func watchSignals(g *gate.Gate, cancel context.CancelFunc, logger *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	var paused bool
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				paused = !paused
				if paused {
					logger.Info("pause requested")
					g.Pause()
				} else {
					logger.Info("resume requested")
					g.Resume()
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("terminate requested")
				g.Terminate()
				cancel()
				return
			}
		}
	}()
}

func openIndex(cfg config.IndexConfig) (blockindex.Index, func(), error) {
	switch cfg.Backend {
	case "memory":
		idx := blockindex.NewMemoryIndex()
		return idx, func() { idx.Close() }, nil
	default:
		idx, err := blockindex.Open(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("run: open index: %w", err)
		}
		return idx, func() { idx.Close() }, nil
	}
}

func buildUploader(cfg config.UploadConfig, idx blockindex.Index) (upload.Uploader, error) {
	fs := fsx.NewOSFS()
	switch cfg.Backend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		return upload.NewS3(ctx, fs, idx, upload.S3Config{
			Bucket: cfg.S3Bucket,
			KeyPrefix: cfg.S3Prefix,
			Region: cfg.S3Region,
		})
	default:
		if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
			return nil, err
		}
		return &upload.LocalDir{FS: fs, Index: idx, Dir: cfg.LocalDir}, nil
	}
}

// generateDemoBlocks feeds n synthetic blocks into ch, each with a fresh
// Completion that the shard resolves and nobody waits on, with roughly a third
// re-using an earlier block's bytes to give the dedup path something to
// find. Grounded on keshon-bvc's block.HashBlock: hash_key is the hex
// xxh3-128 digest of the block's bytes.
func generateDemoBlocks(ch chan<- blockproc.Block, n int, tracker *progress.ProgressTracker) {
	rng := rand.New(rand.NewSource(1))
	var seen [][]byte
	for i := 0; i < n; i++ {
		var data []byte
		if len(seen) > 0 && rng.Intn(3) == 0 {
			data = seen[rng.Intn(len(seen))]
		} else {
			data = make([]byte, 4096)
			rng.Read(data)
			seen = append(seen, data)
		}

		hash := xxh3.Hash128(data).Bytes()
		ch <- blockproc.Block{
			HashKey:    fmt.Sprintf("%x", hash),
			Size:       int64(len(data)),
			Data:       data,
			Completion: blockproc.NewCompletion(),
		}
		tracker.Increment()
	}
}
