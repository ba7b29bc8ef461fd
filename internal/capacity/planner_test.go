package capacity_test

import (
	"testing"

	"github.com/blockpack/blockpack/internal/blockproc"
	"github.com/blockpack/blockpack/internal/capacity"
)

func opts(volumeSize int64) blockproc.Options {
	return blockproc.Options{VolumeSize: volumeSize}
}

func TestShouldRotate_ScenarioFromSpec(t *testing.T) {
	// volume_size = 10_000 => max_volume_size = 8_976.
	o := opts(10_000)
	if got := o.MaxVolumeSize(); got != 8976 {
		t.Fatalf("MaxVolumeSize = %d, want 8976", got)
	}

	// After A (8000): file_size ~= 8160, still within bound.
	fileSize := int64(8160)
	if capacity.ShouldRotate(fileSize, 0, o) {
		t.Fatal("should not rotate with no additional block")
	}

	// Before B (2000): 8160 + 2000*1.02 = 10200 > 8976 => rotate.
	if !capacity.ShouldRotate(fileSize, 2000, o) {
		t.Fatal("expected rotation before appending B")
	}
}

func TestShouldRotate_ExactBoundaryDoesNotRotate(t *testing.T) {
	o := opts(10_000) // max = 8976
	size := int64(100)
	// fileSize chosen so fileSize + size*1.02 lands exactly at max.
	fileSize := int64(float64(o.MaxVolumeSize()) - float64(size)*1.02)
	if capacity.ShouldRotate(fileSize, size, o) {
		t.Fatal("boundary case (== max) must not rotate; only > triggers rotation")
	}
	if !capacity.ShouldRotate(fileSize, size+1, o) {
		t.Fatal("one byte past the boundary must rotate")
	}
}

func TestWorstCaseGrowth(t *testing.T) {
	if g := capacity.WorstCaseGrowth(1000); g != 1000*102/100+1024 {
		t.Fatalf("WorstCaseGrowth(1000) = %d, want %d", g, 1000*102/100+1024)
	}
}
