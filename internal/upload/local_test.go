package upload_test

import (
	"context"
	"testing"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/pipeline"
	"github.com/blockpack/blockpack/internal/upload"
)

func TestLocalDir_Upload_WritesVolumeAndFinalizesIndex(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/vol", 0o755)
	fs.MkdirAll("/dest", 0o755)
	if err := fs.WriteFile("/vol/volume.tmp", []byte("compressed-bytes"), 0o644); err != nil {
		t.Fatalf("seed volume file: %v", err)
	}

	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()
	volID, remoteFilename, err := idx.RegisterRemoteVolume(ctx)
	if err != nil {
		t.Fatalf("RegisterRemoteVolume: %v", err)
	}

	u := &upload.LocalDir{FS: fs, Index: idx, Dir: "/dest"}
	req := pipeline.VolumeUploadRequest{
		VolumeID:       volID,
		RemoteFilename: remoteFilename,
		VolumePath:     "/vol/volume.tmp",
		CloseFlag:      true,
	}

	if err := u.Upload(ctx, req); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	data, err := fs.ReadFile("/dest/" + remoteFilename)
	if err != nil {
		t.Fatalf("ReadFile dest: %v", err)
	}
	if string(data) != "compressed-bytes" {
		t.Fatalf("dest content = %q, want %q", data, "compressed-bytes")
	}

	meta, err := idx.VolumeMeta(ctx, volID)
	if err != nil {
		t.Fatalf("VolumeMeta: %v", err)
	}
	if meta.State != blockindex.VolumeStateUploaded {
		t.Fatalf("state after upload = %v, want Uploaded", meta.State)
	}
}

func TestLocalDir_Upload_WithIndexVolume(t *testing.T) {
	fs := fsx.NewMemoryFS()
	fs.MkdirAll("/vol", 0o755)
	fs.MkdirAll("/dest", 0o755)
	fs.WriteFile("/vol/volume.tmp", []byte("volume-bytes"), 0o644)
	fs.WriteFile("/vol/index.tmp", []byte("index-bytes"), 0o644)

	idx := blockindex.NewMemoryIndex()
	ctx := context.Background()
	volID, remoteFilename, _ := idx.RegisterRemoteVolume(ctx)

	u := &upload.LocalDir{FS: fs, Index: idx, Dir: "/dest"}
	req := pipeline.VolumeUploadRequest{
		VolumeID:       volID,
		RemoteFilename: remoteFilename,
		VolumePath:     "/vol/volume.tmp",
		IndexPath:      "/vol/index.tmp",
		CloseFlag:      true,
	}

	if err := u.Upload(ctx, req); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	data, err := fs.ReadFile("/dest/" + remoteFilename + ".index")
	if err != nil {
		t.Fatalf("ReadFile index dest: %v", err)
	}
	if string(data) != "index-bytes" {
		t.Fatalf("index dest content = %q, want %q", data, "index-bytes")
	}
}
