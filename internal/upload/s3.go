package upload

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blockpack/blockpack/internal/blockindex"
	"github.com/blockpack/blockpack/internal/fsx"
	"github.com/blockpack/blockpack/internal/pipeline"
)

// S3Config configures an S3 uploader. Region/AccessKeyID/SecretAccessKey
// are only consumed when a *s3.Client isn't supplied directly.
type S3Config struct {
	Client          *s3.Client
	Bucket          string
	KeyPrefix       string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 uploads volumes (and index volumes) as objects in a bucket, keyed by
// the durable index's remote_filename.
type S3 struct {
	FS     fsx.FS
	Index  blockindex.Index
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Client builds an *s3.Client with config.LoadDefaultConfig. Static
// credentials are used when cfg.AccessKeyID is set; otherwise the SDK's
// default credential chain (environment, shared config, instance role)
// supplies them.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 upload: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// NewS3 constructs an S3 uploader, building a client from cfg if one
// isn't supplied.
func NewS3(ctx context.Context, fs fsx.FS, idx blockindex.Index, cfg S3Config) (*S3, error) {
	client := cfg.Client
	if client == nil {
		var err error
		client, err = NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 upload: bucket is required")
	}
	return &S3{FS: fs, Index: idx, client: client, bucket: cfg.Bucket, prefix: cfg.KeyPrefix}, nil
}

func (u *S3) objectKey(name string) string {
	if u.prefix == "" {
		return name
	}
	return u.prefix + name
}

func (u *S3) Upload(ctx context.Context, req pipeline.VolumeUploadRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := readVolumeBytes(u.FS, req.VolumePath)
	if err != nil {
		return err
	}

	objectName := req.RemoteFilename
	if objectName == "" {
		objectName = fmt.Sprintf("volume-%d.blockvol", req.VolumeID)
	}

	if err := u.putObject(ctx, objectName, data); err != nil {
		return err
	}

	if req.IndexPath != "" {
		indexData, err := readVolumeBytes(u.FS, req.IndexPath)
		if err != nil {
			return err
		}
		if err := u.putObject(ctx, objectName+".index", indexData); err != nil {
			return err
		}
	}

	return finalize(ctx, u.Index, req.VolumeID)
}

func (u *S3) putObject(ctx context.Context, key string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 upload: put object %s: %w", key, err)
	}
	return nil
}
