package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
)

// Target creates the files a snapshot is written to.
type Target interface {
	Create(ctx context.Context, name string) (source.ParquetFile, error)
	Location(name string) string
}

type LocalTarget struct {
	Dir string
}

func (t LocalTarget) Create(_ context.Context, name string) (source.ParquetFile, error) {
	full := filepath.Join(t.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	fw, err := local.NewLocalFileWriter(full)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file writer: %w", err)
	}
	return fw, nil
}

func (t LocalTarget) Location(name string) string {
	return filepath.Join(t.Dir, filepath.FromSlash(name))
}

// S3API is the subset of the S3 client the exporter uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Target struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Target(ctx context.Context, region, bucket, prefix string) (*S3Target, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewS3TargetWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func NewS3TargetWithClient(client S3API, bucket, prefix string) *S3Target {
	return &S3Target{client: client, bucket: bucket, prefix: prefix}
}

func (t *S3Target) key(name string) string {
	return path.Join(t.prefix, name)
}

func (t *S3Target) Create(ctx context.Context, name string) (source.ParquetFile, error) {
	return &s3File{ctx: ctx, client: t.client, bucket: t.bucket, key: t.key(name)}, nil
}

func (t *S3Target) Location(name string) string {
	return "s3://" + t.bucket + "/" + t.key(name)
}

// s3File buffers the parquet output and uploads it on Close.
type s3File struct {
	ctx    context.Context
	client S3API
	bucket string
	key    string
	buf    bytes.Buffer
	offset int64
}

func (f *s3File) Open(string) (source.ParquetFile, error) { return f, nil }

func (f *s3File) Create(string) (source.ParquetFile, error) { return f, nil }

func (f *s3File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	default:
		return 0, fmt.Errorf("seek from end not supported for s3 uploads")
	}
	return f.offset, nil
}

func (f *s3File) Read([]byte) (int, error) {
	return 0, fmt.Errorf("read not supported for s3 uploads")
}

func (f *s3File) Write(p []byte) (int, error) {
	n, err := f.buf.Write(p)
	f.offset += int64(n)
	return n, err
}

func (f *s3File) Close() error {
	_, err := f.client.PutObject(f.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(f.bucket),
		Key:         aws.String(f.key),
		Body:        bytes.NewReader(f.buf.Bytes()),
		ContentType: aws.String("application/vnd.apache.parquet"),
	})
	if err != nil {
		return fmt.Errorf("unable to upload %s to S3: %w", f.key, err)
	}
	return nil
}
