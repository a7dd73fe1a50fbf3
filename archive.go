package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RawArchiver lands every fetched API page in the raw bucket as gzipped
// JSON, keyed by run correlation id and page offset, before any validation
// or deduplication touches the data. The bronze writers downstream consume
// from here.
type RawArchiver struct {
	cli    *minio.Client
	bucket string
	prefix string
}

// newMinioClient connects to the S3-compatible endpoint in the archive
// section of the config.
func newMinioClient(cfg ArchiveConfig) (*minio.Client, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}
	return cli, nil
}

// NewRawArchiver wraps an existing MinIO client and ensures the raw bucket
// exists.
func NewRawArchiver(cli *minio.Client, bucket, prefix string) (*RawArchiver, error) {
	ctx := context.Background()
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check raw bucket: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create raw bucket: %w", err)
		}
	}
	return &RawArchiver{cli: cli, bucket: bucket, prefix: prefix}, nil
}

// PutPage writes one raw API page under
// <prefix>/corr=<id>/offset=<n>.json.gz with run metadata.
func (a *RawArchiver) PutPage(corr string, offset int, raw []byte) error {
	compressed, err := gzipBytes(raw)
	if err != nil {
		return fmt.Errorf("compress page: %w", err)
	}

	key := fmt.Sprintf("%s/corr=%s/offset=%d.json.gz", a.prefix, corr, offset)
	meta := map[string]string{
		"run_id":    corr,
		"ingest_ts": time.Now().UTC().Format(time.RFC3339),
	}

	reader := bytes.NewReader(compressed)
	_, err = a.cli.PutObject(context.Background(), a.bucket, key, reader, int64(len(compressed)),
		minio.PutObjectOptions{
			ContentType:     "application/json",
			ContentEncoding: "gzip",
			UserMetadata:    meta,
		})
	if err != nil {
		return fmt.Errorf("put raw page %s: %w", key, err)
	}
	return nil
}

// gzipBytes compresses a payload in memory.
func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
