package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	minio "github.com/minio/minio-go/v7"
)

// ObjectStore keeps the loader state as a JSON object in an S3-compatible
// bucket, for deployments where the service has no durable local disk.
type ObjectStore struct {
	cli    *minio.Client
	bucket string
	key    string
}

// NewObjectStore wraps an existing MinIO client. The bucket must already
// exist; key defaults to "state/loader_state.json" when empty.
func NewObjectStore(cli *minio.Client, bucket, key string) *ObjectStore {
	if key == "" {
		key = "state/loader_state.json"
	}
	return &ObjectStore{cli: cli, bucket: bucket, key: key}
}

// Load reads the state object. A missing object is a fresh start.
func (s *ObjectStore) Load() (*State, error) {
	ctx := context.Background()

	if _, err := s.cli.StatObject(ctx, s.bucket, s.key, minio.StatObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("stat state object: %w", err)
	}

	obj, err := s.cli.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get state object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read state object: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state object: %w", err)
	}
	return &st, nil
}

// Save overwrites the state object.
func (s *ObjectStore) Save(st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	reader := bytes.NewReader(data)
	_, err = s.cli.PutObject(context.Background(), s.bucket, s.key, reader, int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put state object: %w", err)
	}
	return nil
}
