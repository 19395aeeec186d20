package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/eventfaces/internal/config"
)

// MinIOStore keeps image bytes and, optionally, encoded embeddings as
// objects in a single bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// --- Images ---

func (s *MinIOStore) PutImage(ctx context.Context, eventID, imageID string, data []byte, contentType string) error {
	return s.putObject(ctx, imageKey(eventID, imageID), data, contentType)
}

func (s *MinIOStore) Location(eventID, imageID string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, imageKey(eventID, imageID))
}

func (s *MinIOStore) GetImage(ctx context.Context, eventID, imageID string) ([]byte, error) {
	return s.getObject(ctx, imageKey(eventID, imageID))
}

func (s *MinIOStore) DeleteImage(ctx context.Context, eventID, imageID string) error {
	key := imageKey(eventID, imageID)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOStore) ListImages(ctx context.Context, eventID string) ([]string, error) {
	prefix := imagePrefix(eventID)
	keys, err := s.listObjects(ctx, prefix, true)
	if err != nil {
		return nil, err
	}
	return segments(keys, prefix), nil
}

func (s *MinIOStore) ListEvents(ctx context.Context) ([]string, error) {
	keys, err := s.listObjects(ctx, "events/", false)
	if err != nil {
		return nil, err
	}
	return segments(keys, "events/"), nil
}

// --- Embeddings ---

// PutEmbeddings is not transactional on object storage: stale faces are
// removed first and a failed write removes whatever was written.
func (s *MinIOStore) PutEmbeddings(ctx context.Context, eventID, imageID string, payloads [][]byte) error {
	if err := s.DeleteEmbeddings(ctx, eventID, imageID); err != nil {
		return err
	}

	prefix := embeddingPrefix(eventID, imageID)
	for i, p := range payloads {
		key := fmt.Sprintf("%s%04d", prefix, i)
		if err := s.putObject(ctx, key, p, "application/octet-stream"); err != nil {
			if cerr := s.DeleteEmbeddings(ctx, eventID, imageID); cerr != nil {
				return fmt.Errorf("%w (cleanup: %v)", err, cerr)
			}
			return err
		}
	}
	return nil
}

func (s *MinIOStore) GetEmbeddings(ctx context.Context, eventID, imageID string) ([][]byte, error) {
	keys, err := s.listObjects(ctx, embeddingPrefix(eventID, imageID), true)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	payloads := make([][]byte, 0, len(keys))
	for _, key := range keys {
		data, err := s.getObject(ctx, key)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, data)
	}
	return payloads, nil
}

func (s *MinIOStore) DeleteEmbeddings(ctx context.Context, eventID, imageID string) error {
	keys, err := s.listObjects(ctx, embeddingPrefix(eventID, imageID), true)
	if err != nil {
		return err
	}
	return s.deleteObjects(ctx, keys)
}

func (s *MinIOStore) ListEmbeddings(ctx context.Context, eventID string) ([]string, error) {
	prefix := embeddingPrefix(eventID, "")
	keys, err := s.listObjects(ctx, prefix, true)
	if err != nil {
		return nil, err
	}
	return segments(keys, prefix), nil
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *MinIOStore) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOStore) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *MinIOStore) listObjects(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// deleteObjects removes multiple objects in a single batch request.
func (s *MinIOStore) deleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// segments returns the distinct first path segments after prefix, sorted.
func segments(keys []string, prefix string) []string {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if seg, ok := segment(k, prefix); ok {
			seen[seg] = struct{}{}
		}
	}
	return sortedKeys(seen)
}
