// Package gcs archives result snapshots to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// object describes one upload.
type object struct {
	Name        string
	ContentType string
	Metadata    map[string]string
}

// BlobStore writes each snapshot archive once. Archive names embed the run ID,
// so an upload that finds the object already present is reported as success.
type BlobStore struct {
	bucket    string
	newWriter func(ctx context.Context, obj object) io.WriteCloser
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return &BlobStore{
		bucket: cfg.Bucket,
		newWriter: func(ctx context.Context, obj object) io.WriteCloser {
			h := bucket.Object(obj.Name).If(storage.Conditions{DoesNotExist: true})
			w := h.NewWriter(ctx)
			w.ContentType = obj.ContentType
			w.Metadata = obj.Metadata
			w.CacheControl = "public, max-age=31536000, immutable"
			return w
		},
	}, nil
}

// PutObject uploads r as name and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("gcs: object name is required")
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, name)
	w := s.newWriter(ctx, object{Name: name, ContentType: contentType, Metadata: archiveMetadata(name)})
	if _, err := io.Copy(w, r); err != nil {
		return "", errors.Join(fmt.Errorf("gcs: upload %s: %w", name, err), w.Close())
	}
	if err := w.Close(); err != nil {
		if alreadyArchived(err) {
			return uri, nil
		}
		return "", fmt.Errorf("gcs: finalize %s: %w", name, err)
	}
	return uri, nil
}

// archiveMetadata recovers source, day and run from
// <prefix>/<source>/<YYYY-MM-DD>/<run_id>.json.
func archiveMetadata(name string) map[string]string {
	parts := strings.Split(name, "/")
	if len(parts) < 3 {
		return nil
	}
	n := len(parts)
	return map[string]string{
		"source": parts[n-3],
		"day":    parts[n-2],
		"run_id": strings.TrimSuffix(parts[n-1], path.Ext(parts[n-1])),
	}
}

func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
