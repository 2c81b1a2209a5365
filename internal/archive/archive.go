package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Writer stores a named JSON document and returns where it went.
type Writer interface {
	Write(ctx context.Context, name string, data []byte) (string, error)
}

// FileWriter writes documents to the local filesystem. When Path is set,
// every write goes to that exact file; otherwise documents land in Dir.
type FileWriter struct {
	Dir  string
	Path string
}

func (w FileWriter) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := w.Path
	if target == "" {
		if w.Dir == "" {
			return "", fmt.Errorf("archive directory is required")
		}
		target = filepath.Join(w.Dir, filepath.Base(name))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}
	return target, nil
}

// GCSWriter uploads documents to a Cloud Storage bucket.
type GCSWriter struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSWriter creates a storage client using application default credentials.
func NewGCSWriter(ctx context.Context, bucket, prefix string) (*GCSWriter, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSWriter{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectName returns the object path for name under the prefix.
func (w *GCSWriter) ObjectName(name string) string {
	if w.prefix == "" {
		return name
	}
	return path.Join(w.prefix, name)
}

func (w *GCSWriter) Write(ctx context.Context, name string, data []byte) (string, error) {
	object := w.ObjectName(name)
	ow := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	ow.ContentType = "application/json"
	if _, err := ow.Write(data); err != nil {
		ow.Close()
		return "", fmt.Errorf("failed to upload %s: %w", object, err)
	}
	if err := ow.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, object), nil
}

// Close releases the storage client.
func (w *GCSWriter) Close() error {
	return w.client.Close()
}

// FileName is the archive name of a monitoring cycle.
func FileName(monitoringID string) string {
	return "monitoring_" + monitoringID + ".json"
}
