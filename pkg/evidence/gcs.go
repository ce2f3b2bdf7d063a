package evidence

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// GCSArchiver stores evidence blobs in a Google Cloud Storage bucket
// keyed by content hash.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds GCS archiver settings.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSArchiver creates a GCS-backed archiver using application
// default credentials.
func NewGCSArchiver(ctx context.Context, cfg GCSConfig) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "gcs client create failed")
	}
	return &GCSArchiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *GCSArchiver) object(hash string) *storage.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(a.prefix + hash + ".json")
}

func (a *GCSArchiver) Archive(ctx context.Context, payload any) (string, error) {
	data, ref, err := encode(payload)
	if err != nil {
		return "", err
	}
	hash, _ := rawHash(ref)
	obj := a.object(hash)

	if _, err := obj.Attrs(ctx); err == nil {
		return ref, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", faults.Wrap(faults.TransientExternal, err, "gcs write %s failed", hash)
	}
	if err := w.Close(); err != nil {
		return "", faults.Wrap(faults.TransientExternal, err, "gcs commit %s failed", hash)
	}
	return ref, nil
}

func (a *GCSArchiver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	hash, err := rawHash(ref)
	if err != nil {
		return nil, err
	}
	r, err := a.object(hash).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, faults.New(faults.NotFound, "evidence %s not found", ref)
		}
		return nil, faults.Wrap(faults.TransientExternal, err, "gcs read %s failed", ref)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
