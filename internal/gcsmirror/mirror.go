// Package gcsmirror copies persisted report documents into a GCS bucket so
// downstream consumers can read them without filesystem access to the
// generation host.
package gcsmirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// ObjectStore uploads report files. Implementations wrap a cloud bucket;
// tests substitute fakes.
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName, filePath string) error
	Close() error
}

// GCSStore is the Google Cloud Storage implementation of ObjectStore.
// It assumes Application Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a store uploading into the given bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSStore: empty bucket name")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// UploadFile uploads a local file to the bucket under the given object name.
func (s *GCSStore) UploadFile(ctx context.Context, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ ObjectStore = (*GCSStore)(nil)

// Mirror uploads persisted report documents after a batch run. Mirroring is
// best effort: an upload failure is logged but never fails the batch, since
// the local document is already the source of truth.
type Mirror struct {
	store  ObjectStore
	prefix string
	log    zerolog.Logger
}

// New creates a mirror writing under the given object prefix.
func New(store ObjectStore, prefix string, log zerolog.Logger) *Mirror {
	return &Mirror{store: store, prefix: prefix, log: log}
}

// MirrorReport uploads one report file, keyed the same way it is laid out on
// disk: <prefix>/<year>/<month name>/<user_id>.json.
func (m *Mirror) MirrorReport(ctx context.Context, localPath, userID string, year int, month time.Month) error {
	object := path.Join(m.prefix, strconv.Itoa(year), month.String(), userID+".json")
	if err := m.store.UploadFile(ctx, object, localPath); err != nil {
		return fmt.Errorf("MirrorReport: upload %s: %w", object, err)
	}
	m.log.Info().Str("object", object).Msg("report mirrored")
	return nil
}

// MirrorAll uploads every path in the list and returns how many succeeded.
type Upload struct {
	UserID string
	Path   string
}

// MirrorAll uploads the given reports, continuing past individual failures.
func (m *Mirror) MirrorAll(ctx context.Context, year int, month time.Month, uploads []Upload) int {
	ok := 0
	for _, u := range uploads {
		if err := m.MirrorReport(ctx, u.Path, u.UserID, year, month); err != nil {
			m.log.Error().Err(err).Str("user_id", u.UserID).Msg("report mirror failed")
			continue
		}
		ok++
	}
	return ok
}
