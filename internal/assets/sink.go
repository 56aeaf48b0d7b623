// Package assets persists stage output objects: bytes go to the object
// store, the pointer record goes to the asset table.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

type Sink struct {
	client *minio.Client
	bucket string
	assets repo.AssetRepository
	clock  func() time.Time
}

func NewSink(client *minio.Client, bucket string, assets repo.AssetRepository) *Sink {
	return &Sink{
		client: client,
		bucket: bucket,
		assets: assets,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sink) Put(ctx context.Context, runID uuid.UUID, stageName string, input stage.AssetInput) (domain.Asset, error) {
	filename := strings.TrimSpace(input.Filename)
	if filename == "" {
		return domain.Asset{}, fmt.Errorf("asset filename is required")
	}
	key := path.Join("runs", runID.String(), stageName, filename)

	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(input.Body), int64(len(input.Body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return domain.Asset{}, fmt.Errorf("store object: %w", err)
	}

	extra := input.Extra.Clone()
	extra["content_type"] = contentType
	extra["size_bytes"] = len(input.Body)

	asset := domain.Asset{
		ID:         uuid.New(),
		RunID:      runID,
		Stage:      stageName,
		Kind:       input.Kind,
		StorageKey: key,
		Extra:      extra,
		CreatedAt:  s.clock(),
	}
	if err := s.assets.Create(ctx, asset); err != nil {
		return domain.Asset{}, fmt.Errorf("record asset: %w", err)
	}
	return asset, nil
}

// Open streams a stored object back, for download endpoints.
func (s *Sink) Open(ctx context.Context, storageKey string) (*minio.Object, error) {
	return s.client.GetObject(ctx, s.bucket, storageKey, minio.GetObjectOptions{})
}
