// Package archive keeps raw copies of pages the pipeline could not use, so
// selector drift and challenge pages can be diagnosed later.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Archiver writes raw pages to a blob store.
type Archiver struct {
	blobs discovery.BlobStore
}

// New wraps blobs. A nil store yields an Archiver that discards pages.
func New(blobs discovery.BlobStore) *Archiver {
	return &Archiver{blobs: blobs}
}

// Archive stores page under pages/{task}/{page}-{kind}-{digest}.html and
// returns the blob URI. It returns "" when archiving is disabled.
func (a *Archiver) Archive(ctx context.Context, taskID string, page discovery.RawPage, kind string) (string, error) {
	if a == nil || a.blobs == nil {
		return "", nil
	}
	body := []byte(page.HTML)
	path := fmt.Sprintf("pages/%s/%04d-%s-%s.html", taskID, page.Number, kind, Digest(body)[:12])
	uri, err := a.blobs.PutObject(ctx, path, "text/html; charset=utf-8", body)
	if err != nil {
		return "", fmt.Errorf("archive page %d: %w", page.Number, err)
	}
	return uri, nil
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
