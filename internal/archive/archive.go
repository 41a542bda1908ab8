// Package archive stores raw search provider payloads in a blob store.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const contentType = "application/json"

// Archiver writes payloads under <prefix>/<scan_id>/<job_id>-<sha256>.json.
type Archiver struct {
	store  monitor.BlobStore
	prefix string
}

// New returns an Archiver over store.
func New(store monitor.BlobStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// SavePayload archives one provider payload and returns its URI.
func (a *Archiver) SavePayload(ctx context.Context, scanID, jobID string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("payload is empty")
	}
	uri, err := a.store.PutObject(ctx, a.Path(scanID, jobID, Digest(payload)), contentType, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("put payload: %w", err)
	}
	return uri, nil
}

// Path builds the object path for a payload digest.
func (a *Archiver) Path(scanID, jobID, digest string) string {
	name := fmt.Sprintf("%s/%s-%s.json", scanID, jobID, digest)
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
