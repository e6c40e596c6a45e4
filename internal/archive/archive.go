// Package archive writes finished run results to a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// Archiver serializes run results as JSON objects named
// runs/YYYY/MM/DD/<run_id>.json after the run's start date (UTC).
type Archiver struct {
	blobs monitor.BlobStore
}

// New returns an Archiver writing to blobs.
func New(blobs monitor.BlobStore) *Archiver {
	return &Archiver{blobs: blobs}
}

// ObjectPath returns the object name a run is archived under.
func ObjectPath(res monitor.RunResult) string {
	return path.Join("runs", res.StartedAt.UTC().Format("2006/01/02"), res.RunID+".json")
}

// Write stores res and returns the blob URI.
func (a *Archiver) Write(ctx context.Context, res monitor.RunResult) (string, error) {
	if a == nil || a.blobs == nil {
		return "", errors.New("archive blob store is not configured")
	}
	if res.RunID == "" {
		return "", errors.New("run id is required")
	}
	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run result: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, ObjectPath(res), "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("archive run %s: %w", res.RunID, err)
	}
	return uri, nil
}
