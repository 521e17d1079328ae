// Package archive stores a JSON copy of every scan cycle report in a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"
)

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ReportPath lays reports out by day: {prefix}/{yyyy}/{mm}/{dd}/{cycleID}.json.
func ReportPath(prefix, cycleID string, at time.Time) string {
	at = at.UTC()
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), cycleID+".json")
}

// Archiver writes reports under a fixed prefix.
type Archiver struct {
	store  BlobStore
	prefix string
}

// New builds an Archiver. A nil store makes Archive a no-op.
func New(store BlobStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: prefix}
}

// Archive marshals report and stores it, returning the object URI.
func (a *Archiver) Archive(ctx context.Context, cycleID string, at time.Time, report any) (string, error) {
	if a == nil || a.store == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	uri, err := a.store.PutObject(ctx, ReportPath(a.prefix, cycleID, at), "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return uri, nil
}
