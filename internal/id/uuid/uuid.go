// Package uuid issues time-ordered identifiers for scan cycles.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string. Cycle IDs sort in the order cycles started.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Timestamp extracts the creation time embedded in a UUID7 string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse uuid: %w", err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("uuid %s is version %d, want 7", id, parsed.Version())
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
