// Package cache holds the last-known-good stream URL for each channel and persists it.
//
// An entry exists only while its last probe succeeded. The scanner swaps the whole snapshot once
// per cycle; readers always see either the previous or the next cycle's state.
package cache

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a channel has no working stream cached.
var ErrNotFound = errors.New("cache entry not found")

// SourceLoaded marks entries restored from the store at startup.
const SourceLoaded = "loaded"

// Entry is one cached working stream. Name, GroupTitle and LogoURL are copied from the catalog
// and are not persisted; entries loaded at startup get them back on the next cycle.
type Entry struct {
	ChannelID  string    `json:"channel_id"`
	URL        string    `json:"url"`
	Source     string    `json:"source"`
	CheckedAt  time.Time `json:"checked_at"`
	Name       string    `json:"name,omitempty"`
	GroupTitle string    `json:"group_title,omitempty"`
	LogoURL    string    `json:"logo_url,omitempty"`
}

// Snapshot is the full cache keyed by channel ID.
type Snapshot map[string]Entry

// Sorted returns the entries ordered by channel ID.
func (s Snapshot) Sorted() []Entry {
	out := make([]Entry, 0, len(s))
	for _, e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// URLs flattens the snapshot to channel ID → URL.
func (s Snapshot) URLs() map[string]string {
	out := make(map[string]string, len(s))
	for id, e := range s {
		out[id] = e.URL
	}
	return out
}

// Store persists snapshots between process restarts.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// ChangeKind classifies a difference between two snapshots.
type ChangeKind string

const (
	// ChangeAdded is a channel that gained a working stream.
	ChangeAdded ChangeKind = "added"
	// ChangeChanged is a channel whose working URL moved.
	ChangeChanged ChangeKind = "changed"
	// ChangeRemoved is a channel that lost its working stream.
	ChangeRemoved ChangeKind = "removed"
)

// Change describes how one channel differs between snapshots.
type Change struct {
	ChannelID string     `json:"channel_id"`
	Kind      ChangeKind `json:"kind"`
	OldURL    string     `json:"old_url,omitempty"`
	NewURL    string     `json:"new_url,omitempty"`
}

// Diff lists the URL changes from prev to next, ordered by channel ID.
// Entries whose URL is unchanged are not reported even if their check time moved.
func Diff(prev, next Snapshot) []Change {
	var changes []Change
	for id, n := range next {
		p, ok := prev[id]
		switch {
		case !ok:
			changes = append(changes, Change{ChannelID: id, Kind: ChangeAdded, NewURL: n.URL})
		case p.URL != n.URL:
			changes = append(changes, Change{ChannelID: id, Kind: ChangeChanged, OldURL: p.URL, NewURL: n.URL})
		}
	}
	for id, p := range prev {
		if _, ok := next[id]; !ok {
			changes = append(changes, Change{ChannelID: id, Kind: ChangeRemoved, OldURL: p.URL})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ChannelID < changes[j].ChannelID })
	return changes
}
