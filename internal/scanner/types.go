package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/catalog"
	"github.com/CWD273/cwiptvm3/internal/discovery"
)

var (
	// ErrCycleInProgress means another cycle or refresh holds the scan lock.
	ErrCycleInProgress = errors.New("scan cycle already in progress")
	// ErrUnknownChannel means the channel is not in the current catalog.
	ErrUnknownChannel = errors.New("channel not in catalog")
)

// Cycle outcomes recorded in reports and metrics.
const (
	OutcomeOK           = "ok"
	OutcomeCatalogError = "catalog_error"
	OutcomeCanceled     = "canceled"
	OutcomePartial      = "partial"
	OutcomeStoreError   = "store_error"
)

// Catalog supplies the channels to resolve.
type Catalog interface {
	Fetch(ctx context.Context) ([]catalog.Channel, error)
}

// Resolver finds a working URL for one channel.
type Resolver interface {
	Resolve(ctx context.Context, ch catalog.Channel, cachedURL string) discovery.Outcome
}

// Notifier announces cache changes.
type Notifier interface {
	Notify(ctx context.Context, cycleID string, at time.Time, changes []cache.Change) (int, error)
}

// Archiver stores finished reports.
type Archiver interface {
	Archive(ctx context.Context, cycleID string, at time.Time, report any) (string, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Report summarises one scan cycle.
type Report struct {
	CycleID    string          `json:"cycle_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Outcome    string          `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	Channels   int             `json:"channels"`
	Working    int             `json:"working"`
	Failed     int             `json:"failed"`
	Unresolved int             `json:"unresolved"`
	BySource   map[string]int  `json:"by_source"`
	Results    []ChannelResult `json:"results"`
	Changes    []cache.Change  `json:"changes"`
	ArchiveURI string          `json:"archive_uri,omitempty"`
}

// Duration is the wall-clock length of the cycle.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ChannelResult is the per-channel line of a report.
type ChannelResult struct {
	ChannelID  string `json:"channel_id"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	URL        string `json:"url,omitempty"`
	Attempts   int    `json:"attempts"`
	LastStatus string `json:"last_status,omitempty"`
	Error      string `json:"error,omitempty"`
}
