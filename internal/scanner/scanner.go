package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/catalog"
	"github.com/CWD273/cwiptvm3/internal/discovery"
	"github.com/CWD273/cwiptvm3/internal/metrics"
	"github.com/CWD273/cwiptvm3/internal/telemetry"
)

// Config governs cycle execution.
type Config struct {
	Concurrency  int
	CycleTimeout time.Duration
}

// Deps are the collaborators a Scanner needs. Notifier and Archiver are optional.
type Deps struct {
	Catalog  Catalog
	Resolver Resolver
	Table    *cache.Table
	Store    cache.Store
	Notifier Notifier
	Archiver Archiver
	Clock    Clock
	IDs      IDGenerator
	Logger   *zap.Logger
	// Tracer defaults to the global provider's service tracer.
	Tracer trace.Tracer
}

// Scanner owns the working-stream cache and every mutation of it.
type Scanner struct {
	cfg  Config
	deps Deps

	lock    sync.Mutex
	refresh singleflight.Group
	loaded  atomic.Bool

	mu   sync.RWMutex
	last *Report

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Scanner.
func New(cfg Config, deps Deps) (*Scanner, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("scanner: catalog is required")
	case deps.Resolver == nil:
		return nil, errors.New("scanner: resolver is required")
	case deps.Table == nil:
		return nil, errors.New("scanner: table is required")
	case deps.Store == nil:
		return nil, errors.New("scanner: store is required")
	case deps.Clock == nil:
		return nil, errors.New("scanner: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("scanner: id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{cfg: cfg, deps: deps, baseCtx: ctx, cancel: cancel}, nil
}

// Startup loads the persisted snapshot into the table. It runs once; later calls are no-ops.
func (s *Scanner) Startup(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}
	snap, err := s.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	if err := s.deps.Table.Replace(snap); err != nil {
		return fmt.Errorf("seed cache: %w", err)
	}
	s.loaded.Store(true)
	metrics.SetCachedStreams(len(snap))
	s.deps.Logger.Info("cache loaded", zap.Int("entries", len(snap)))
	return nil
}

// Ready reports whether Startup has completed.
func (s *Scanner) Ready() bool {
	return s.loaded.Load()
}

// Lookup returns the cached entry for a channel.
func (s *Scanner) Lookup(channelID string) (cache.Entry, error) {
	e, ok := s.deps.Table.Get(channelID)
	if !ok {
		return cache.Entry{}, cache.ErrNotFound
	}
	return e, nil
}

// Entries returns every cached entry ordered by channel ID.
func (s *Scanner) Entries() []cache.Entry {
	return s.deps.Table.All()
}

// LastReport returns the most recently finished cycle report.
func (s *Scanner) LastReport() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// RunCycle runs one scan cycle and blocks until it finishes.
func (s *Scanner) RunCycle(ctx context.Context) (Report, error) {
	if !s.lock.TryLock() {
		return Report{}, ErrCycleInProgress
	}
	defer s.lock.Unlock()
	return s.runLocked(ctx)
}

// Trigger starts a cycle in the background and returns once the scan lock is held.
// The cycle outlives the caller's request; Close cancels it.
func (s *Scanner) Trigger() error {
	if !s.lock.TryLock() {
		return ErrCycleInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.lock.Unlock()
		if _, err := s.runLocked(s.baseCtx); err != nil {
			s.deps.Logger.Warn("triggered cycle failed", zap.Error(err))
		}
	}()
	return nil
}

// Close cancels background cycles and waits for them to return.
func (s *Scanner) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scanner) runLocked(ctx context.Context) (Report, error) {
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}
	ctx, span := s.deps.Tracer.Start(ctx, "scan.cycle")
	defer span.End()

	cycleID, err := s.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("cycle id: %w", err)
	}
	span.SetAttributes(attribute.String("cycle.id", cycleID))
	report := Report{
		CycleID:   cycleID,
		StartedAt: s.deps.Clock.Now(),
		BySource:  map[string]int{},
		Results:   []ChannelResult{},
		Changes:   []cache.Change{},
	}
	logger := s.deps.Logger.With(zap.String("cycle_id", cycleID))
	logger.Info("scan cycle started")

	channels, err := s.deps.Catalog.Fetch(ctx)
	if err != nil {
		err = fmt.Errorf("fetch catalog: %w", err)
		if ctx.Err() != nil {
			return s.finish(ctx, logger, report, OutcomeCanceled, err)
		}
		return s.finish(ctx, logger, report, OutcomeCatalogError, err)
	}
	report.Channels = len(channels)

	prev := s.deps.Table.Snapshot()
	outcomes, finished := s.resolveAll(ctx, channels, prev)
	outcome := OutcomeOK
	var cycleErr error
	writeCtx := ctx
	if err := ctx.Err(); err != nil {
		cycleErr = fmt.Errorf("resolve channels: %w", err)
		if countTrue(finished) == 0 {
			report.Unresolved = len(channels)
			return s.finish(ctx, logger, report, OutcomeCanceled, cycleErr)
		}
		// Finished channels are still applied; persistence gets a budget of its own.
		outcome = OutcomePartial
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
	}

	checkedAt := s.deps.Clock.Now()
	next := make(cache.Snapshot, len(channels))
	for i, out := range outcomes {
		ch := channels[i]
		res := ChannelResult{
			ChannelID:  ch.ID,
			Name:       ch.Name,
			Source:     string(out.Source),
			Attempts:   out.Attempts,
			LastStatus: string(out.Last.Status),
		}
		switch {
		case !finished[i]:
			report.Unresolved++
			res.Source = string(discovery.SourceNone)
			res.Error = "not resolved before the cycle deadline"
			if old, ok := prev[ch.ID]; ok {
				next[ch.ID] = withChannel(old, ch)
			}
		case out.OK():
			res.URL = out.URL
			next[ch.ID] = withChannel(cache.Entry{
				URL:       out.URL,
				Source:    string(out.Source),
				CheckedAt: checkedAt,
			}, ch)
			report.Working++
			report.BySource[string(out.Source)]++
		default:
			report.Failed++
			report.BySource[string(out.Source)]++
			if out.Err != nil {
				res.Error = out.Err.Error()
			}
		}
		report.Results = append(report.Results, res)
	}

	report.Changes = append(report.Changes, cache.Diff(prev, next)...)
	if err := s.deps.Table.Replace(next); err != nil {
		return s.finish(ctx, logger, report, OutcomeStoreError, errors.Join(cycleErr, fmt.Errorf("replace cache: %w", err)))
	}
	metrics.SetCachedStreams(len(next))
	if err := s.deps.Store.Save(writeCtx, next); err != nil {
		return s.finish(ctx, logger, report, OutcomeStoreError, errors.Join(cycleErr, fmt.Errorf("save cache: %w", err)))
	}

	if s.deps.Notifier != nil && len(report.Changes) > 0 {
		if _, err := s.deps.Notifier.Notify(writeCtx, cycleID, checkedAt, report.Changes); err != nil {
			logger.Warn("change notification incomplete", zap.Error(err))
		}
	}
	return s.finish(ctx, logger, report, outcome, cycleErr)
}

// withChannel copies the catalog's display fields onto a cache entry.
func withChannel(e cache.Entry, ch catalog.Channel) cache.Entry {
	e.ChannelID = ch.ID
	e.Name = ch.Name
	e.GroupTitle = ch.GroupTitle
	e.LogoURL = ch.LogoURL
	return e
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// resolveAll resolves channels through a bounded pool. outcomes[i] belongs to channels[i];
// finished[i] is false for channels never dispatched or cut off by ctx.
func (s *Scanner) resolveAll(ctx context.Context, channels []catalog.Channel, prev cache.Snapshot) ([]discovery.Outcome, []bool) {
	outcomes := make([]discovery.Outcome, len(channels))
	finished := make([]bool, len(channels))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := s.deps.Resolver.Resolve(ctx, ch, prev[ch.ID].URL)
			outcomes[i] = out
			finished[i] = !errors.Is(out.Err, context.Canceled) && !errors.Is(out.Err, context.DeadlineExceeded)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, finished
}

func (s *Scanner) finish(ctx context.Context, logger *zap.Logger, report Report, outcome string, cycleErr error) (Report, error) {
	report.Outcome = outcome
	report.FinishedAt = s.deps.Clock.Now()
	if cycleErr != nil {
		report.Error = cycleErr.Error()
	}

	if s.deps.Archiver != nil {
		// The cycle context may already be spent; the archive write gets its own budget.
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		uri, err := s.deps.Archiver.Archive(archiveCtx, report.CycleID, report.StartedAt, report)
		cancel()
		if err != nil {
			logger.Warn("archive report failed", zap.Error(err))
		}
		report.ArchiveURI = uri
	}

	metrics.ObserveCycle(outcome, report.Duration())
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cycle.outcome", outcome),
		attribute.Int("cycle.channels", report.Channels),
		attribute.Int("cycle.working", report.Working),
		attribute.Int("cycle.changes", len(report.Changes)),
	)
	if cycleErr != nil {
		span.RecordError(cycleErr)
		span.SetStatus(codes.Error, outcome)
	}
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int("channels", report.Channels),
		zap.Int("working", report.Working),
		zap.Int("failed", report.Failed),
		zap.Int("unresolved", report.Unresolved),
		zap.Int("changes", len(report.Changes)),
		zap.Duration("duration", report.Duration()),
	}
	if cycleErr != nil {
		logger.Error("scan cycle failed", append(fields, zap.Error(cycleErr))...)
		return report, cycleErr
	}
	logger.Info("scan cycle finished", fields...)
	return report, nil
}
