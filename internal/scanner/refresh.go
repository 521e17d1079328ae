package scanner

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/discovery"
	"github.com/CWD273/cwiptvm3/internal/metrics"
)

// Refresh resolves one channel now and updates its cache entry. Concurrent refreshes of the same
// channel share one resolution. When nothing works the entry is removed and the error wraps
// discovery.ErrNoWorkingStream.
func (s *Scanner) Refresh(ctx context.Context, channelID string) (cache.Entry, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "scan.refresh", trace.WithAttributes(attribute.String("channel.id", channelID)))
	defer span.End()

	v, err, shared := s.refresh.Do(channelID, func() (any, error) {
		return s.refreshOne(ctx, channelID)
	})
	span.SetAttributes(attribute.Bool("refresh.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return cache.Entry{}, err
	}
	return v.(cache.Entry), nil
}

func (s *Scanner) refreshOne(ctx context.Context, channelID string) (cache.Entry, error) {
	if !s.lock.TryLock() {
		return cache.Entry{}, ErrCycleInProgress
	}
	defer s.lock.Unlock()

	channels, err := s.deps.Catalog.Fetch(ctx)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("fetch catalog: %w", err)
	}
	idx := -1
	for i, ch := range channels {
		if ch.ID == channelID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return cache.Entry{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	ch := channels[idx]

	prev, had := s.deps.Table.Get(channelID)
	out := s.deps.Resolver.Resolve(ctx, ch, prev.URL)
	if out.Err != nil && !errors.Is(out.Err, discovery.ErrNoWorkingStream) {
		return cache.Entry{}, out.Err
	}

	var (
		entry  cache.Entry
		change *cache.Change
	)
	if out.OK() {
		entry = withChannel(cache.Entry{
			URL:       out.URL,
			Source:    string(out.Source),
			CheckedAt: s.deps.Clock.Now(),
		}, ch)
		if err := s.deps.Table.Put(entry); err != nil {
			return cache.Entry{}, fmt.Errorf("update cache: %w", err)
		}
		switch {
		case !had:
			change = &cache.Change{ChannelID: channelID, Kind: cache.ChangeAdded, NewURL: entry.URL}
		case prev.URL != entry.URL:
			change = &cache.Change{ChannelID: channelID, Kind: cache.ChangeChanged, OldURL: prev.URL, NewURL: entry.URL}
		}
	} else {
		if err := s.deps.Table.Delete(channelID); err != nil {
			return cache.Entry{}, fmt.Errorf("update cache: %w", err)
		}
		if had {
			change = &cache.Change{ChannelID: channelID, Kind: cache.ChangeRemoved, OldURL: prev.URL}
		}
	}

	snap := s.deps.Table.Snapshot()
	metrics.SetCachedStreams(len(snap))
	if err := s.deps.Store.Save(ctx, snap); err != nil {
		return cache.Entry{}, fmt.Errorf("save cache: %w", err)
	}
	if change != nil && s.deps.Notifier != nil {
		refreshID, err := s.deps.IDs.NewID()
		if err != nil {
			refreshID = "refresh-" + channelID
		}
		if _, err := s.deps.Notifier.Notify(ctx, refreshID, s.deps.Clock.Now(), []cache.Change{*change}); err != nil {
			s.deps.Logger.Warn("change notification failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	}

	s.deps.Logger.Info("channel refreshed",
		zap.String("channel_id", channelID),
		zap.String("source", string(out.Source)),
		zap.Int("attempts", out.Attempts),
	)
	if !out.OK() {
		return cache.Entry{}, fmt.Errorf("refresh %s: %w", channelID, out.Err)
	}
	return entry, nil
}
