package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/CWD273/cwiptvm3/internal/catalog"
	"github.com/CWD273/cwiptvm3/internal/metrics"
	"github.com/CWD273/cwiptvm3/internal/probe"
	"github.com/CWD273/cwiptvm3/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNoWorkingStream means every candidate for a channel failed its probe.
var ErrNoWorkingStream = errors.New("no working stream")

// Source names where a channel's working URL came from.
type Source string

const (
	// SourceCached is the last-known-good URL.
	SourceCached Source = "cached"
	// SourceAdvertised is the URL listed in the catalog.
	SourceAdvertised Source = "advertised"
	// SourceOrigin is one of the renumbered alternate hosts.
	SourceOrigin Source = "origin"
	// SourceNone means nothing worked.
	SourceNone Source = "none"
)

// Outcome is the result of resolving one channel.
type Outcome struct {
	ChannelID string
	URL       string
	Source    Source
	Attempts  int
	Last      probe.Result
	Err       error
}

// OK reports whether a working URL was found.
func (o Outcome) OK() bool {
	return o.Err == nil && o.URL != ""
}

// Config bounds the origin scan.
type Config struct {
	MaxOrigins   int
	HostTemplate string
}

// Resolver walks the candidate list for a channel.
type Resolver struct {
	prober probe.Prober
	cfg    Config
	logger *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(prober probe.Prober, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{prober: prober, cfg: cfg, logger: logger}
}

type candidate struct {
	url    string
	source Source
}

// Resolve probes cached, then advertised, then the alternate origins, one at a time, and stops at
// the first working URL. Origins are only enumerated once the first two have failed.
func (r *Resolver) Resolve(ctx context.Context, ch catalog.Channel, cachedURL string) Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "discovery.resolve",
		trace.WithAttributes(attribute.String("channel.id", ch.ID)))
	defer span.End()

	out := r.resolve(ctx, ch, cachedURL)
	span.SetAttributes(
		attribute.String("resolve.source", string(out.Source)),
		attribute.Int("resolve.attempts", out.Attempts),
	)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func (r *Resolver) resolve(ctx context.Context, ch catalog.Channel, cachedURL string) Outcome {
	out := Outcome{ChannelID: ch.ID, Source: SourceNone}
	tried := make(map[string]struct{})

	try := func(c candidate) bool {
		if c.url == "" {
			return false
		}
		if _, dup := tried[c.url]; dup {
			return false
		}
		tried[c.url] = struct{}{}
		out.Attempts++
		out.Last = r.prober.Probe(ctx, c.url)
		if !out.Last.OK() {
			return false
		}
		out.URL = c.url
		out.Source = c.source
		return true
	}

	for _, c := range []candidate{{cachedURL, SourceCached}, {ch.URL, SourceAdvertised}} {
		if err := ctx.Err(); err != nil {
			return r.canceled(out, err)
		}
		if try(c) {
			return r.done(out)
		}
	}

	for _, u := range Origins(ch.URL, r.cfg.MaxOrigins, r.cfg.HostTemplate) {
		if err := ctx.Err(); err != nil {
			return r.canceled(out, err)
		}
		if try(candidate{u, SourceOrigin}) {
			return r.done(out)
		}
	}

	if err := ctx.Err(); err != nil {
		return r.canceled(out, err)
	}
	out.Err = ErrNoWorkingStream
	return r.done(out)
}

func (r *Resolver) canceled(out Outcome, err error) Outcome {
	out.Err = fmt.Errorf("resolve %s: %w", out.ChannelID, err)
	out.Source = SourceNone
	return out
}

func (r *Resolver) done(out Outcome) Outcome {
	metrics.ObserveResolution(string(out.Source))
	if out.OK() {
		r.logger.Debug("channel resolved",
			zap.String("channel_id", out.ChannelID),
			zap.String("source", string(out.Source)),
			zap.String("url", out.URL),
			zap.Int("attempts", out.Attempts),
		)
	} else {
		r.logger.Info("no working stream",
			zap.String("channel_id", out.ChannelID),
			zap.Int("attempts", out.Attempts),
			zap.String("last_status", string(out.Last.Status)),
		)
	}
	return out
}
