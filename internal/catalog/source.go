package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/CWD273/cwiptvm3/internal/policy/retry"
	"go.uber.org/zap"
)

// ErrPlaylistTooLarge rejects a playlist body that would otherwise be cut short.
var ErrPlaylistTooLarge = errors.New("playlist too large")

const defaultMaxPlaylistBytes = 32 << 20

// SourceConfig configures where and how the playlist is fetched.
type SourceConfig struct {
	URL         string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	// MaxBytes caps a downloaded playlist; zero means 32 MiB.
	MaxBytes int64
	Filter   Filter
}

// Source loads the channel catalog from HTTP(S) or the local filesystem.
type Source struct {
	cfg    SourceConfig
	client *http.Client
	retry  *retry.ExponentialPolicy
	logger *zap.Logger
}

// NewSource builds a Source. A nil client gets a default one bounded by cfg.Timeout.
func NewSource(cfg SourceConfig, client *http.Client, logger *zap.Logger) *Source {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxPlaylistBytes
	}
	return &Source{
		cfg:    cfg,
		client: client,
		retry:  retry.NewExponentialPolicy(cfg.MaxAttempts),
		logger: logger,
	}
}

// Fetch downloads and parses the playlist and returns the filtered channels.
func (s *Source) Fetch(ctx context.Context) ([]Channel, error) {
	body, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	playlist, err := Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	channels := Channels(playlist, s.cfg.Filter)
	s.logger.Debug("catalog fetched",
		zap.Int("tracks", len(playlist.Tracks)),
		zap.Int("channels", len(channels)),
	)
	return channels, nil
}

func (s *Source) read(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return s.fetchHTTP(ctx)
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(s.cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported catalog scheme %q", u.Scheme)
	}
}

func (s *Source) fetchHTTP(ctx context.Context) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		body, err := s.fetchOnce(ctx)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil || !s.retry.ShouldRetry(err, attempt) {
			return nil, fmt.Errorf("fetch catalog: %w", err)
		}
		wait := s.retry.Backoff(attempt)
		s.logger.Warn("catalog fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := retry.Sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("fetch catalog: %w", err)
		}
	}
}

func (s *Source) fetchOnce(ctx context.Context) ([]byte, error) {
	reqCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.cfg.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get playlist: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("close catalog body", zap.Error(closeErr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	if int64(len(body)) > s.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrPlaylistTooLarge, s.cfg.MaxBytes)
	}
	return body, nil
}

func readFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path is empty")
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return body, nil
}
