package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CWD273/cwiptvm3/internal/metrics"
	"github.com/CWD273/cwiptvm3/internal/telemetry"
	"github.com/grafov/m3u8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const hlsHeader = "#EXTM3U"

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config tunes the HTTP prober.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// HTTPProber probes URLs with a GET request and inspects the response.
type HTTPProber struct {
	cfg     Config
	client  *http.Client
	limiter Waiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewHTTPProber builds an HTTPProber. limiter may be nil.
func NewHTTPProber(cfg Config, client *http.Client, limiter Waiter, logger *zap.Logger) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 256 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProber{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// Probe fetches url and classifies the response.
func (p *HTTPProber) Probe(ctx context.Context, url string) Result {
	ctx, span := telemetry.Tracer().Start(ctx, "probe", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", url)))
	defer span.End()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{URL: url, Status: StatusError, Detail: err.Error()}
		}
	}

	start := p.now()
	res := p.probe(ctx, url)
	res.URL = url
	res.Latency = p.now().Sub(start)

	span.SetAttributes(
		attribute.String("probe.status", string(res.Status)),
		attribute.Int("http.response.status_code", res.StatusCode),
	)
	if !res.OK() {
		span.SetStatus(codes.Error, string(res.Status))
	}

	metrics.ObserveProbe(string(res.Status), res.Latency)
	p.logger.Debug("probe",
		zap.String("url", url),
		zap.String("status", string(res.Status)),
		zap.Int("code", res.StatusCode),
		zap.Duration("latency", res.Latency),
		zap.String("detail", res.Detail),
	)
	return res
}

func (p *HTTPProber) probe(ctx context.Context, url string) Result {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Result{Status: StatusError, Detail: fmt.Sprintf("build request: %v", err)}
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return failure(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("close probe body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return Result{Status: StatusBadStatus, StatusCode: resp.StatusCode}
	}

	res := p.inspect(resp)
	res.StatusCode = resp.StatusCode
	return res
}

func (p *HTTPProber) inspect(resp *http.Response) Result {
	body := bufio.NewReader(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	head, err := body.Peek(len(hlsHeader) + 3)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return failure(err)
	}
	if bytes.HasPrefix(bytes.TrimPrefix(bytes.TrimLeft(head, " \t\r\n"), []byte("\ufeff")), []byte(hlsHeader)) {
		return inspectHLS(body)
	}

	if !isStreamContentType(resp.Header.Get("Content-Type")) {
		return Result{Status: StatusNotStream, Detail: "content type " + resp.Header.Get("Content-Type")}
	}
	if len(head) == 0 {
		return Result{Status: StatusNotStream, Detail: "empty body"}
	}
	return Result{Status: StatusOK, Kind: KindDirect}
}

func inspectHLS(r io.Reader) Result {
	playlist, listType, err := m3u8.DecodeFrom(r, false)
	if err != nil {
		return Result{Status: StatusNotStream, Detail: fmt.Sprintf("decode hls: %v", err)}
	}
	switch listType {
	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok || len(master.Variants) == 0 {
			return Result{Status: StatusNotStream, Detail: "master playlist has no variants"}
		}
		return Result{Status: StatusOK, Kind: KindHLSMaster}
	case m3u8.MEDIA:
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok || media.Count() == 0 {
			return Result{Status: StatusNotStream, Detail: "media playlist has no segments"}
		}
		return Result{Status: StatusOK, Kind: KindHLSMedia}
	default:
		return Result{Status: StatusNotStream, Detail: "unknown playlist type"}
	}
}

func isStreamContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "video/"), strings.HasPrefix(mediaType, "audio/"):
		return true
	case mediaType == "application/octet-stream", mediaType == "application/mp2t":
		return true
	default:
		return false
	}
}

func failure(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Status: StatusTimeout, Detail: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Result{Status: StatusTimeout, Detail: err.Error()}
	}
	return Result{Status: StatusError, Detail: err.Error()}
}
