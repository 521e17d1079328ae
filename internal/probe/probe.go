// Package probe decides whether a candidate URL is serving a live stream right now.
package probe

import (
	"context"
	"time"
)

// Status classifies a probe outcome.
type Status string

const (
	// StatusOK means the URL answered 200 with stream content.
	StatusOK Status = "ok"
	// StatusBadStatus means the URL answered with a non-200 code.
	StatusBadStatus Status = "bad_status"
	// StatusTimeout means the probe deadline passed first.
	StatusTimeout Status = "timeout"
	// StatusError covers request construction and network failures.
	StatusError Status = "error"
	// StatusNotStream means a 200 whose body or content type is not a stream.
	StatusNotStream Status = "not_stream"
)

// Kind describes what sort of stream answered.
type Kind string

const (
	// KindHLSMaster is an HLS master playlist with at least one variant.
	KindHLSMaster Kind = "hls_master"
	// KindHLSMedia is an HLS media playlist with at least one segment.
	KindHLSMedia Kind = "hls_media"
	// KindDirect is a raw audio/video body such as MPEG-TS.
	KindDirect Kind = "direct"
)

// Result is the outcome of one probe.
type Result struct {
	URL        string        `json:"url"`
	Status     Status        `json:"status"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Kind       Kind          `json:"kind,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// OK reports whether the probe found a working stream.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Prober checks one URL.
type Prober interface {
	Probe(ctx context.Context, url string) Result
}
