// Package discovery orders the candidate URLs for a channel and probes them until one works.
package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// MaxOrigins is the upper bound on alternate origins scanned per channel.
const MaxOrigins = 99

// Origins returns up to limit alternate URLs for advertised, numbered 1..limit.
//
// With a template the numbered host replaces the advertised host: {n} is the bare number and
// {nn} the two-digit form. Without one, the first run of digits in the left-most host label is
// renumbered at its original width, so s07.cdn.tv yields s01.cdn.tv through s99.cdn.tv. The
// advertised URL itself is never returned.
func Origins(advertised string, limit int, template string) []string {
	u, err := url.Parse(advertised)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	if limit > MaxOrigins {
		limit = MaxOrigins
	}
	if limit <= 0 {
		return nil
	}

	hostFor := labelHost(u.Hostname())
	if template != "" {
		hostFor = templateHost(template)
	}
	if hostFor == nil {
		return nil
	}

	seen := map[string]struct{}{advertised: {}}
	out := make([]string, 0, limit)
	for n := 1; n <= limit; n++ {
		candidate := *u
		candidate.Host = withPort(hostFor(n), u.Port())
		s := candidate.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func templateHost(template string) func(int) string {
	return func(n int) string {
		h := strings.ReplaceAll(template, "{nn}", fmt.Sprintf("%02d", n))
		return strings.ReplaceAll(h, "{n}", strconv.Itoa(n))
	}
}

// labelHost renumbers the first digit run of the left-most label. IP literals and hosts
// without digits there have no alternates.
func labelHost(hostname string) func(int) string {
	if net.ParseIP(hostname) != nil {
		return nil
	}
	label, rest, _ := strings.Cut(hostname, ".")
	start := strings.IndexAny(label, "0123456789")
	if start < 0 {
		return nil
	}
	end := start
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	width := end - start
	prefix, suffix := label[:start], label[end:]
	return func(n int) string {
		h := fmt.Sprintf("%s%0*d%s", prefix, width, n, suffix)
		if rest != "" {
			h += "." + rest
		}
		return h
	}
}

// withPort keeps the advertised port unless the host already names one.
func withPort(host, port string) string {
	if port == "" {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}
