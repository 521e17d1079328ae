package api

import (
	"bufio"
	"net/http"
	"net/url"

	"github.com/jamesnetherton/m3u"
	"go.uber.org/zap"

	"github.com/CWD273/cwiptvm3/internal/cache"
)

// playlist serves every cached channel as an M3U entry that points back at /stream.
func (s *Server) playlist(w http.ResponseWriter, r *http.Request) {
	pl := buildPlaylist(s.svc.Entries(), s.publicBase(r))
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `inline; filename="playlist.m3u"`)
	if err := m3u.MarshallInto(pl, bufio.NewWriter(w)); err != nil {
		s.logger.Warn("write playlist failed", zap.Error(err))
	}
}

func (s *Server) publicBase(r *http.Request) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func buildPlaylist(entries []cache.Entry, base string) m3u.Playlist {
	pl := m3u.Playlist{Tracks: make([]m3u.Track, 0, len(entries))}
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.ChannelID
		}
		tags := []m3u.Tag{{Name: "tvg-id", Value: e.ChannelID}, {Name: "tvg-name", Value: name}}
		if e.LogoURL != "" {
			tags = append(tags, m3u.Tag{Name: "tvg-logo", Value: e.LogoURL})
		}
		if e.GroupTitle != "" {
			tags = append(tags, m3u.Tag{Name: "group-title", Value: e.GroupTitle})
		}
		pl.Tracks = append(pl.Tracks, m3u.Track{
			Name:   name,
			Length: -1,
			URI:    base + "/stream/" + url.PathEscape(e.ChannelID),
			Tags:   tags,
		})
	}
	return pl
}
