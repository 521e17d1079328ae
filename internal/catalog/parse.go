package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"github.com/jamesnetherton/m3u"
)

// ErrInvalidPlaylist reports a playlist that is not extended M3U or has malformed entries.
var ErrInvalidPlaylist = errors.New("invalid playlist")

const maxLineBytes = 1 << 20

var tagPattern = regexp.MustCompile(`([a-zA-Z0-9_-]+)="([^"]*)"`)

// Parse reads an extended M3U playlist.
func Parse(r io.Reader) (m3u.Playlist, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	playlist := m3u.Playlist{}
	first := true
	pending := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			if !strings.HasPrefix(line, "#EXTM3U") {
				return m3u.Playlist{}, fmt.Errorf("%w: missing #EXTM3U header", ErrInvalidPlaylist)
			}
			first = false
			continue
		}
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			track, err := parseExtinf(strings.TrimPrefix(line, "#EXTINF:"))
			if err != nil {
				return m3u.Playlist{}, fmt.Errorf("%w: line %d: %v", ErrInvalidPlaylist, lineNo, err)
			}
			playlist.Tracks = append(playlist.Tracks, track)
			pending = true
		case strings.HasPrefix(line, "#"):
			continue
		case !pending:
			return m3u.Playlist{}, fmt.Errorf("%w: line %d: uri without #EXTINF", ErrInvalidPlaylist, lineNo)
		default:
			playlist.Tracks[len(playlist.Tracks)-1].URI = line
			pending = false
		}
	}
	if err := scanner.Err(); err != nil {
		return m3u.Playlist{}, fmt.Errorf("read playlist: %w", err)
	}
	if first {
		return m3u.Playlist{}, fmt.Errorf("%w: empty playlist", ErrInvalidPlaylist)
	}
	return playlist, nil
}

// parseExtinf splits `-1 key="v",Name` into a track. The name starts after the first comma
// outside a quoted attribute value.
func parseExtinf(info string) (m3u.Track, error) {
	split := -1
	quoted := false
	for i, r := range info {
		if r == '"' {
			quoted = !quoted
			continue
		}
		if r == ',' && !quoted {
			split = i
			break
		}
	}
	if split < 0 {
		return m3u.Track{}, errors.New("#EXTINF missing display name")
	}
	attrs, name := info[:split], strings.TrimSpace(info[split+1:])

	lengthField := strings.Fields(attrs)
	if len(lengthField) == 0 {
		return m3u.Track{}, errors.New("#EXTINF missing duration")
	}
	length, err := strconv.Atoi(lengthField[0])
	if err != nil {
		return m3u.Track{}, fmt.Errorf("parse duration %q: %w", lengthField[0], err)
	}

	track := m3u.Track{Name: name, Length: length}
	for _, match := range tagPattern.FindAllStringSubmatch(attrs, -1) {
		track.Tags = append(track.Tags, m3u.Tag{Name: match[1], Value: match[2]})
	}
	return track, nil
}

// Filter restricts which playlist entries become channels. An empty Only keeps every entry.
type Filter struct {
	Only []string
}

// Channels maps playlist tracks to channels, in playlist order.
func Channels(playlist m3u.Playlist, filter Filter) []Channel {
	var allow map[string]struct{}
	if len(filter.Only) > 0 {
		allow = make(map[string]struct{}, len(filter.Only))
		for _, id := range filter.Only {
			allow[strings.TrimSpace(id)] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(playlist.Tracks))
	channels := make([]Channel, 0, len(playlist.Tracks))
	for _, track := range playlist.Tracks {
		if !isHTTP(track.URI) {
			continue
		}
		name := strings.TrimSpace(track.Name)
		if name == "" {
			name = tag(track, "tvg-name")
		}
		id := tag(track, "tvg-id")
		if id == "" {
			id = Slug(name)
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if allow != nil {
			if _, ok := allow[id]; !ok {
				continue
			}
		}
		seen[id] = struct{}{}
		channels = append(channels, Channel{
			ID:         id,
			Name:       name,
			URL:        track.URI,
			GroupTitle: tag(track, "group-title"),
			LogoURL:    tag(track, "tvg-logo"),
		})
	}
	return channels
}

// Slug derives a channel ID from a display name. Non-Latin scripts are transliterated.
func Slug(name string) string {
	return slug.Make(name)
}

func tag(track m3u.Track, name string) string {
	for _, t := range track.Tags {
		if strings.EqualFold(t.Name, name) {
			return strings.TrimSpace(t.Value)
		}
	}
	return ""
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
