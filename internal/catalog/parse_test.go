package catalog

import (
	"regexp"
	"strings"
	"testing"

	"github.com/jamesnetherton/m3u"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaylist = `#EXTM3U x-tvg-url="http://epg.example.net/guide.xml"
#EXTINF:-1 tvg-id="news.one" tvg-logo="http://img.example.net/n1.png" group-title="News",News One
http://s07.cdn.example.tv/live/news1/index.m3u8

#EXTINF:-1 tvg-name="Sport, Two" group-title="Sport",Sport Two HD
#EXTVLCOPT:http-user-agent=VLC
https://edge3.example.tv/sport2.ts
#EXTINF:-1 tvg-id="radio.x",Radio X
rtmp://media.example.tv/radiox
#EXTINF:-1 tvg-id="news.one",News One Backup
http://s08.cdn.example.tv/live/news1/index.m3u8
#EXTINF:-1,!!!
http://s09.cdn.example.tv/live/x.m3u8
`

func TestParse(t *testing.T) {
	t.Parallel()

	playlist, err := Parse(strings.NewReader(samplePlaylist))
	require.NoError(t, err)
	require.Len(t, playlist.Tracks, 5)

	first := playlist.Tracks[0]
	assert.Equal(t, "News One", first.Name)
	assert.Equal(t, -1, first.Length)
	assert.Equal(t, "http://s07.cdn.example.tv/live/news1/index.m3u8", first.URI)
	assert.Contains(t, first.Tags, m3u.Tag{Name: "tvg-id", Value: "news.one"})
	assert.Contains(t, first.Tags, m3u.Tag{Name: "group-title", Value: "News"})

	second := playlist.Tracks[1]
	assert.Equal(t, "Sport Two HD", second.Name, "comma inside a quoted attribute is not the name separator")
	assert.Contains(t, second.Tags, m3u.Tag{Name: "tvg-name", Value: "Sport, Two"})
	assert.Equal(t, "https://edge3.example.tv/sport2.ts", second.URI)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "missing header", input: "#EXTINF:-1,A\nhttp://a/b\n"},
		{name: "uri before extinf", input: "#EXTM3U\nhttp://a/b\n"},
		{name: "missing name", input: "#EXTM3U\n#EXTINF:-1 tvg-id=\"a\"\nhttp://a/b\n"},
		{name: "bad duration", input: "#EXTM3U\n#EXTINF:abc,A\nhttp://a/b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.input))
			require.ErrorIs(t, err, ErrInvalidPlaylist)
		})
	}
}

func TestParseAcceptsBOMAndCRLF(t *testing.T) {
	t.Parallel()

	input := "\ufeff#EXTM3U\r\n#EXTINF:-1 tvg-id=\"a\",A\r\nhttp://a.example/1.m3u8\r\n"
	playlist, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, playlist.Tracks, 1)
	assert.Equal(t, "http://a.example/1.m3u8", playlist.Tracks[0].URI)
}

func TestChannels(t *testing.T) {
	t.Parallel()

	playlist, err := Parse(strings.NewReader(samplePlaylist))
	require.NoError(t, err)

	channels := Channels(playlist, Filter{})
	require.Len(t, channels, 2)

	assert.Equal(t, Channel{
		ID:         "news.one",
		Name:       "News One",
		URL:        "http://s07.cdn.example.tv/live/news1/index.m3u8",
		GroupTitle: "News",
		LogoURL:    "http://img.example.net/n1.png",
	}, channels[0], "first occurrence of a duplicate id wins")
	assert.Equal(t, "sport-two-hd", channels[1].ID)
	assert.Equal(t, "Sport", channels[1].GroupTitle)
}

func TestChannelsFixedCatalog(t *testing.T) {
	t.Parallel()

	playlist, err := Parse(strings.NewReader(samplePlaylist))
	require.NoError(t, err)

	channels := Channels(playlist, Filter{Only: []string{"sport-two-hd", "missing.channel"}})
	require.Len(t, channels, 1)
	assert.Equal(t, "sport-two-hd", channels[0].ID)
}

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"News One":       "news-one",
		"  BBC  One HD ": "bbc-one-hd",
		"Ça va?":         "ca-va",
		"!!!":            "",
		"Channel 4+1":    "channel-4-1",
		"Sky & Co":       "sky-and-co",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), "Slug(%q)", in)
	}

	ascii := regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	for _, in := range []string{"Первый канал", "中央电视台", "Ελληνική TV"} {
		assert.Regexp(t, ascii, Slug(in), "Slug(%q) is transliterated", in)
	}
}

func TestChannelsNonLatinNames(t *testing.T) {
	t.Parallel()

	input := "#EXTM3U\n" +
		"#EXTINF:-1 group-title=\"RU\",Первый канал\nhttp://ru.example.tv/1.m3u8\n" +
		"#EXTINF:-1 group-title=\"CN\",中央电视台\nhttp://cn.example.tv/1.m3u8\n"
	playlist, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	channels := Channels(playlist, Filter{})
	require.Len(t, channels, 2, "names without tvg-id still yield channels")
	assert.Equal(t, "Первый канал", channels[0].Name)
	assert.NotEmpty(t, channels[0].ID)
	assert.NotEmpty(t, channels[1].ID)
	assert.NotEqual(t, channels[0].ID, channels[1].ID)
}
