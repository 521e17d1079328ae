package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginsRenumbersFirstLabel(t *testing.T) {
	t.Parallel()

	got := Origins("http://s07.cdn.example.tv/live/news1/index.m3u8?token=abc", 99, "")
	require.Len(t, got, 98, "advertised host is excluded")
	assert.Equal(t, "http://s01.cdn.example.tv/live/news1/index.m3u8?token=abc", got[0])
	assert.Equal(t, "http://s06.cdn.example.tv/live/news1/index.m3u8?token=abc", got[5])
	assert.Equal(t, "http://s08.cdn.example.tv/live/news1/index.m3u8?token=abc", got[6])
	assert.Equal(t, "http://s99.cdn.example.tv/live/news1/index.m3u8?token=abc", got[97])
}

func TestOriginsKeepsPortAndWidth(t *testing.T) {
	t.Parallel()

	got := Origins("https://edge3-tv.example.net:8443/a.ts", 12, "")
	require.Len(t, got, 11)
	assert.Equal(t, "https://edge1-tv.example.net:8443/a.ts", got[0])
	assert.Equal(t, "https://edge12-tv.example.net:8443/a.ts", got[10])

	got = Origins("http://cdn001.example.net/a.m3u8", 3, "")
	assert.Equal(t, []string{
		"http://cdn002.example.net/a.m3u8",
		"http://cdn003.example.net/a.m3u8",
	}, got)
	assert.Equal(t, "http://cdn001.example.net/a.m3u8", Origins("http://cdn009.example.net/a.m3u8", 1, "")[0])
}

func TestOriginsTemplate(t *testing.T) {
	t.Parallel()

	got := Origins("http://main.example.tv:8080/live/1.m3u8", 3, "edge{nn}.example.tv")
	assert.Equal(t, []string{
		"http://edge01.example.tv:8080/live/1.m3u8",
		"http://edge02.example.tv:8080/live/1.m3u8",
		"http://edge03.example.tv:8080/live/1.m3u8",
	}, got)

	got = Origins("http://main.example.tv/live/1.m3u8", 2, "node{n}.cdn.tv:9000")
	assert.Equal(t, []string{
		"http://node1.cdn.tv:9000/live/1.m3u8",
		"http://node2.cdn.tv:9000/live/1.m3u8",
	}, got)
}

func TestOriginsNoAlternates(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Origins("http://cdn.example.tv/live.m3u8", 99, ""), "no digits in first label")
	assert.Empty(t, Origins("http://10.0.0.7/live.m3u8", 99, ""), "ip literal")
	assert.Empty(t, Origins("http://s1.example.tv/live.m3u8", 0, ""), "disabled")
	assert.Empty(t, Origins("::not a url", 99, ""))
	assert.Empty(t, Origins("/relative/path.m3u8", 99, ""))
}

func TestOriginsClampsLimit(t *testing.T) {
	t.Parallel()

	got := Origins("http://s1.example.tv/live.m3u8", 500, "")
	assert.Len(t, got, MaxOrigins-1)
	got = Origins("http://main.example.tv/live.m3u8", 500, "e{n}.example.tv")
	assert.Len(t, got, MaxOrigins)
}
