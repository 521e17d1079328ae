package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/catalog"
	"github.com/CWD273/cwiptvm3/internal/discovery"
	"github.com/CWD273/cwiptvm3/internal/notify"
)

func TestRefreshUpdatesEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, liveResolver(map[string]discovery.Outcome{
		"news.one": {URL: "http://s09.cdn.example.tv/n1.m3u8", Source: discovery.SourceOrigin},
	}), newsOne, sportTwo)
	require.NoError(t, h.table.Put(cache.Entry{ChannelID: "news.one", URL: "http://s03.cdn.example.tv/n1.m3u8"}))

	entry, err := h.scanner.Refresh(context.Background(), "news.one")
	require.NoError(t, err)
	assert.Equal(t, "http://s09.cdn.example.tv/n1.m3u8", entry.URL)
	assert.Equal(t, "origin", entry.Source)
	assert.Equal(t, testNow, entry.CheckedAt)

	saved, _ := h.store.saved()
	assert.Equal(t, "http://s09.cdn.example.tv/n1.m3u8", saved["news.one"].URL)

	msgs := h.published.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(notify.Event)
	require.True(t, ok)
	assert.Equal(t, cache.ChangeChanged, event.Kind)
}

func TestRefreshUnknownChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, liveResolver(nil), newsOne)
	_, err := h.scanner.Refresh(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestRefreshRemovesDeadChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, liveResolver(nil), newsOne)
	require.NoError(t, h.table.Put(cache.Entry{ChannelID: "news.one", URL: "http://s03.cdn.example.tv/n1.m3u8"}))

	_, err := h.scanner.Refresh(context.Background(), "news.one")
	require.ErrorIs(t, err, discovery.ErrNoWorkingStream)

	_, err = h.scanner.Lookup("news.one")
	require.ErrorIs(t, err, cache.ErrNotFound)
	saved, saves := h.store.saved()
	assert.Equal(t, 1, saves)
	assert.Empty(t, saved)
	require.Len(t, h.published.Messages(), 1)
}

func TestRefreshDeduplicatesConcurrentCalls(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	resolver := resolveFunc(func(_ context.Context, ch catalog.Channel, _ string) discovery.Outcome {
		calls.Add(1)
		<-release
		return discovery.Outcome{ChannelID: ch.ID, URL: ch.URL, Source: discovery.SourceAdvertised, Attempts: 1}
	})
	h := newHarness(t, Config{}, resolver, newsOne)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.scanner.Refresh(context.Background(), "news.one")
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the other callers time to join the in-flight refresh.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}
