package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "reports/b.json", "application/json", strings.NewReader(`{"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, "memory://reports/b.json", uri)
	_, err = store.PutObject(context.Background(), "reports/a.json", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)

	data, ok := store.Object("reports/b.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"b":1}`, string(data))

	data[0] = 'X'
	again, _ := store.Object("reports/b.json")
	assert.Equal(t, byte('{'), again[0], "Object returns a copy")

	assert.Equal(t, []string{"reports/a.json", "reports/b.json"}, store.Paths())
	_, ok = store.Object("missing")
	assert.False(t, ok)
}
