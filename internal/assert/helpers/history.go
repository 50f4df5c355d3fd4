package helpers

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/config"
	"github.com/kode4food/cascade/internal/repository"
)

const testHistoryCache = 100

// NewTestHistory creates a History whose timebox store is kept in an
// in-memory Redis. Everything is closed when the test ends
func NewTestHistory(t *testing.T) *repository.History {
	t.Helper()
	store, _ := NewTestHistoryStore(t, nil)
	return repository.NewHistory(store)
}

// NewTestHistoryStore creates a timebox store for execution history in an
// in-memory Redis, returning the Redis server along with it. A non-nil
// hibernator is installed on the store
func NewTestHistoryStore(
	t *testing.T, hibernator timebox.Hibernator,
) (*timebox.Store, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  testHistoryCache,
	})
	require.NoError(t, err)

	cfg := config.NewDefaultConfig().HistoryStore
	cfg.Addr = server.Addr()
	cfg.Prefix = "test-history"
	cfg.Hibernator = hibernator

	store, err := tb.NewStore(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = tb.Close()
		server.Close()
	})
	return store, server
}
