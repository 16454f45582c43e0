package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

func TestSettingsStores(t *testing.T) {
	stores := map[string]func(t *testing.T) settingsStore{
		"memory": func(t *testing.T) settingsStore { return NewMemorySettingsStore() },
		"redis": func(t *testing.T) settingsStore {
			cache, _ := newTestRedis(t)
			return NewRedisSettingsStore(cache)
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := testContext(t)

			_, ok, err := store.Get(ctx, "crypto_data_mode")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "crypto_data_mode", "remote"))
			value, ok, err := store.Get(ctx, "crypto_data_mode")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "remote", value)

			require.NoError(t, store.Delete(ctx, "crypto_data_mode"))
			_, ok, err = store.Get(ctx, "crypto_data_mode")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRedisSettingsStoreNeverExpires(t *testing.T) {
	cache, mr := newTestRedis(t)
	store := NewRedisSettingsStore(cache)

	require.NoError(t, store.Set(testContext(t), "crypto_demo_dismissed", "true"))
	assert.Zero(t, mr.TTL("crypto_demo_dismissed"))
}
