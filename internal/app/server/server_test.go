package server

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-catalog/internal/cache"
	"brand-catalog/internal/capture"
	"brand-catalog/internal/config"
	"brand-catalog/internal/storage"
)

func TestNewCache(t *testing.T) {
	tests := []struct {
		name    string
		addr    func(t *testing.T) string
		want    any
		wantErr bool
	}{
		{"memory when unset", func(*testing.T) string { return "" }, &cache.Memory{}, false},
		{"redis when reachable", func(t *testing.T) string { return miniredis.RunT(t).Addr() }, &cache.Redis{}, false},
		{"error when unreachable", func(t *testing.T) string {
			mr := miniredis.RunT(t)
			addr := mr.Addr()
			mr.Close()
			return addr
		}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config.Config
			cfg.Redis.Addr = tt.addr(t)

			c, err := NewCache(context.Background(), cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestCredentials(t *testing.T) {
	var cfg config.Config
	cfg.Capture.APIKey = "k"
	key, err := Credentials(cfg).Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k", key)

	t.Setenv("CAPTURE_API_KEY", "")
	_, err = Credentials(config.Config{}).Credential(context.Background())
	assert.ErrorIs(t, err, capture.ErrMissingCredential)

	t.Setenv("CAPTURE_API_KEY", "from-env")
	key, err = Credentials(config.Config{}).Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)
}

func TestBuild_WithoutDatabase(t *testing.T) {
	// pgxpool connects lazily, so wiring succeeds without a running postgres
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Postgres.Host = "127.0.0.1"
	cfg.Postgres.Port = 1

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Catalog)
	assert.NotNil(t, a.Refresh)
	_, err = a.Store.PgxPool()
	assert.NoError(t, err)
}

func TestRouteTimeouts(t *testing.T) {
	var cfg config.Config
	cfg.Storage.MaxAttempts = 3
	cfg.Storage.RetryDelay = 2 * time.Second
	cfg.Capture.MaxAttempts = 3
	cfg.Capture.Timeout = 60 * time.Second
	cfg.Capture.RetryDelay = time.Second
	cfg.Capture.BatchSize = 3

	got := RouteTimeouts(cfg)

	storageBudget := 3*storage.CallTimeout + 2*(2*time.Second)
	assert.Greater(t, got.Write, storageBudget)
	assert.Greater(t, got.Write, got.Read)
	assert.Greater(t, got.Capture, 3*60*time.Second+2*time.Second)
	assert.Equal(t, 3, got.BatchSize)
}
