package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"brand-catalog/internal/api"
	"brand-catalog/internal/cache"
	"brand-catalog/internal/capture"
	"brand-catalog/internal/catalog"
	"brand-catalog/internal/config"
	"brand-catalog/internal/event"
	"brand-catalog/internal/listener"
	"brand-catalog/internal/refresh"
	"brand-catalog/internal/screenshot"
	"brand-catalog/internal/storage"

	"github.com/rs/zerolog/log"
)

// App holds the wired components shared by every command.
type App struct {
	Store   *storage.Store
	Cache   cache.Cache
	Catalog *catalog.Service
	Refresh *refresh.Service
	Shots   *screenshot.Service
	Events  event.Publisher
}

// Build connects to the store and wires the capture pipeline.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	c, err := NewCache(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	cat := catalog.NewService(store, c)
	fetcher := capture.NewClient(cfg.Capture.Endpoint, Credentials(cfg), cfg.Capture.Timeout)
	gateway := storage.NewGateway(store, cfg.Storage.MaxAttempts, cfg.Storage.RetryDelay)
	pub := event.FromConfig(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	return &App{
		Store:   store,
		Cache:   c,
		Catalog: cat,
		Events:  pub,
		Refresh: refresh.NewService(fetcher, gateway, store, cat, pub, refresh.Options{
			MaxAttempts: cfg.Capture.MaxAttempts,
			RetryDelay:  cfg.Capture.RetryDelay,
			BatchSize:   cfg.Capture.BatchSize,
		}),
		Shots: screenshot.NewService(screenshot.NewClient(screenshot.Options{
			Endpoint:           cfg.Screenshot.Endpoint,
			AccessKey:          cfg.Screenshot.AccessKey,
			ViewportWidth:      cfg.Screenshot.ViewportWidth,
			ViewportHeight:     cfg.Screenshot.ViewportHeight,
			Format:             cfg.Screenshot.Format,
			DelaySeconds:       cfg.Screenshot.DelaySeconds,
			BlockAds:           cfg.Screenshot.BlockAds,
			BlockCookieBanners: cfg.Screenshot.BlockCookieBanners,
			WaitFor:            cfg.Screenshot.WaitFor,
			Timeout:            cfg.Screenshot.Timeout,
		})),
	}, nil
}

func (a *App) Close() {
	if err := a.Events.Close(); err != nil {
		log.Warn().Err(err).Msg("close event publisher")
	}
	if r, ok := a.Cache.(*cache.Redis); ok {
		_ = r.Close()
	}
	a.Store.Close()
}

// NewCache returns the redis backend when an address is configured, else in-memory.
func NewCache(ctx context.Context, cfg config.Config) (cache.Cache, error) {
	if cfg.Redis.Addr == "" {
		return cache.NewMemory(), nil
	}
	r, err := cache.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return r, nil
}

// Credentials prefers the configured key and falls back to CAPTURE_API_KEY.
func Credentials(cfg config.Config) capture.CredentialSource {
	if cfg.Capture.APIKey != "" {
		return capture.StaticCredential(cfg.Capture.APIKey)
	}
	return capture.EnvCredential("CAPTURE_API_KEY")
}

// RouteTimeouts sizes each route group from the retry policies it has to outlast.
func RouteTimeouts(cfg config.Config) api.Timeouts {
	return api.Timeouts{
		Read:      5 * time.Second,
		Write:     time.Duration(cfg.Storage.MaxAttempts)*(storage.CallTimeout+cfg.Storage.RetryDelay) + 10*time.Second,
		Capture:   time.Duration(cfg.Capture.MaxAttempts)*(cfg.Capture.Timeout+cfg.Capture.RetryDelay) + 30*time.Second,
		BatchSize: cfg.Capture.BatchSize,
	}
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := Build(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.Ping(rootCtx); err != nil {
		log.Warn().Err(err).Msg("postgres not reachable yet")
	}

	// HTTP
	h := &api.Handler{
		Catalog: a.Catalog,
		Capture: a.Refresh,
		Shots:   a.Shots,
		DB:      a.Store,
		APIKey:  cfg.Capture.APIKey,
	}
	timeouts := RouteTimeouts(cfg)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h, timeouts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: max(timeouts.Capture, timeouts.Write) + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	pool, err := a.Store.PgxPool()
	if err != nil {
		return err
	}
	go listener.ListenAndInvalidate(rootCtx, pool, a.Catalog, cfg.Listener.Channel, cfg.Backoff())

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		return fmt.Errorf("server crashed: %w", err)
	}
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	return srv.Shutdown(shCtx)
}
