package listener

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Invalidator drops cached catalog entries named by change payloads.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

// ListenAndInvalidate subscribes to channel and forwards every payload
// ("popups:<id>", "campaigns:<id>", "brands:<id>") to inv. The connection is
// re-established after failures; each (re)subscribe clears the whole cache since
// notifications sent while disconnected are lost.
func ListenAndInvalidate(ctx context.Context, pool *pgxpool.Pool, inv Invalidator, channel string, baseBackoff time.Duration) {
	for {
		err := listen(ctx, pool, inv, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("notify wait error")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info().Msg("listener stopped")
			return
		case <-t.C:
		}
	}
}

func listen(ctx context.Context, pool *pgxpool.Pool, inv Invalidator, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for DB changes")
	if err := inv.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("clear cache on subscribe")
	}

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		Dispatch(ctx, inv, ntf.Payload)
	}
}

// Dispatch applies one change payload. Unknown payloads clear everything.
func Dispatch(ctx context.Context, inv Invalidator, payload string) {
	log.Debug().Str("payload", payload).Msg("db change; invalidating")
	if err := inv.Invalidate(ctx, payload); err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("invalidate failed; clearing cache")
		if err := inv.InvalidateAll(ctx); err != nil {
			log.Error().Err(err).Msg("clear cache")
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
