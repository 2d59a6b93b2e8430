package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"brand-catalog/internal/content"
	"brand-catalog/internal/observability"
	"brand-catalog/internal/retry"
)

// ErrSaveFailed marks a write that failed after all storage retries.
var ErrSaveFailed = errors.New("failed to save")

// Writer is the write side of the store.
type Writer interface {
	UpsertPopups(ctx context.Context, brandID string, items []content.PopupContent) error
	InsertCampaign(ctx context.Context, c *content.EmailCampaign) error
}

// Gateway persists validated content with its own bounded retry, independent of
// any capture retry upstream.
type Gateway struct {
	w      Writer
	policy retry.Policy
}

func NewGateway(w Writer, attempts int, delay time.Duration) *Gateway {
	return &Gateway{
		w: w,
		policy: retry.Policy{
			MaxAttempts: attempts,
			Delay:       delay,
			Backoff:     retry.Fixed,
			Retryable:   isTransient,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("storage write failed")
			},
		},
	}
}

// UpsertPopups replaces the stored popup set for brandID (last write wins).
func (g *Gateway) UpsertPopups(ctx context.Context, brandID string, items []content.PopupContent) error {
	_, err := retry.Do(ctx, g.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.w.UpsertPopups(ctx, brandID, items)
	})
	if err != nil {
		observability.PersistFailures.WithLabelValues("upsert_popups").Inc()
		return fmt.Errorf("%w: popups for %s: %w", ErrSaveFailed, brandID, err)
	}
	return nil
}

// InsertCampaign appends a campaign for brandID. The id is fixed before the first
// attempt so a retried insert cannot create a duplicate row.
func (g *Gateway) InsertCampaign(ctx context.Context, brandID string, nc content.NewCampaign) (content.EmailCampaign, error) {
	if err := content.ValidateCampaign(nc); err != nil {
		return content.EmailCampaign{}, err
	}
	c := content.EmailCampaign{
		ID:            uuid.NewString(),
		BrandID:       brandID,
		CampaignDate:  nc.CampaignDate,
		SubjectLine:   nc.SubjectLine,
		ScreenshotURL: strings.TrimSpace(nc.ScreenshotURL),
	}
	if c.CampaignDate.IsZero() {
		c.CampaignDate = time.Now().UTC()
	}

	_, err := retry.Do(ctx, g.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.w.InsertCampaign(ctx, &c)
	})
	if err != nil {
		observability.PersistFailures.WithLabelValues("insert_campaign").Inc()
		return content.EmailCampaign{}, fmt.Errorf("%w: campaign for %s: %w", ErrSaveFailed, brandID, err)
	}
	return c, nil
}

// isTransient treats constraint and data errors as permanent; everything else
// (connection loss, timeouts, serialization failures) may succeed on retry.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return false
		}
	}
	return true
}
