// Package refresh runs the capture workflow: fetch a brand's popups with retry,
// persist them, then drop the cached read and announce the change.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"brand-catalog/internal/capture"
	"brand-catalog/internal/catalog"
	"brand-catalog/internal/content"
	"brand-catalog/internal/event"
	"brand-catalog/internal/observability"
	"brand-catalog/internal/retry"
)

// ErrFetchFailed marks a capture that failed after all fetch retries.
var ErrFetchFailed = errors.New("failed to fetch")

type Fetcher interface {
	Capture(ctx context.Context, targetURL string) ([]content.PopupContent, error)
}

type Persister interface {
	UpsertPopups(ctx context.Context, brandID string, items []content.PopupContent) error
	InsertCampaign(ctx context.Context, brandID string, nc content.NewCampaign) (content.EmailCampaign, error)
}

type Brands interface {
	ListBrands(ctx context.Context) ([]content.Brand, error)
	GetBrand(ctx context.Context, id string) (content.Brand, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	BatchSize   int
}

type Service struct {
	fetch   Fetcher
	persist Persister
	brands  Brands
	inv     Invalidator
	events  event.Publisher
	policy  retry.Policy
	batch   int
}

func NewService(f Fetcher, p Persister, b Brands, inv Invalidator, pub event.Publisher, opts Options) *Service {
	if pub == nil {
		pub = event.Nop{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 3
	}
	return &Service{
		fetch:   f,
		persist: p,
		brands:  b,
		inv:     inv,
		events:  pub,
		batch:   opts.BatchSize,
		policy: retry.Policy{
			MaxAttempts: opts.MaxAttempts,
			Delay:       opts.RetryDelay,
			Backoff:     retry.Fixed,
			Retryable:   capture.Retryable,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("capture failed, retrying")
			},
		},
	}
}

// Result is one brand's capture outcome.
type Result struct {
	BrandID string `json:"brand_id"`
	Name    string `json:"name"`
	Items   int    `json:"items"`
	Err     error  `json:"-"`
}

// CaptureBrandByID looks the brand up and captures it.
func (s *Service) CaptureBrandByID(ctx context.Context, id string) (Result, error) {
	b, err := s.brands.GetBrand(ctx, id)
	if err != nil {
		return Result{BrandID: id}, err
	}
	return s.CaptureBrand(ctx, b)
}

// CaptureBrand fetches the brand website's popups and replaces the stored set.
// The fetch, including every retry, finishes before anything is written. Errors
// wrap ErrFetchFailed or storage.ErrSaveFailed.
func (s *Service) CaptureBrand(ctx context.Context, b content.Brand) (Result, error) {
	res := Result{BrandID: b.ID, Name: b.Name}
	logger := log.With().Str("brand_id", b.ID).Logger()

	items, err := s.fetchPopups(ctx, b)
	if err != nil {
		observability.CaptureResults.WithLabelValues("fetch_failed").Inc()
		logger.Error().Err(err).Msg("capture failed")
		s.publish(ctx, event.PopupsCaptureFailed, b.ID, map[string]string{"error": err.Error()})
		return res, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	if err := s.persist.UpsertPopups(ctx, b.ID, items); err != nil {
		observability.CaptureResults.WithLabelValues("save_failed").Inc()
		logger.Error().Err(err).Msg("persist popups failed")
		return res, err
	}
	s.invalidate(ctx, catalog.Key(catalog.KindPopups, b.ID))

	res.Items = len(items)
	observability.CaptureResults.WithLabelValues("ok").Inc()
	logger.Info().Int("items", res.Items).Msg("popups captured")
	s.publish(ctx, event.PopupsCaptured, b.ID, map[string]int{"items": res.Items})
	return res, nil
}

func (s *Service) fetchPopups(ctx context.Context, b content.Brand) ([]content.PopupContent, error) {
	if strings.TrimSpace(b.Website) == "" {
		return nil, &capture.Error{Kind: capture.KindConfig, Reason: "brand has no website"}
	}
	return retry.Do(ctx, s.policy, func(ctx context.Context) ([]content.PopupContent, error) {
		items, err := s.fetch.Capture(ctx, b.Website)
		outcome := "ok"
		if err != nil {
			outcome = capture.KindOf(err).String()
		}
		observability.CaptureAttempts.WithLabelValues(outcome).Inc()
		return items, err
	})
}

// CaptureAll captures every brand in groups of the batch size. Brands within a
// group run concurrently; the next group starts once the whole group is done.
// Per-brand failures are reported in the results, not as the returned error.
func (s *Service) CaptureAll(ctx context.Context) ([]Result, error) {
	brands, err := s.brands.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}

	results := make([]Result, len(brands))
	for start := 0; start < len(brands); start += s.batch {
		if err := ctx.Err(); err != nil {
			return results[:start], err
		}
		end := min(start+s.batch, len(brands))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				r, err := s.CaptureBrand(ctx, brands[i])
				r.Err = err
				results[i] = r
				return nil
			})
		}
		_ = g.Wait()
		log.Info().Int("from", start).Int("to", end).Int("total", len(brands)).Msg("capture group done")
	}
	return results, nil
}

// RecordCampaign appends an email campaign to an existing brand.
func (s *Service) RecordCampaign(ctx context.Context, brandID string, nc content.NewCampaign) (content.EmailCampaign, error) {
	if _, err := s.brands.GetBrand(ctx, brandID); err != nil {
		return content.EmailCampaign{}, err
	}
	c, err := s.persist.InsertCampaign(ctx, brandID, nc)
	if err != nil {
		return content.EmailCampaign{}, err
	}
	s.invalidate(ctx, catalog.Key(catalog.KindCampaigns, brandID))
	s.publish(ctx, event.CampaignRecorded, brandID, c)
	return c, nil
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if s.inv == nil {
		return
	}
	if err := s.inv.Invalidate(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("invalidate cache")
	}
}

func (s *Service) publish(ctx context.Context, typ, brandID string, data any) {
	e, err := event.New(typ, brandID, data)
	if err == nil {
		err = s.events.Publish(ctx, e)
	}
	if err != nil {
		log.Warn().Err(err).Str("event_type", typ).Str("brand_id", brandID).Msg("publish event")
	}
}

// Summary counts successes and failures in a CaptureAll result.
func Summary(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed
}
