// Package catalog serves brand reference data and captured content to readers.
// Results are cached per brand until a change notification drops them.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"brand-catalog/internal/cache"
	"brand-catalog/internal/content"
	"brand-catalog/internal/observability"
)

// Key kinds, shared with the catalog_changed notification payload ("popups:<brand id>").
const (
	KindBrands    = "brands"
	KindPopups    = "popups"
	KindCampaigns = "campaigns"
)

var ErrUnknownKey = errors.New("unknown cache key")

// Reader is the read side of the store.
type Reader interface {
	ListBrands(ctx context.Context) ([]content.Brand, error)
	GetBrand(ctx context.Context, id string) (content.Brand, error)
	PopupContent(ctx context.Context, brandID string) ([]byte, error)
	ListCampaigns(ctx context.Context, brandID string) ([]content.EmailCampaign, error)
}

type Service struct {
	store  Reader
	cache  cache.Cache
	brands cache.Snapshot[[]content.Brand]

	// gen counts invalidations. A read fills the cache only if no invalidation
	// happened since it missed; fillMu makes that check and the write atomic.
	fillMu sync.Mutex
	gen    atomic.Uint64
}

func NewService(store Reader, c cache.Cache) *Service {
	if c == nil {
		c = cache.NewMemory()
	}
	return &Service{store: store, cache: c}
}

func Key(kind, brandID string) string { return kind + ":" + brandID }

// ListBrands returns all brands ordered by name.
func (s *Service) ListBrands(ctx context.Context) ([]content.Brand, error) {
	if b, ok := s.brands.Load(); ok {
		observability.CacheLookups.WithLabelValues("hit").Inc()
		return b, nil
	}
	observability.CacheLookups.WithLabelValues("miss").Inc()
	gen := s.gen.Load()
	b, err := s.store.ListBrands(ctx)
	if err != nil {
		return nil, err
	}
	s.fillMu.Lock()
	if s.gen.Load() == gen {
		s.brands.Store(b)
	}
	s.fillMu.Unlock()
	return b, nil
}

// GetBrand looks the brand up in the cached list first.
func (s *Service) GetBrand(ctx context.Context, id string) (content.Brand, error) {
	if list, ok := s.brands.Load(); ok {
		for _, b := range list {
			if b.ID == id {
				return b, nil
			}
		}
	}
	return s.store.GetBrand(ctx, id)
}

// ListBrandPopups returns the brand's validated popups, or an empty slice when
// nothing has been captured yet. Stored entries failing validation are dropped.
func (s *Service) ListBrandPopups(ctx context.Context, brandID string) ([]content.PopupContent, error) {
	key := Key(KindPopups, brandID)
	var items []content.PopupContent
	if s.cached(ctx, key, &items) {
		return items, nil
	}

	gen := s.gen.Load()
	raw, err := s.store.PopupContent(ctx, brandID)
	if err != nil {
		return nil, err
	}
	items, dropped, err := content.DecodePopups(raw)
	if err != nil {
		return nil, fmt.Errorf("decode popups for %s: %w", brandID, err)
	}
	if dropped > 0 {
		observability.DroppedPopups.Add(float64(dropped))
		log.Warn().Str("brand_id", brandID).Int("dropped", dropped).Msg("invalid popup content")
	}
	s.fill(ctx, key, items, gen)
	return items, nil
}

// ListEmailCampaigns returns the brand's campaigns, newest campaign date first.
func (s *Service) ListEmailCampaigns(ctx context.Context, brandID string) ([]content.EmailCampaign, error) {
	key := Key(KindCampaigns, brandID)
	var out []content.EmailCampaign
	if s.cached(ctx, key, &out) {
		return out, nil
	}

	gen := s.gen.Load()
	out, err := s.store.ListCampaigns(ctx, brandID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, out, gen)
	return out, nil
}

// Invalidate drops one cache entry. key is "brands", "brands:<id>", "popups:<id>"
// or "campaigns:<id>".
func (s *Service) Invalidate(ctx context.Context, key string) error {
	kind, id, _ := strings.Cut(key, ":")
	switch kind {
	case KindBrands:
		s.fillMu.Lock()
		defer s.fillMu.Unlock()
		s.gen.Add(1)
		s.brands.Reset()
		return nil
	case KindPopups, KindCampaigns:
		if id == "" {
			break
		}
		s.fillMu.Lock()
		defer s.fillMu.Unlock()
		s.gen.Add(1)
		return s.cache.Delete(ctx, key)
	}
	return fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// InvalidateAll drops everything, used when change notifications may have been missed.
func (s *Service) InvalidateAll(ctx context.Context) error {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	s.gen.Add(1)
	s.brands.Reset()
	return s.cache.Clear(ctx)
}

// cached decodes a hit into dst. Cache failures degrade to a store read.
func (s *Service) cached(ctx context.Context, key string, dst any) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache get")
		observability.CacheLookups.WithLabelValues("error").Inc()
		return false
	}
	if !ok {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		_ = s.cache.Delete(ctx, key)
		return false
	}
	observability.CacheLookups.WithLabelValues("hit").Inc()
	return true
}

// fill stores v unless an invalidation happened after gen was read; the value
// may predate that write. Replicas sharing redis still rely on their listener.
func (s *Service) fill(ctx context.Context, key string, v any, gen uint64) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	if s.gen.Load() != gen {
		return
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache set")
	}
}

// FilterBrands keeps brands whose name contains q, case-insensitively.
func FilterBrands(brands []content.Brand, q string) []content.Brand {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return brands
	}
	out := []content.Brand{}
	for _, b := range brands {
		if strings.Contains(strings.ToLower(b.Name), q) {
			out = append(out, b)
		}
	}
	return out
}
