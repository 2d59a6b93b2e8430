package storage

import (
	"brand-catalog/internal/config"
	"brand-catalog/internal/content"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// CallTimeout bounds a single query or statement.
const CallTimeout = 5 * time.Second

// DBTX is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Store struct {
	db   DBTX
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// NewWithDB wraps an existing connection (or mock). LISTEN is unavailable without a pool.
func NewWithDB(db DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}

// ListBrands returns every brand ordered by name.
func (s *Store) ListBrands(ctx context.Context) ([]content.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT id, name, logo, website, sms_examples, email_examples, popup_example
		FROM brands
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query brands: %w", err)
	}
	defer rows.Close()

	out := []content.Brand{}
	for rows.Next() {
		b, err := scanBrand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brands: %w", err)
	}
	return out, nil
}

// GetBrand returns one brand or ErrNotFound.
func (s *Store) GetBrand(ctx context.Context, id string) (content.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	row := s.db.QueryRow(ctx, `
		SELECT id, name, logo, website, sms_examples, email_examples, popup_example
		FROM brands
		WHERE id = $1
	`, id)
	b, err := scanBrand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return content.Brand{}, fmt.Errorf("brand %s: %w", id, ErrNotFound)
	}
	return b, err
}

func scanBrand(row pgx.Row) (content.Brand, error) {
	var b content.Brand
	if err := row.Scan(&b.ID, &b.Name, &b.Logo, &b.Website, &b.SMSExamples, &b.EmailExamples, &b.PopupExample); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("scan brand: %w", err)
	}
	if b.SMSExamples == nil {
		b.SMSExamples = []string{}
	}
	if b.EmailExamples == nil {
		b.EmailExamples = []string{}
	}
	return b, nil
}

// UpsertBrand writes reference data; used by the seed command only.
func (s *Store) UpsertBrand(ctx context.Context, b content.Brand) error {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO brands (id, name, logo, website, sms_examples, email_examples, popup_example)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			logo = EXCLUDED.logo,
			website = EXCLUDED.website,
			sms_examples = EXCLUDED.sms_examples,
			email_examples = EXCLUDED.email_examples,
			popup_example = EXCLUDED.popup_example
	`, b.ID, b.Name, b.Logo, b.Website, nonNil(b.SMSExamples), nonNil(b.EmailExamples), b.PopupExample)
	if err != nil {
		return fmt.Errorf("upsert brand %s: %w", b.ID, err)
	}
	return nil
}

// PopupContent returns the raw stored popup blob for a brand, or nil when no row exists.
// The blob is untrusted: callers validate it.
func (s *Store) PopupContent(ctx context.Context, brandID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT popup_content FROM brand_popups WHERE brand_id = $1`, brandID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query popups for %s: %w", brandID, err)
	}
	return raw, nil
}

// UpsertPopups replaces the brand's whole popup set in a single statement.
func (s *Store) UpsertPopups(ctx context.Context, brandID string, items []content.PopupContent) error {
	if items == nil {
		items = []content.PopupContent{}
	}
	blob, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode popups: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	_, err = s.db.Exec(ctx, `
		INSERT INTO brand_popups (brand_id, popup_content, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (brand_id) DO UPDATE SET
			popup_content = EXCLUDED.popup_content,
			updated_at = now()
	`, brandID, blob)
	if err != nil {
		return fmt.Errorf("upsert popups for %s: %w", brandID, err)
	}
	return nil
}

// InsertCampaign appends a campaign row. Re-inserting the same id is a no-op so the
// caller can retry safely; CreatedAt is filled from the database.
func (s *Store) InsertCampaign(ctx context.Context, c *content.EmailCampaign) error {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	err := s.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO email_campaigns (id, brand_id, campaign_date, subject_line, screenshot_url)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
			RETURNING created_at
		)
		SELECT created_at FROM ins
		UNION ALL
		SELECT created_at FROM email_campaigns WHERE id = $1
		LIMIT 1
	`, c.ID, c.BrandID, c.CampaignDate, c.SubjectLine, c.ScreenshotURL).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign for %s: %w", c.BrandID, err)
	}
	return nil
}

// ListCampaigns returns a brand's campaigns, newest campaign date first.
func (s *Store) ListCampaigns(ctx context.Context, brandID string) ([]content.EmailCampaign, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT id, brand_id, campaign_date, subject_line, screenshot_url, created_at
		FROM email_campaigns
		WHERE brand_id = $1
		ORDER BY campaign_date DESC
	`, brandID)
	if err != nil {
		return nil, fmt.Errorf("query campaigns for %s: %w", brandID, err)
	}
	defer rows.Close()

	out := []content.EmailCampaign{}
	for rows.Next() {
		var c content.EmailCampaign
		if err := rows.Scan(&c.ID, &c.BrandID, &c.CampaignDate, &c.SubjectLine, &c.ScreenshotURL, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func (s *Store) ListenChannel() string {
	return "catalog_changed"
}

// PgxPool exposes the pool for LISTEN connections.
func (s *Store) PgxPool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, errors.New("pgx pool is nil")
	}
	return s.pool, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
