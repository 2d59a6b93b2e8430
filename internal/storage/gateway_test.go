package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-catalog/internal/content"
)

// memWriter is an in-memory Writer: popups keyed by brand, campaigns keyed by id.
type memWriter struct {
	mu        sync.Mutex
	failFirst int
	failErr   error
	calls     int
	popups    map[string][]content.PopupContent
	campaigns map[string]content.EmailCampaign
}

func newMemWriter() *memWriter {
	return &memWriter{
		popups:    map[string][]content.PopupContent{},
		campaigns: map[string]content.EmailCampaign{},
	}
}

func (m *memWriter) fail() error {
	m.calls++
	if m.calls <= m.failFirst {
		return m.failErr
	}
	return nil
}

func (m *memWriter) UpsertPopups(_ context.Context, brandID string, items []content.PopupContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.popups[brandID] = items
	return nil
}

func (m *memWriter) InsertCampaign(_ context.Context, c *content.EmailCampaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.campaigns[c.ID]; !ok {
		c.CreatedAt = time.Now()
		m.campaigns[c.ID] = *c
	}
	return nil
}

func TestGateway_UpsertPopups(t *testing.T) {
	tests := []struct {
		name      string
		failFirst int
		failErr   error
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, nil, false, 1},
		{"recovers on third attempt", 2, errors.New("conn reset"), false, 3},
		{"exhausts attempts", 5, errors.New("conn reset"), true, 3},
		{"constraint error is not retried", 5, &pgconn.PgError{Code: "23503"}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newMemWriter()
			w.failFirst, w.failErr = tt.failFirst, tt.failErr
			g := NewGateway(w, 3, time.Millisecond)

			err := g.UpsertPopups(context.Background(), "1", []content.PopupContent{{Image: "a.png"}})
			assert.Equal(t, tt.wantCalls, w.calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrSaveFailed)
				assert.ErrorIs(t, err, tt.failErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGateway_UpsertTwiceKeepsOneValue(t *testing.T) {
	w := newMemWriter()
	g := NewGateway(w, 3, time.Millisecond)
	items := []content.PopupContent{{Image: "a.png"}, {Image: "b.png", Title: "Sale"}}

	require.NoError(t, g.UpsertPopups(context.Background(), "1", items))
	require.NoError(t, g.UpsertPopups(context.Background(), "1", items))

	assert.Len(t, w.popups, 1)
	assert.Equal(t, items, w.popups["1"])
}

func TestGateway_InsertCampaign(t *testing.T) {
	w := newMemWriter()
	g := NewGateway(w, 3, time.Millisecond)
	nc := content.NewCampaign{ScreenshotURL: "https://cdn.example.com/e.png"}

	first, err := g.InsertCampaign(context.Background(), "1", nc)
	require.NoError(t, err)
	second, err := g.InsertCampaign(context.Background(), "1", nc)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, w.campaigns, 2)
	assert.Equal(t, "1", first.BrandID)
	assert.False(t, first.CampaignDate.IsZero())
}

func TestGateway_InsertCampaign_RetryKeepsID(t *testing.T) {
	w := newMemWriter()
	w.failFirst, w.failErr = 1, errors.New("timeout")
	g := NewGateway(w, 3, time.Millisecond)

	c, err := g.InsertCampaign(context.Background(), "1", content.NewCampaign{ScreenshotURL: "https://x.io/a.png"})
	require.NoError(t, err)
	assert.Equal(t, 2, w.calls)
	assert.Len(t, w.campaigns, 1)
	assert.Contains(t, w.campaigns, c.ID)
}

func TestGateway_InsertCampaign_Invalid(t *testing.T) {
	w := newMemWriter()
	g := NewGateway(w, 3, time.Millisecond)

	_, err := g.InsertCampaign(context.Background(), "1", content.NewCampaign{ScreenshotURL: "not a url"})
	var ce *content.CampaignError
	require.ErrorAs(t, err, &ce)
	assert.NotErrorIs(t, err, ErrSaveFailed)
	assert.Zero(t, w.calls)
}

func TestGateway_InsertCampaign_Exhausted(t *testing.T) {
	w := newMemWriter()
	w.failFirst, w.failErr = 10, errors.New("db down")
	g := NewGateway(w, 3, time.Millisecond)

	_, err := g.InsertCampaign(context.Background(), "1", content.NewCampaign{ScreenshotURL: "https://x.io/a.png"})
	assert.ErrorIs(t, err, ErrSaveFailed)
	assert.Equal(t, "failed to save", ErrSaveFailed.Error())
	assert.Equal(t, 3, w.calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("eof")))
	assert.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isTransient(&pgconn.PgError{Code: "22P02"}))
	assert.True(t, isTransient(&pgconn.PgError{Code: "4"}))
	assert.False(t, isTransient(context.Canceled))
}
