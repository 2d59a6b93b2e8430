package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	PopupsCaptured      = "popups.captured"
	PopupsCaptureFailed = "popups.capture_failed"
	CampaignRecorded    = "campaign.recorded"
)

// Event is the envelope published for catalog writes, keyed by brand.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"event_type"`
	BrandID   string          `json:"brand_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func New(eventType, brandID string, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		BrandID:   brandID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Publisher delivers events. Publishing is best effort: callers log failures and
// never fail the write that produced the event.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
	Close() error
}

// Nop drops every event; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }
