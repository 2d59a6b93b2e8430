package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPopup is returned when a single-object payload is not a popup.
var ErrInvalidPopup = errors.New("invalid popup content")

var optionalPopupFields = []string{"title", "description", "cta", "backgroundColor", "textColor"}

// IsValidPopup reports whether v (a decoded JSON value) is a PopupContent:
// an object whose image is a string and whose other known fields are absent or strings.
func IsValidPopup(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return false
	}
	if _, ok := m["image"].(string); !ok {
		return false
	}
	for _, f := range optionalPopupFields {
		raw, present := m[f]
		if !present {
			continue
		}
		if _, ok := raw.(string); !ok {
			return false
		}
	}
	return true
}

// ValidatePopups turns a decoded JSON value into a popup sequence. Arrays are
// filtered elementwise, a single object is treated as a one-element array and
// nil yields an empty sequence. The second result is the number of dropped items.
func ValidatePopups(v any) ([]PopupContent, int) {
	var elems []any
	switch t := v.(type) {
	case nil:
		return []PopupContent{}, 0
	case []any:
		elems = t
	default:
		elems = []any{t}
	}

	out := make([]PopupContent, 0, len(elems))
	for _, e := range elems {
		if !IsValidPopup(e) {
			continue
		}
		out = append(out, popupFromMap(e.(map[string]any)))
	}
	return out, len(elems) - len(out)
}

// DecodePopups decodes raw JSON and validates it with ValidatePopups.
func DecodePopups(raw []byte) ([]PopupContent, int, error) {
	if len(raw) == 0 {
		return []PopupContent{}, 0, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, 0, fmt.Errorf("decode popup content: %w", err)
	}
	items, dropped := ValidatePopups(v)
	return items, dropped, nil
}

func popupFromMap(m map[string]any) PopupContent {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return PopupContent{
		Title:           str("title"),
		Description:     str("description"),
		CTA:             str("cta"),
		Image:           str("image"),
		BackgroundColor: str("backgroundColor"),
		TextColor:       str("textColor"),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CampaignError carries per-field messages for a rejected NewCampaign.
type CampaignError struct {
	Fields map[string]string
}

func (e *CampaignError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for f, m := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", f, m))
	}
	return "invalid email campaign: " + strings.Join(msgs, "; ")
}

// ValidateCampaign checks the writer-supplied campaign record. A screenshot URL is
// the only content requirement; brand and date come from the writer.
func ValidateCampaign(c NewCampaign) error {
	c.ScreenshotURL = strings.TrimSpace(c.ScreenshotURL)
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ce := &CampaignError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		ce.Fields[fe.Field()] = msgForTag(fe)
	}
	return ce
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
