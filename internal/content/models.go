package content

import "time"

// Brand is read-only reference data; rows are created out of band (see seed).
type Brand struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Logo          string   `json:"logo" yaml:"logo"`
	Website       string   `json:"website" yaml:"website"`
	SMSExamples   []string `json:"sms_examples" yaml:"sms_examples"`
	EmailExamples []string `json:"email_examples" yaml:"email_examples"`
	PopupExample  string   `json:"popup_example,omitempty" yaml:"popup_example"`
}

// PopupContent is a captured website overlay. Image is the only required field;
// empty optional fields mean "use the consumer's default".
type PopupContent struct {
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	CTA             string `json:"cta,omitempty"`
	Image           string `json:"image"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	TextColor       string `json:"textColor,omitempty"`
}

// DefaultPopupStyle is what the capture endpoint and the viewer fall back to.
var DefaultPopupStyle = PopupContent{BackgroundColor: "#ffffff", TextColor: "#000000"}

// WithDefaults returns a copy with empty optional fields taken from d.
func (p PopupContent) WithDefaults(d PopupContent) PopupContent {
	if p.Title == "" {
		p.Title = d.Title
	}
	if p.Description == "" {
		p.Description = d.Description
	}
	if p.CTA == "" {
		p.CTA = d.CTA
	}
	if p.BackgroundColor == "" {
		p.BackgroundColor = d.BackgroundColor
	}
	if p.TextColor == "" {
		p.TextColor = d.TextColor
	}
	return p
}

// EmailCampaign is an append-only capture of a marketing email.
type EmailCampaign struct {
	ID            string    `json:"id"`
	BrandID       string    `json:"brand_id"`
	CampaignDate  time.Time `json:"campaign_date"`
	SubjectLine   *string   `json:"subject_line"`
	ScreenshotURL string    `json:"screenshot_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewCampaign is the writer-supplied part of an EmailCampaign.
type NewCampaign struct {
	CampaignDate  time.Time `json:"campaign_date"`
	SubjectLine   *string   `json:"subject_line" validate:"omitempty,max=998"`
	ScreenshotURL string    `json:"screenshot_url" validate:"required,url"`
}
