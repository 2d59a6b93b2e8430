package viewer

import (
	"fmt"
	"strings"

	"brand-catalog/internal/content"
)

const (
	ImagePlaceholder = "Failed to load screenshot"
	DateLayout       = "January 2, 2006"
)

// Frame is everything needed to draw the viewer for the cursor's current position.
type Frame[T any] struct {
	State       string `json:"state"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	Label       string `json:"label,omitempty"`
	CanNavigate bool   `json:"can_navigate"`
	Item        *T     `json:"item,omitempty"`
	ShowImage   bool   `json:"show_image"`
	AltText     string `json:"alt_text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Message     string `json:"message,omitempty"`
}

type CampaignView struct {
	content.EmailCampaign
	SentOn string `json:"sent_on"`
}

type kind struct {
	noun, loading, empty, alt string
}

var (
	popupKind    = kind{"Popup", "Loading popups...", "No popups available for this brand", "Popup screenshot"}
	campaignKind = kind{"Campaign", "Loading email campaigns...", "No email campaigns available for this brand", "Email campaign screenshot"}
)

func frame[T, V any](c *Cursor[T], k kind, image func(T) string, alt func(T) string, view func(T) V) Frame[V] {
	f := Frame[V]{State: c.State().String(), Total: c.Len()}
	switch c.State() {
	case StateLoading:
		f.Message = k.loading
		return f
	case StateEmpty:
		f.Message = k.empty
		return f
	}

	cur, _ := c.Current()
	v := view(cur)
	f.Index = c.Index()
	f.Label = fmt.Sprintf("%s %d of %d", k.noun, c.Index()+1, c.Len())
	f.CanNavigate = c.CanNavigate()
	f.Item = &v
	f.ShowImage = strings.TrimSpace(image(cur)) != "" && !c.ImageFailed()
	if !f.ShowImage {
		f.Placeholder = ImagePlaceholder
	}
	f.AltText = alt(cur)
	if f.AltText == "" {
		f.AltText = k.alt
	}
	return f
}

// PopupFrame renders popups with the default colours filled in.
func PopupFrame(c *Cursor[content.PopupContent]) Frame[content.PopupContent] {
	return frame(c, popupKind,
		func(p content.PopupContent) string { return p.Image },
		func(p content.PopupContent) string { return p.Title },
		func(p content.PopupContent) content.PopupContent { return p.WithDefaults(content.DefaultPopupStyle) },
	)
}

func CampaignFrame(c *Cursor[content.EmailCampaign]) Frame[CampaignView] {
	return frame(c, campaignKind,
		func(e content.EmailCampaign) string { return e.ScreenshotURL },
		func(e content.EmailCampaign) string {
			if e.SubjectLine == nil {
				return ""
			}
			return *e.SubjectLine
		},
		func(e content.EmailCampaign) CampaignView {
			return CampaignView{EmailCampaign: e, SentOn: "Sent on " + e.CampaignDate.Format(DateLayout)}
		},
	)
}

// Move is a navigation request from a stateless client.
type Move string

const (
	MoveNone Move = ""
	MoveNext Move = "next"
	MovePrev Move = "prev"
)

// Replay rebuilds a cursor from a client-held position: load items, seek to
// index, apply move, then mark the image as failed if the client reported it.
func Replay[T any](items []T, index int, move Move, imageFailed bool) *Cursor[T] {
	c := &Cursor[T]{}
	c.Load(items)
	c.Seek(index)
	switch move {
	case MoveNext:
		c.Next()
	case MovePrev:
		c.Previous()
	}
	if imageFailed {
		c.MarkImageFailed()
	}
	return c
}
