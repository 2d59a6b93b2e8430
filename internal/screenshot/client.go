// Package screenshot renders a website through a third-party screenshot API and
// turns the result into popup content. It backs the capture provider endpoint.
package screenshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"brand-catalog/internal/content"
)

// ErrMissingAccessKey means the screenshot API key is not configured.
var ErrMissingAccessKey = errors.New("screenshot API key not configured")

// ErrEmptyImage means the API answered 2xx without an image.
var ErrEmptyImage = errors.New("received empty image from screenshot API")

const maxImageBytes = 20 << 20

// Options are the render parameters sent with every request.
type Options struct {
	Endpoint           string
	AccessKey          string
	ViewportWidth      int
	ViewportHeight     int
	Format             string
	DelaySeconds       int
	BlockAds           bool
	BlockCookieBanners bool
	WaitFor            string
	Timeout            time.Duration
}

// Client calls the screenshot API behind a circuit breaker.
type Client struct {
	opts    Options
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewClient creates a screenshot client. The breaker opens after five consecutive
// failures and probes again after a minute.
func NewClient(opts Options) *Client {
	if opts.Format == "" {
		opts.Format = "jpeg"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "screenshot",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMissingAccessKey) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &Client{
		opts: opts,
		// the API waits up to Timeout itself; leave headroom for the transfer
		client:  &http.Client{Timeout: opts.Timeout + 15*time.Second},
		breaker: cb,
	}
}

// Take renders target and returns either an image URL or a data URI.
func (c *Client) Take(ctx context.Context, target string) (string, error) {
	if strings.TrimSpace(c.opts.AccessKey) == "" {
		return "", ErrMissingAccessKey
	}
	return c.breaker.Execute(func() (string, error) { return c.take(ctx, target) })
}

func (c *Client) take(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create screenshot request: %w", err)
	}
	req.URL.RawQuery = c.query(target).Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("screenshot request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("read screenshot response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("screenshot API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	log.Debug().Str("url", target).Int("bytes", len(body)).Msg("screenshot received")

	return c.decode(resp.Header.Get("Content-Type"), body)
}

func (c *Client) query(target string) url.Values {
	q := url.Values{}
	q.Set("url", target)
	q.Set("access_key", c.opts.AccessKey)
	q.Set("full_page", "false")
	q.Set("format", c.opts.Format)
	q.Set("block_ads", strconv.FormatBool(c.opts.BlockAds))
	q.Set("block_cookie_banners", strconv.FormatBool(c.opts.BlockCookieBanners))
	q.Set("delay", strconv.Itoa(c.opts.DelaySeconds))
	q.Set("viewport_width", strconv.Itoa(c.opts.ViewportWidth))
	q.Set("viewport_height", strconv.Itoa(c.opts.ViewportHeight))
	q.Set("response_type", "base64")
	if c.opts.WaitFor != "" {
		q.Set("wait_for", c.opts.WaitFor)
	}
	q.Set("timeout", strconv.FormatInt(c.opts.Timeout.Milliseconds(), 10))
	return q
}

// envelope covers the JSON shapes screenshot APIs answer with.
type envelope struct {
	Image  string `json:"image"`
	Base64 string `json:"base64"`
	URL    string `json:"url"`
	Shot   string `json:"screenshot_url"`
}

func (c *Client) decode(contentType string, body []byte) (string, error) {
	mt, _, _ := mime.ParseMediaType(contentType)

	switch {
	case strings.HasPrefix(mt, "image/"):
		if len(body) == 0 {
			return "", ErrEmptyImage
		}
		return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(body), nil

	case mt == "application/json":
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return "", fmt.Errorf("decode screenshot envelope: %w", err)
		}
		switch {
		case env.URL != "":
			return env.URL, nil
		case env.Shot != "":
			return env.Shot, nil
		case env.Image != "":
			return c.asImage(env.Image), nil
		case env.Base64 != "":
			return c.asImage(env.Base64), nil
		}
		return "", ErrEmptyImage
	}

	s := strings.TrimSpace(string(body))
	if s == "" {
		return "", ErrEmptyImage
	}
	return c.asImage(s), nil
}

// asImage passes URLs and data URIs through and wraps bare base64 as a data URI.
func (c *Client) asImage(s string) string {
	if strings.HasPrefix(s, "data:") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return "data:image/" + c.opts.Format + ";base64," + s
}

// Shooter renders a page to an image reference.
type Shooter interface {
	Take(ctx context.Context, target string) (string, error)
}

// Service builds popup content from screenshots.
type Service struct {
	shots Shooter
}

func NewService(shots Shooter) *Service { return &Service{shots: shots} }

// Popup captures target and describes it as a single popup.
func (s *Service) Popup(ctx context.Context, target string) (content.PopupContent, error) {
	image, err := s.shots.Take(ctx, target)
	if err != nil {
		return content.PopupContent{}, err
	}
	return content.PopupContent{
		Title:       "Website Popup",
		Description: "Captured popup from " + target,
		CTA:         "View Details",
		Image:       image,
	}.WithDefaults(content.DefaultPopupStyle), nil
}
