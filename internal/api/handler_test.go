package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-catalog/internal/capture"
	"brand-catalog/internal/content"
	"brand-catalog/internal/refresh"
	"brand-catalog/internal/storage"
)

type MockCatalog struct {
	brands    []content.Brand
	popups    map[string][]content.PopupContent
	campaigns map[string][]content.EmailCampaign
	err       error
}

func (m *MockCatalog) ListBrands(context.Context) ([]content.Brand, error) {
	return m.brands, m.err
}

func (m *MockCatalog) GetBrand(_ context.Context, id string) (content.Brand, error) {
	for _, b := range m.brands {
		if b.ID == id {
			return b, nil
		}
	}
	return content.Brand{}, fmt.Errorf("brand %s: %w", id, storage.ErrNotFound)
}

func (m *MockCatalog) ListBrandPopups(_ context.Context, id string) ([]content.PopupContent, error) {
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.popups[id]; ok {
		return p, nil
	}
	return []content.PopupContent{}, nil
}

func (m *MockCatalog) ListEmailCampaigns(_ context.Context, id string) ([]content.EmailCampaign, error) {
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.campaigns[id]; ok {
		return c, nil
	}
	return []content.EmailCampaign{}, nil
}

type MockCapturer struct {
	result   refresh.Result
	results  []refresh.Result
	campaign content.EmailCampaign
	err      error
	delay    time.Duration
}

func (m *MockCapturer) CaptureBrandByID(context.Context, string) (refresh.Result, error) {
	return m.result, m.err
}

func (m *MockCapturer) CaptureAll(ctx context.Context) ([]refresh.Result, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return m.results, m.err
}

func (m *MockCapturer) RecordCampaign(_ context.Context, brandID string, nc content.NewCampaign) (content.EmailCampaign, error) {
	if m.err != nil {
		return content.EmailCampaign{}, m.err
	}
	if err := content.ValidateCampaign(nc); err != nil {
		return content.EmailCampaign{}, err
	}
	c := m.campaign
	c.BrandID = brandID
	c.ScreenshotURL = nc.ScreenshotURL
	return c, nil
}

type MockShooter struct {
	target string
	err    error
}

func (m *MockShooter) Popup(_ context.Context, target string) (content.PopupContent, error) {
	m.target = target
	if m.err != nil {
		return content.PopupContent{}, m.err
	}
	return content.PopupContent{Title: "Website Popup", Image: "data:image/jpeg;base64,AAAA"}.WithDefaults(content.DefaultPopupStyle), nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(h *Handler) http.Handler {
	if h.Catalog == nil {
		h.Catalog = &MockCatalog{}
	}
	if h.Capture == nil {
		h.Capture = &MockCapturer{}
	}
	if h.Shots == nil {
		h.Shots = &MockShooter{}
	}
	return Router(h, Timeouts{Read: time.Second, Write: time.Second, Capture: time.Second})
}

func do(t *testing.T, r http.Handler, method, url, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var testBrands = []content.Brand{
	{ID: "1", Name: "Allbirds", Website: "https://www.allbirds.com"},
	{ID: "2", Name: "Warby Parker", Website: "https://www.warbyparker.com"},
}

func TestReadRoutes(t *testing.T) {
	cat := &MockCatalog{
		brands: testBrands,
		popups: map[string][]content.PopupContent{
			"1": {{Image: "a.png", Title: "Join"}, {Image: "b.png"}},
		},
		campaigns: map[string][]content.EmailCampaign{
			"1": {{ID: "c1", ScreenshotURL: "https://x/a.png", CampaignDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}},
		},
	}
	r := newTestRouter(&Handler{Catalog: cat})

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{"all brands", "/v1/brands", http.StatusOK, `"Warby Parker"`},
		{"brand search", "/v1/brands?q=warby", http.StatusOK, `"Warby Parker"`},
		{"brand", "/v1/brands/1", http.StatusOK, `"Allbirds"`},
		{"missing brand", "/v1/brands/9", http.StatusNotFound, `"brand not found"`},
		{"popups", "/v1/brands/1/popups", http.StatusOK, `"image":"b.png"`},
		{"no popups yet", "/v1/brands/2/popups", http.StatusOK, `[]`},
		{"campaigns", "/v1/brands/1/campaigns", http.StatusOK, `"id":"c1"`},
		{"popup frame", "/v1/brands/1/popups/view?index=0&move=next", http.StatusOK, `"label":"Popup 2 of 2"`},
		{"popup frame wraps back", "/v1/brands/1/popups/view?index=0&move=prev", http.StatusOK, `"label":"Popup 2 of 2"`},
		{"popup frame image failed", "/v1/brands/1/popups/view?image_failed=true", http.StatusOK, `"placeholder":"Failed to load screenshot"`},
		{"empty popup frame", "/v1/brands/2/popups/view", http.StatusOK, `"No popups available for this brand"`},
		{"campaign frame", "/v1/brands/1/campaigns/view", http.StatusOK, `"sent_on":"Sent on May 1, 2024"`},
		{"health", "/healthz", http.StatusOK, "ok"},
		{"ready without db", "/readyz", http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodGet, tt.url, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestListBrands_Filter(t *testing.T) {
	r := newTestRouter(&Handler{Catalog: &MockCatalog{brands: testBrands}})
	w := do(t, r, http.MethodGet, "/v1/brands?q=ALL", "")

	var got []content.Brand
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestReadRoutes_StoreError(t *testing.T) {
	r := newTestRouter(&Handler{Catalog: &MockCatalog{err: errors.New("db down")}})
	w := do(t, r, http.MethodGet, "/v1/brands/1/popups", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestCaptureBrand(t *testing.T) {
	fetchErr := fmt.Errorf("%w: %w", refresh.ErrFetchFailed, &capture.Error{Kind: capture.KindProvider, Reason: "rate limited"})
	saveErr := fmt.Errorf("%w: popups for 1: %w", storage.ErrSaveFailed, errors.New("conn reset"))

	tests := []struct {
		name       string
		capturer   *MockCapturer
		wantStatus int
		wantBody   string
	}{
		{"success", &MockCapturer{result: refresh.Result{BrandID: "1", Items: 2}}, http.StatusOK, `{"message":"Successfully fetched popup content","items":2}`},
		{"fetch failed", &MockCapturer{err: fetchErr}, http.StatusBadGateway, `{"error":"failed to fetch: rate limited"}`},
		{"save failed", &MockCapturer{err: saveErr}, http.StatusInternalServerError, `{"error":"failed to save"}`},
		{"unknown brand", &MockCapturer{err: storage.ErrNotFound}, http.StatusNotFound, `{"error":"brand not found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&Handler{Capture: tt.capturer})
			w := do(t, r, http.MethodPost, "/v1/brands/1/capture", "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestCaptureAll(t *testing.T) {
	capt := &MockCapturer{results: []refresh.Result{
		{BrandID: "1", Name: "Allbirds", Items: 1},
		{BrandID: "2", Name: "Warby Parker", Err: refresh.ErrFetchFailed},
	}}
	r := newTestRouter(&Handler{Capture: capt})

	w := do(t, r, http.MethodPost, "/v1/capture/all", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Results   []struct {
			BrandID string `json:"brand_id"`
			Error   string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
	assert.Equal(t, "failed to fetch", body.Results[1].Error)
	assert.Empty(t, body.Results[0].Error)
}

func TestCreateCampaign(t *testing.T) {
	r := newTestRouter(&Handler{Capture: &MockCapturer{campaign: content.EmailCampaign{ID: "new"}}})

	w := do(t, r, http.MethodPost, "/v1/brands/1/campaigns", `{"screenshot_url":"https://x.io/a.png","subject_line":"Hi"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"new"`)

	w = do(t, r, http.MethodPost, "/v1/brands/1/campaigns", `{"screenshot_url":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"ScreenshotURL"`)

	w = do(t, r, http.MethodPost, "/v1/brands/1/campaigns", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request body"}`, w.Body.String())
}

func TestCaptureProvider(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		auth       string
		body       string
		shotErr    error
		wantStatus int
		wantBody   string
	}{
		{"success", "", "", `{"url":"https://www.allbirds.com"}`, nil, http.StatusOK, `"success":true`},
		{"authorized", "k", "Bearer k", `{"url":"https://www.allbirds.com"}`, nil, http.StatusOK, `"title":"Website Popup"`},
		{"wrong key", "k", "Bearer x", `{"url":"https://a"}`, nil, http.StatusUnauthorized, `"error":"unauthorized"`},
		{"missing url", "", "", `{}`, nil, http.StatusBadRequest, `"error":"url is required"`},
		{"screenshot error", "", "", `{"url":"https://a"}`, errors.New("screenshot API error: 429 - slow down"), http.StatusInternalServerError, `{"success":false,"error":"screenshot API error: 429 - slow down"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shots := &MockShooter{err: tt.shotErr}
			r := newTestRouter(&Handler{Shots: shots, APIKey: tt.apiKey})
			w := do(t, r, http.MethodPost, "/v1/capture", tt.body, "Authorization", tt.auth)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

// The handler speaks the same contract the capture client consumes.
func TestCaptureProvider_RoundTripWithClient(t *testing.T) {
	ts := httptest.NewServer(newTestRouter(&Handler{APIKey: "secret"}))
	defer ts.Close()

	client := capture.NewClient(ts.URL+"/v1/capture", capture.StaticCredential("secret"), time.Second)
	items, err := client.Capture(context.Background(), "https://www.casper.com")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "#ffffff", items[0].BackgroundColor)

	bad := capture.NewClient(ts.URL+"/v1/capture", capture.StaticCredential("nope"), time.Second)
	_, err = bad.Capture(context.Background(), "https://www.casper.com")
	assert.Equal(t, capture.KindTransport, capture.KindOf(err))
	assert.EqualError(t, err, "unauthorized")
}

func TestReady(t *testing.T) {
	down := newTestRouter(&Handler{DB: pingFunc(func(context.Context) error { return errors.New("refused") })})
	w := do(t, down, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	up := newTestRouter(&Handler{DB: pingFunc(func(context.Context) error { return nil })})
	w = do(t, up, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(&Handler{})
	w := do(t, r, http.MethodOptions, "/v1/capture", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// slowWriter is a storage.Writer whose inserts take delay and fail failFirst times.
type slowWriter struct {
	mu        sync.Mutex
	delay     time.Duration
	failFirst int
	calls     int
}

func (s *slowWriter) UpsertPopups(context.Context, string, []content.PopupContent) error {
	return nil
}

func (s *slowWriter) InsertCampaign(ctx context.Context, c *content.EmailCampaign) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}
	if n <= s.failFirst {
		return errors.New("conn reset")
	}
	c.CreatedAt = time.Now()
	return nil
}

func (s *slowWriter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func campaignRouter(w *slowWriter, t Timeouts) http.Handler {
	cat := &MockCatalog{brands: testBrands}
	svc := refresh.NewService(nil, storage.NewGateway(w, 3, 30*time.Millisecond), cat, nil, nil, refresh.Options{})
	return Router(&Handler{Catalog: cat, Capture: svc, Shots: &MockShooter{}}, t)
}

func TestCreateCampaign_OutlastsStorageRetries(t *testing.T) {
	// three slow attempts take longer than a read is allowed to
	sw := &slowWriter{delay: 40 * time.Millisecond, failFirst: 2}
	r := campaignRouter(sw, Timeouts{Read: 50 * time.Millisecond, Write: 2 * time.Second})

	w := do(t, r, http.MethodPost, "/v1/brands/1/campaigns", `{"screenshot_url":"https://x.io/a.png"}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 3, sw.Calls())
	assert.Contains(t, w.Body.String(), `"brand_id":"1"`)
}

func TestCreateCampaign_TimeoutLeavesResponseToMiddleware(t *testing.T) {
	sw := &slowWriter{delay: 30 * time.Millisecond, failFirst: 100}
	r := campaignRouter(sw, Timeouts{Write: 50 * time.Millisecond})

	w := do(t, r, http.MethodPost, "/v1/brands/1/campaigns", `{"screenshot_url":"https://x.io/a.png"}`)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteError_SkipsFinishedRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/brands", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	writeError(w, req, storage.ErrSaveFailed)
	assert.Empty(t, w.Body.String())
	assert.Empty(t, w.Header().Get("Content-Type"))
}

func TestCaptureAll_BudgetScalesWithGroups(t *testing.T) {
	fourBrands := append(append([]content.Brand{}, testBrands...),
		content.Brand{ID: "3", Name: "Casper"}, content.Brand{ID: "4", Name: "Glossier"})

	tests := []struct {
		name       string
		brands     []content.Brand
		wantStatus int
	}{
		// one group: the batch gets a single per-group budget
		{"one group exceeds its budget", fourBrands[:3], http.StatusGatewayTimeout},
		// two groups: a run longer than one budget still completes
		{"two groups get two budgets", fourBrands, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capt := &MockCapturer{delay: 250 * time.Millisecond, results: []refresh.Result{{BrandID: "1", Items: 1}}}
			h := &Handler{Catalog: &MockCatalog{brands: tt.brands}, Capture: capt, Shots: &MockShooter{}}
			r := Router(h, Timeouts{Capture: 200 * time.Millisecond, BatchSize: 3})

			w := do(t, r, http.MethodPost, "/v1/capture/all", "")
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestBatchBudget(t *testing.T) {
	tests := []struct {
		brands, batch int
		want          time.Duration
	}{
		{0, 3, time.Minute},
		{3, 3, time.Minute},
		{4, 3, 2 * time.Minute},
		{7, 3, 3 * time.Minute},
		{4, 0, 2 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BatchBudget(tt.brands, tt.batch, time.Minute), "%d brands in groups of %d", tt.brands, tt.batch)
	}
}
