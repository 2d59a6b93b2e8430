// Command mockprovider is a local stand-in for the capture provider. It answers
// POST /v1/capture in every response shape the capture client accepts.
package main

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type provider struct {
	mu        sync.Mutex
	seen      map[string]int
	failFirst int
	shape     string
	apiKey    string
}

func newProvider(failFirst int, shape, apiKey string) *provider {
	return &provider{seen: map[string]int{}, failFirst: failFirst, shape: shape, apiKey: apiKey}
}

func (p *provider) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/v1/capture", p.handleCapture)
	return r
}

func (p *provider) handleCapture(c *gin.Context) {
	if p.apiKey != "" && c.GetHeader("Authorization") != "Bearer "+p.apiKey {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "url is required"})
		return
	}

	p.mu.Lock()
	p.seen[req.URL]++
	n := p.seen[req.URL]
	p.mu.Unlock()

	// the first failFirst calls per URL fail, so retries can be watched end to end
	if n <= p.failFirst {
		log.Info().Str("url", req.URL).Int("call", n).Msg("simulated provider failure")
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "rate limited"})
		return
	}

	popup := gin.H{
		"title":       "Website Popup",
		"description": "Captured popup from " + req.URL,
		"cta":         "View Details",
		"image":       "https://picsum.photos/seed/" + uuid.NewString() + "/1440/900",
	}
	var data any
	switch p.shape {
	case "object":
		data = popup
	case "nested":
		data = gin.H{"data": []gin.H{popup}}
	case "empty":
		data = []gin.H{}
	default:
		data = []gin.H{popup}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	failFirst, _ := strconv.Atoi(os.Getenv("MOCK_FAIL_FIRST"))
	shape := strings.ToLower(os.Getenv("MOCK_SHAPE"))

	p := newProvider(failFirst, shape, os.Getenv("CAPTURE_API_KEY"))
	log.Info().Str("port", port).Int("fail_first", failFirst).Str("shape", shape).Msg("starting mock capture provider")
	if err := http.ListenAndServe(":"+port, p.routes()); err != nil {
		log.Fatal().Err(err).Msg("mock provider stopped")
	}
}
