// Package nominatim implements geocoding against the Nominatim API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/domain"
	"github.com/komanai/kosaten/internal/domain/geo"
	"github.com/komanai/kosaten/internal/metrics"
)

const (
	defaultBaseURL = "https://nominatim.openstreetmap.org"
	defaultTimeout = 8 * time.Second
	userAgent      = "kosaten/1.0"
)

// Config holds connection parameters for the geocoder.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client resolves place names to coordinates and coordinates to cities.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a geocoder client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// searchResult is one forward-geocoding hit. Nominatim serializes
// coordinates as strings.
type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Center resolves free text to a single representative coordinate,
// restricted to Japan. Returns (nil, nil) when nothing matches or the
// query is empty.
func (c *Client) Center(ctx context.Context, query string) (*domain.Coordinate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("q", query)
	params.Set("countrycodes", "jp")
	params.Set("limit", "1")
	params.Set("accept-language", "ja")

	var results []searchResult
	if err := c.getJSON(ctx, "/search?"+params.Encode(), &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	if !geo.Valid(lat, lng) {
		return nil, fmt.Errorf("coordinate out of range: %f, %f", lat, lng)
	}
	return &domain.Coordinate{Lat: lat, Lng: lng}, nil
}

// reverseResult is the address breakdown of a reverse-geocoding hit.
type reverseResult struct {
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		County       string `json:"county"`
	} `json:"address"`
}

// ReverseCity returns the administrative city containing the given
// point, or "" when none is known.
func (c *Client) ReverseCity(ctx context.Context, lat, lng float64) (string, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("zoom", "16")
	params.Set("accept-language", "ja")
	params.Set("addressdetails", "1")

	var result reverseResult
	if err := c.getJSON(ctx, "/reverse?"+params.Encode(), &result); err != nil {
		return "", err
	}

	a := result.Address
	for _, city := range []string{a.City, a.Town, a.Village, a.Municipality, a.County} {
		if city != "" {
			return city, nil
		}
	}
	return "", nil
}

func (c *Client) getJSON(ctx context.Context, pathAndQuery string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("nominatim", "error").Inc()
		return fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamRequests.WithLabelValues("nominatim", "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("geocode status %d: %s", resp.StatusCode, msg)
	}
	metrics.UpstreamRequests.WithLabelValues("nominatim", "ok").Inc()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
