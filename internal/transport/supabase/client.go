// Package supabase implements the persistent place-name cache over the
// Supabase PostgREST API.
package supabase

import (
	"bytes"
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
	"github.com/komanai/kosaten/internal/metrics"
)

const (
	defaultTimeout = 8 * time.Second
	defaultTable   = "intersections"

	selectColumns = "name,name_norm,lat,lng,city"
)

// Config holds connection parameters for the cache API.
type Config struct {
	BaseURL    string
	ServiceKey string
	Table      string
	Timeout    time.Duration
}

// Client talks to the PostgREST endpoint of a Supabase project.
type Client struct {
	baseURL    string
	serviceKey string
	table      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a cache client. BaseURL and ServiceKey are required.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("service key is required")
	}
	if cfg.Table == "" {
		cfg.Table = defaultTable
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		table:      cfg.Table,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// recordDTO is the wire shape of a cached place row. City is null when
// the administrative city is unknown.
type recordDTO struct {
	Name     string  `json:"name"`
	NameNorm string  `json:"name_norm"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	City     *string `json:"city"`
}

func (d recordDTO) toDomain() domain.Record {
	city := ""
	if d.City != nil {
		city = *d.City
	}
	return domain.Record{
		Name:     d.Name,
		NameNorm: d.NameNorm,
		Lat:      d.Lat,
		Lng:      d.Lng,
		City:     city,
	}
}

func toDTO(r domain.Record) recordDTO {
	dto := recordDTO{
		Name:     r.Name,
		NameNorm: r.NameNorm,
		Lat:      r.Lat,
		Lng:      r.Lng,
	}
	if r.City != "" {
		city := r.City
		dto.City = &city
	}
	return dto
}

// ExactLookup returns all rows whose name_norm matches one of the given
// variants. An empty variant list yields no rows and no request.
func (c *Client) ExactLookup(ctx context.Context, variants []string) ([]domain.Record, error) {
	if len(variants) == 0 {
		return nil, nil
	}

	terms := make([]string, 0, len(variants))
	for _, v := range variants {
		terms = append(terms, "name_norm.ilike."+v)
	}
	query := "select=" + url.QueryEscape(selectColumns) +
		"&or=" + url.QueryEscape("("+strings.Join(terms, ",")+")")

	return c.get(ctx, query)
}

// PartialLookup returns up to limit rows whose name_norm contains needle
// as a substring. An empty needle yields no rows and no request.
func (c *Client) PartialLookup(ctx context.Context, needle string, limit int) ([]domain.Record, error) {
	if needle == "" {
		return nil, nil
	}

	query := "select=" + url.QueryEscape(selectColumns) +
		"&name_norm=" + url.QueryEscape("ilike.*"+needle+"*") +
		"&limit=" + strconv.Itoa(limit)

	return c.get(ctx, query)
}

// Upsert writes records with merge-on-duplicate semantics so re-indexing
// the same (name_norm, lat, lng) row updates it in place.
func (c *Client) Upsert(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	dtos := make([]recordDTO, 0, len(records))
	for _, r := range records {
		dtos = append(dtos, toDTO(r))
	}
	body, err := json.Marshal(dtos)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tableURL(""), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("supabase", "error").Inc()
		return fmt.Errorf("upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequests.WithLabelValues("supabase", "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upsert status %d: %s", resp.StatusCode, msg)
	}
	metrics.UpstreamRequests.WithLabelValues("supabase", "ok").Inc()
	return nil
}

// Ping checks that the table is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "select=name_norm&limit=1")
	return err
}

func (c *Client) get(ctx context.Context, rawQuery string) ([]domain.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tableURL(rawQuery), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("supabase", "error").Inc()
		return nil, fmt.Errorf("cache request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamRequests.WithLabelValues("supabase", "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("cache status %d: %s", resp.StatusCode, msg)
	}
	metrics.UpstreamRequests.WithLabelValues("supabase", "ok").Inc()

	var dtos []recordDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	records := make([]domain.Record, 0, len(dtos))
	for _, d := range dtos {
		records = append(records, d.toDomain())
	}
	return records, nil
}

func (c *Client) tableURL(rawQuery string) string {
	u := c.baseURL + "/rest/v1/" + c.table
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
}
