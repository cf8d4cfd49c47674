// Package overpass queries the Overpass API for named road and
// intersection features.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/domain"
	"github.com/komanai/kosaten/internal/metrics"
)

const (
	defaultBaseURL = "https://overpass-api.de/api/interpreter"
	defaultTimeout = 10 * time.Second

	// roadClasses matches highway values that can carry an
	// intersection name. Railway platforms and footpaths are out.
	roadClasses = "^(motorway|trunk|primary|secondary|tertiary|unclassified|residential|living_street|service)$"

	// notBus excludes bus infrastructure, which shares names with the
	// intersections it sits on.
	notBus = `["highway"!="bus_stop"]["amenity"!="bus_station"]["public_transport"!="platform"]["public_transport"!="stop_position"]["public_transport"!="stop_area"]`
)

// Config holds connection parameters for the feature source.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client runs Overpass QL queries and maps elements to features.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an Overpass client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// NearExact returns features whose name fully matches one of the
// variants. With a center the search is limited to radiusMeters around
// it and to road and junction features; with a nil center it runs
// nationwide over nodes, ways and relations.
func (c *Client) NearExact(ctx context.Context, center *domain.Coordinate, variants []string, radiusMeters int) ([]domain.Feature, error) {
	if len(variants) == 0 {
		return nil, nil
	}

	alts := make([]string, 0, len(variants))
	for _, v := range variants {
		alts = append(alts, "^"+regexp.QuoteMeta(v)+"$")
	}
	rx := qlString(strings.Join(alts, "|"))

	var b strings.Builder
	b.WriteString("[out:json][timeout:25];\n(\n")
	if center != nil {
		around := fmt.Sprintf("(around:%d,%f,%f)", radiusMeters, center.Lat, center.Lng)
		fmt.Fprintf(&b, "  node%s[\"highway\"~%q][\"name\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
		fmt.Fprintf(&b, "  node%s[\"highway\"~%q][\"name:ja\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
		fmt.Fprintf(&b, "  node%s[\"junction\"][\"name\"~%s,i]%s;\n", around, rx, notBus)
		fmt.Fprintf(&b, "  way%s[\"highway\"~%q][\"name\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
		fmt.Fprintf(&b, "  way%s[\"highway\"~%q][\"name:ja\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
		fmt.Fprintf(&b, "  way%s[\"junction\"][\"name\"~%s,i]%s;\n", around, rx, notBus)
	} else {
		for _, elem := range []string{"node", "way", "relation"} {
			fmt.Fprintf(&b, "  %s[\"name\"~%s,i];\n", elem, rx)
			fmt.Fprintf(&b, "  %s[\"name:ja\"~%s,i];\n", elem, rx)
		}
	}
	b.WriteString(");\nout tags center 200;")

	return c.run(ctx, b.String())
}

// NearPartial returns features whose name contains needle as a
// substring, within radiusMeters of center. A nil center or empty
// needle yields no features and no request.
func (c *Client) NearPartial(ctx context.Context, center *domain.Coordinate, needle string, radiusMeters int) ([]domain.Feature, error) {
	if center == nil || needle == "" {
		return nil, nil
	}

	rx := qlString(regexp.QuoteMeta(needle))
	around := fmt.Sprintf("(around:%d,%f,%f)", radiusMeters, center.Lat, center.Lng)

	var b strings.Builder
	b.WriteString("[out:json][timeout:25];\n(\n")
	fmt.Fprintf(&b, "  node%s[\"highway\"~%q][\"name\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
	fmt.Fprintf(&b, "  node%s[\"highway\"~%q][\"name:ja\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
	fmt.Fprintf(&b, "  node%s[\"junction\"][\"name\"~%s,i]%s;\n", around, rx, notBus)
	fmt.Fprintf(&b, "  way%s[\"highway\"~%q][\"name\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
	fmt.Fprintf(&b, "  way%s[\"highway\"~%q][\"name:ja\"~%s,i]%s;\n", around, roadClasses, rx, notBus)
	fmt.Fprintf(&b, "  way%s[\"junction\"][\"name\"~%s,i]%s;\n", around, rx, notBus)
	b.WriteString(");\nout tags center 200;")

	return c.run(ctx, b.String())
}

// NamedFeatures returns every named road, signal and junction feature
// within radiusMeters of center. Used for bulk area indexing.
func (c *Client) NamedFeatures(ctx context.Context, center domain.Coordinate, radiusMeters int) ([]domain.Feature, error) {
	around := fmt.Sprintf("(around:%d,%f,%f)", radiusMeters, center.Lat, center.Lng)

	var b strings.Builder
	b.WriteString("[out:json][timeout:30];\n(\n")
	fmt.Fprintf(&b, "  node%s[\"highway\"~%q][\"name\"]%s;\n", around, roadClasses, notBus)
	fmt.Fprintf(&b, "  way%s[\"highway\"~%q][\"name\"]%s;\n", around, roadClasses, notBus)
	fmt.Fprintf(&b, "  node%s[\"highway\"~\"traffic_signals|stop|crossing\"][\"name\"]%s;\n", around, notBus)
	fmt.Fprintf(&b, "  node%s[\"junction\"][\"name\"]%s;\n", around, notBus)
	fmt.Fprintf(&b, "  way%s[\"junction\"][\"name\"]%s;\n", around, notBus)
	b.WriteString(");\nout tags center 2000;")

	return c.run(ctx, b.String())
}

// element is one Overpass result. Ways and relations carry coordinates
// in center, nodes inline.
type element struct {
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Tags map[string]string `json:"tags"`
}

type response struct {
	Elements []element `json:"elements"`
}

func (c *Client) run(ctx context.Context, query string) ([]domain.Feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("overpass", "error").Inc()
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamRequests.WithLabelValues("overpass", "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("overpass status %d: %s", resp.StatusCode, msg)
	}
	metrics.UpstreamRequests.WithLabelValues("overpass", "ok").Inc()

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	features := make([]domain.Feature, 0, len(body.Elements))
	seen := make(map[string]struct{}, len(body.Elements))
	for _, e := range body.Elements {
		lat, lng, ok := e.coords()
		if !ok {
			continue
		}
		name := strings.TrimSpace(e.Tags["name:ja"])
		if name == "" {
			name = strings.TrimSpace(e.Tags["name"])
		}
		if name == "" {
			continue
		}
		key := domain.DedupKey(name, lat, lng)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		features = append(features, domain.Feature{Name: name, Lat: lat, Lng: lng})
	}
	return features, nil
}

func (e element) coords() (float64, float64, bool) {
	if e.Lat != nil && e.Lon != nil {
		return *e.Lat, *e.Lon, true
	}
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon, true
	}
	return 0, 0, false
}

// qlString quotes s as an Overpass QL string literal.
func qlString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
