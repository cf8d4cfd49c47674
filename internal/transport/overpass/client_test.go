package overpass

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
}

const elementsJSON = `{"elements":[
	{"type":"node","lat":35.81,"lon":139.67,"tags":{"name":"Dairokuten","name:ja":"大六天"}},
	{"type":"way","center":{"lat":35.80,"lon":139.66},"tags":{"name":"大六天交差点"}},
	{"type":"node","lat":35.79,"lon":139.65,"tags":{"highway":"traffic_signals"}},
	{"type":"node","lat":35.81,"lon":139.67,"tags":{"name:ja":"大六天"}}
]}`

func TestNearExact_WithCenter(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(elementsJSON))
	})

	center := &domain.Coordinate{Lat: 35.81, Lng: 139.67}
	features, err := c.NearExact(context.Background(), center, []string{"大六天", "大六天交差点"}, 6000)
	if err != nil {
		t.Fatalf("NearExact: %v", err)
	}

	if !strings.Contains(gotBody, "around:6000") {
		t.Errorf("query missing radius clause:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, `^大六天$|^大六天交差点$`) {
		t.Errorf("query missing anchored alternation:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, `"highway"!="bus_stop"`) {
		t.Errorf("query missing bus stop exclusion:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, `"junction"`) {
		t.Errorf("query missing junction clause:\n%s", gotBody)
	}

	// Nameless element dropped, duplicate collapsed, name:ja preferred.
	if len(features) != 2 {
		t.Fatalf("got %d features: %+v", len(features), features)
	}
	if features[0].Name != "大六天" {
		t.Errorf("name:ja should win: %q", features[0].Name)
	}
	if features[1].Name != "大六天交差点" || features[1].Lat != 35.80 {
		t.Errorf("way center coords not used: %+v", features[1])
	}
}

func TestNearExact_NationwideOmitsRadius(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"elements":[]}`))
	})

	if _, err := c.NearExact(context.Background(), nil, []string{"大六天"}, 6000); err != nil {
		t.Fatalf("NearExact: %v", err)
	}
	if strings.Contains(gotBody, "around:") {
		t.Errorf("nationwide query must not restrict radius:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, "relation[") {
		t.Errorf("nationwide query should include relations:\n%s", gotBody)
	}
}

func TestNearExact_NoVariants(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	features, err := c.NearExact(context.Background(), nil, nil, 6000)
	if err != nil || features != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", features, err)
	}
	if called {
		t.Error("empty variant list must not hit the network")
	}
}

func TestNearPartial(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(elementsJSON))
	})

	center := &domain.Coordinate{Lat: 35.81, Lng: 139.67}
	features, err := c.NearPartial(context.Background(), center, "大六天", 4000)
	if err != nil {
		t.Fatalf("NearPartial: %v", err)
	}
	if !strings.Contains(gotBody, "around:4000") {
		t.Errorf("query missing radius clause:\n%s", gotBody)
	}
	if strings.Contains(gotBody, "^大六天$") {
		t.Errorf("substring query must not anchor:\n%s", gotBody)
	}
	if len(features) != 2 {
		t.Errorf("got %d features", len(features))
	}
}

func TestNearPartial_NilCenter(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	features, err := c.NearPartial(context.Background(), nil, "大六天", 4000)
	if err != nil || features != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", features, err)
	}
	if called {
		t.Error("nil center must not hit the network")
	}
}

func TestNamedFeatures(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(elementsJSON))
	})

	features, err := c.NamedFeatures(context.Background(), domain.Coordinate{Lat: 35.81, Lng: 139.67}, 5000)
	if err != nil {
		t.Fatalf("NamedFeatures: %v", err)
	}
	if !strings.Contains(gotBody, "around:5000") {
		t.Errorf("query missing radius clause:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, "traffic_signals|stop|crossing") {
		t.Errorf("query missing signal clause:\n%s", gotBody)
	}
	if len(features) != 2 {
		t.Errorf("got %d features", len(features))
	}
}

func TestRegexMetacharactersQuoted(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"elements":[]}`))
	})

	center := &domain.Coordinate{Lat: 35, Lng: 139}
	if _, err := c.NearExact(context.Background(), center, []string{"a.b(c)"}, 6000); err != nil {
		t.Fatalf("NearExact: %v", err)
	}
	// Dots and parens must reach Overpass escaped, with the QL string
	// escaping doubling each backslash.
	if !strings.Contains(gotBody, `a\\.b\\(c\\)`) {
		t.Errorf("metacharacters not quoted:\n%s", gotBody)
	}
}

func TestRun_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	center := &domain.Coordinate{Lat: 35, Lng: 139}
	if _, err := c.NearExact(context.Background(), center, []string{"大六天"}, 6000); err == nil {
		t.Fatal("expected error on 429")
	}
}
