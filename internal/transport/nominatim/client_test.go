package nominatim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
}

func TestCenter(t *testing.T) {
	var gotQuery url.Values
	var gotAgent string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`[{"lat":"35.8123","lon":"139.6789"}]`))
	})

	coord, err := c.Center(context.Background(), "戸田市")
	if err != nil {
		t.Fatalf("Center: %v", err)
	}
	if coord == nil || coord.Lat != 35.8123 || coord.Lng != 139.6789 {
		t.Errorf("coord = %+v", coord)
	}
	if gotQuery.Get("countrycodes") != "jp" {
		t.Errorf("countrycodes = %q", gotQuery.Get("countrycodes"))
	}
	if gotQuery.Get("limit") != "1" {
		t.Errorf("limit = %q", gotQuery.Get("limit"))
	}
	if gotQuery.Get("accept-language") != "ja" {
		t.Errorf("accept-language = %q", gotQuery.Get("accept-language"))
	}
	if gotAgent == "" {
		t.Error("User-Agent header must be set")
	}
}

func TestCenter_NoMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	coord, err := c.Center(context.Background(), "存在しない場所")
	if err != nil || coord != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", coord, err)
	}
}

func TestCenter_EmptyQuery(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	coord, err := c.Center(context.Background(), "  ")
	if err != nil || coord != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", coord, err)
	}
	if called {
		t.Error("blank query must not hit the network")
	}
}

func TestCenter_BadLatitude(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"not-a-number","lon":"139.6"}]`))
	})

	if _, err := c.Center(context.Background(), "戸田市"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReverseCity(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"address":{"city":"戸田市","county":"埼玉県"}}`))
	})

	city, err := c.ReverseCity(context.Background(), 35.81, 139.67)
	if err != nil {
		t.Fatalf("ReverseCity: %v", err)
	}
	if city != "戸田市" {
		t.Errorf("city = %q", city)
	}
	if gotQuery.Get("zoom") != "16" {
		t.Errorf("zoom = %q", gotQuery.Get("zoom"))
	}
}

func TestReverseCity_FallbackFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{"village":"小さい村"}}`))
	})

	city, err := c.ReverseCity(context.Background(), 35.0, 139.0)
	if err != nil {
		t.Fatalf("ReverseCity: %v", err)
	}
	if city != "小さい村" {
		t.Errorf("city = %q", city)
	}
}

func TestReverseCity_Unknown(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{}}`))
	})

	city, err := c.ReverseCity(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ReverseCity: %v", err)
	}
	if city != "" {
		t.Errorf("city = %q, want empty", city)
	}
}

func TestCenter_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	if _, err := c.Center(context.Background(), "戸田市"); err == nil {
		t.Fatal("expected error on 503")
	}
}
