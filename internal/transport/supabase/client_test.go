package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, ServiceKey: "test-key"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestExactLookup(t *testing.T) {
	var gotPath, gotOr, gotKey string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOr = r.URL.Query().Get("or")
		gotKey = r.Header.Get("apikey")
		city := "戸田市"
		json.NewEncoder(w).Encode([]recordDTO{
			{Name: "大六天", NameNorm: "大六天", Lat: 35.81, Lng: 139.67, City: &city},
			{Name: "大六天交差点", NameNorm: "大六天交差点", Lat: 35.81, Lng: 139.67},
		})
	})

	records, err := c.ExactLookup(context.Background(), []string{"大六天", "大六天交差点"})
	if err != nil {
		t.Fatalf("ExactLookup: %v", err)
	}
	if gotPath != "/rest/v1/intersections" {
		t.Errorf("path = %q", gotPath)
	}
	if want := "(name_norm.ilike.大六天,name_norm.ilike.大六天交差点)"; gotOr != want {
		t.Errorf("or = %q, want %q", gotOr, want)
	}
	if gotKey != "test-key" {
		t.Errorf("apikey = %q", gotKey)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].City != "戸田市" {
		t.Errorf("city = %q", records[0].City)
	}
	if records[1].City != "" {
		t.Errorf("null city should map to empty, got %q", records[1].City)
	}
}

func TestExactLookup_NoVariantsNoRequest(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	records, err := c.ExactLookup(context.Background(), nil)
	if err != nil || records != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", records, err)
	}
	if called {
		t.Error("empty variant list must not hit the network")
	}
}

func TestPartialLookup(t *testing.T) {
	var gotQuery url.Values
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode([]recordDTO{{Name: "大六天", NameNorm: "大六天", Lat: 1, Lng: 2}})
	})

	records, err := c.PartialLookup(context.Background(), "大六天", 20)
	if err != nil {
		t.Fatalf("PartialLookup: %v", err)
	}
	if want := "ilike.*大六天*"; gotQuery.Get("name_norm") != want {
		t.Errorf("name_norm = %q, want %q", gotQuery.Get("name_norm"), want)
	}
	if gotQuery.Get("limit") != "20" {
		t.Errorf("limit = %q", gotQuery.Get("limit"))
	}
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
}

func TestPartialLookup_EmptyNeedle(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	if records, err := c.PartialLookup(context.Background(), "", 20); err != nil || records != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", records, err)
	}
	if called {
		t.Error("empty needle must not hit the network")
	}
}

func TestUpsert(t *testing.T) {
	var gotPrefer, gotAuth string
	var gotBody []recordDTO
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Upsert(context.Background(), []domain.Record{
		{Name: "大六天", NameNorm: "大六天", Lat: 35.81, Lng: 139.67, City: "戸田市"},
		{Name: "下前", NameNorm: "下前", Lat: 35.80, Lng: 139.66},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if gotPrefer != "resolution=merge-duplicates" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotBody) != 2 {
		t.Fatalf("body rows = %d", len(gotBody))
	}
	if gotBody[0].City == nil || *gotBody[0].City != "戸田市" {
		t.Errorf("first city = %v", gotBody[0].City)
	}
	if gotBody[1].City != nil {
		t.Errorf("unknown city must serialize as null, got %v", *gotBody[1].City)
	}
}

func TestUpsert_ErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate key", http.StatusConflict)
	})

	err := c.Upsert(context.Background(), []domain.Record{{Name: "x", NameNorm: "x"}})
	if err == nil {
		t.Fatal("expected error on 409")
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{ServiceKey: "k"}, zap.NewNop()); err == nil {
		t.Error("missing base url must fail")
	}
	if _, err := NewClient(Config{BaseURL: "http://x"}, zap.NewNop()); err == nil {
		t.Error("missing service key must fail")
	}
}
