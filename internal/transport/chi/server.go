package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/domain"
	"github.com/komanai/kosaten/internal/domain/geo"
	healthuc "github.com/komanai/kosaten/internal/usecase/health"
	indexeruc "github.com/komanai/kosaten/internal/usecase/indexer"
	searchuc "github.com/komanai/kosaten/internal/usecase/search"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the search and indexing API over HTTP.
type Server struct {
	search        *searchuc.Service
	indexer       *indexeruc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	search *searchuc.Service,
	indexer *indexeruc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:  search,
		indexer: indexer,
		health:  health,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrEmptyCity, http.StatusBadRequest, "empty_city"),
		sentinelHandler(domain.ErrCityNotFound, http.StatusNotFound, "city_not_found"),
		sentinelHandler(domain.ErrUpstream, http.StatusBadGateway, "upstream_error"),
	}
	return s
}

// Routes registers all handlers on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/v1/search", s.Search)
	r.Post("/v1/index-area", s.IndexArea)
	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// candidateJSON is the wire shape of one search result. City is null
// when the administrative city is unknown.
type candidateJSON struct {
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	City   *string `json:"city"`
	Source string  `json:"source"`
}

type searchResponse struct {
	Items []candidateJSON `json:"items"`
}

// Search handles GET /v1/search?q=...&lat=...&lng=...
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	viewer, err := viewerFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	candidates := s.search.Search(r.Context(), q, viewer)

	items := make([]candidateJSON, 0, len(candidates))
	for _, c := range candidates {
		item := candidateJSON{
			Name:   c.Name,
			Lat:    c.Lat,
			Lng:    c.Lng,
			Source: string(c.Source),
		}
		if c.City != "" {
			city := c.City
			item.City = &city
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, searchResponse{Items: items})
}

// viewerFromQuery parses the optional viewer position. Both lat and lng
// must be present and in range for a viewer to count.
func viewerFromQuery(r *http.Request) (*domain.Coordinate, error) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	if latStr == "" && lngStr == "" {
		return nil, nil
	}
	if latStr == "" || lngStr == "" {
		return nil, errors.New("lat and lng must be provided together")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, errors.New("lat must be a number")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil, errors.New("lng must be a number")
	}
	if !geo.Valid(lat, lng) {
		return nil, errors.New("lat/lng out of range")
	}
	return &domain.Coordinate{Lat: lat, Lng: lng}, nil
}

type indexAreaRequest struct {
	City string `json:"city"`
}

type indexAreaResponse struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
}

// IndexArea handles POST /v1/index-area.
func (s *Server) IndexArea(w http.ResponseWriter, r *http.Request) {
	var req indexAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	count, err := s.indexer.IndexArea(r.Context(), req.City)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, indexAreaResponse{OK: true, Count: count})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for name, result := range report.Checks {
		checks[name] = string(result)
	}

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: string(report.Status), Checks: checks})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrEmptyCity,
		domain.ErrCityNotFound,
		domain.ErrUpstream,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
