// Package search resolves free-text place and intersection queries
// through a tiered pipeline: persistent cache first, live map data as
// fallback.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/domain"
	"github.com/komanai/kosaten/internal/domain/geo"
	"github.com/komanai/kosaten/internal/domain/name"
	"github.com/komanai/kosaten/internal/metrics"
)

const (
	defaultNearExactRadius   = 6000
	defaultNearPartialRadius = 4000
	defaultPartialLimit      = 20
	defaultEnrichLimit       = 8
	defaultBackfillTimeout   = 10 * time.Second
)

// Service orchestrates the tiered search pipeline.
type Service struct {
	cache    CacheGateway
	geocoder Geocoder
	features FeatureSource
	logger   *zap.Logger

	nearExactRadius   int
	nearPartialRadius int
	partialLimit      int
	enrichLimit       int
	backfillTimeout   time.Duration
}

// New creates a search service with default radii and limits.
func New(cache CacheGateway, geocoder Geocoder, features FeatureSource, logger *zap.Logger) *Service {
	return &Service{
		cache:             cache,
		geocoder:          geocoder,
		features:          features,
		logger:            logger,
		nearExactRadius:   defaultNearExactRadius,
		nearPartialRadius: defaultNearPartialRadius,
		partialLimit:      defaultPartialLimit,
		enrichLimit:       defaultEnrichLimit,
		backfillTimeout:   defaultBackfillTimeout,
	}
}

// WithNearExactRadius overrides the near exact-match radius in meters.
func (s *Service) WithNearExactRadius(m int) *Service {
	if m > 0 {
		s.nearExactRadius = m
	}
	return s
}

// WithNearPartialRadius overrides the near substring-match radius in meters.
func (s *Service) WithNearPartialRadius(m int) *Service {
	if m > 0 {
		s.nearPartialRadius = m
	}
	return s
}

// WithPartialLimit overrides the cache substring-match result cap.
func (s *Service) WithPartialLimit(n int) *Service {
	if n > 0 {
		s.partialLimit = n
	}
	return s
}

// WithEnrichLimit overrides how many live results get a reverse-geocoded city.
func (s *Service) WithEnrichLimit(n int) *Service {
	if n > 0 {
		s.enrichLimit = n
	}
	return s
}

// WithBackfillTimeout overrides the deadline for asynchronous cache writes.
func (s *Service) WithBackfillTimeout(d time.Duration) *Service {
	if d > 0 {
		s.backfillTimeout = d
	}
	return s
}

// Search resolves raw to a ranked candidate list. The pipeline stops at
// the first tier that yields results. Upstream failures degrade the
// tier to empty, so Search never fails: the worst case is an empty
// slice.
func (s *Service) Search(ctx context.Context, raw string, viewer *domain.Coordinate) []domain.Candidate {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	cityHint := name.CityHint(raw)
	bare := name.StripCityHint(raw, cityHint)
	variants := name.Variants(bare)
	base := name.Normalize(bare)

	if len(variants) == 0 {
		// Nothing searchable remains, e.g. a city name on its own.
		return nil
	}

	if cands := s.cacheExact(ctx, variants); len(cands) > 0 {
		metrics.SearchTierHits.WithLabelValues("cache_exact").Inc()
		return s.rank(cands, viewer, cityHint)
	}

	if cands := s.cachePartial(ctx, base); len(cands) > 0 {
		metrics.SearchTierHits.WithLabelValues("cache_partial").Inc()
		return s.rank(cands, viewer, cityHint)
	}

	center := s.resolveCenter(ctx, viewer, cityHint, bare, raw)

	if center != nil {
		if cands := s.liveExact(ctx, center, variants); len(cands) > 0 {
			metrics.SearchTierHits.WithLabelValues("live_near").Inc()
			return s.rank(cands, viewer, cityHint)
		}
	}

	if cands := s.liveExact(ctx, nil, variants); len(cands) > 0 {
		metrics.SearchTierHits.WithLabelValues("live_nationwide").Inc()
		return s.rank(cands, viewer, cityHint)
	}

	if center != nil {
		if cands := s.livePartial(ctx, center, base); len(cands) > 0 {
			metrics.SearchTierHits.WithLabelValues("live_partial").Inc()
			return s.rank(cands, viewer, cityHint)
		}
	}

	metrics.SearchTierHits.WithLabelValues("none").Inc()
	return nil
}

func (s *Service) cacheExact(ctx context.Context, variants []string) []domain.Candidate {
	records, err := s.cache.ExactLookup(ctx, variants)
	if err != nil {
		s.logger.Warn("cache exact lookup failed", zap.Error(err))
		return nil
	}
	return dedupe(recordCandidates(records, domain.SourceExact))
}

func (s *Service) cachePartial(ctx context.Context, base string) []domain.Candidate {
	records, err := s.cache.PartialLookup(ctx, base, s.partialLimit)
	if err != nil {
		s.logger.Warn("cache partial lookup failed", zap.Error(err))
		return nil
	}
	return dedupe(recordCandidates(records, domain.SourcePartial))
}

// resolveCenter picks the search center: the viewer position when
// known, then geocoded fallbacks from most to least specific.
func (s *Service) resolveCenter(ctx context.Context, viewer *domain.Coordinate, cityHint, bare, raw string) *domain.Coordinate {
	if viewer != nil {
		return viewer
	}
	for _, q := range []string{cityHint, bare, raw} {
		if q == "" {
			continue
		}
		coord, err := s.geocoder.Center(ctx, q)
		if err != nil {
			s.logger.Warn("center lookup failed", zap.String("query", q), zap.Error(err))
			continue
		}
		if coord != nil {
			return coord
		}
	}
	return nil
}

func (s *Service) liveExact(ctx context.Context, center *domain.Coordinate, variants []string) []domain.Candidate {
	feats, err := s.features.NearExact(ctx, center, variants, s.nearExactRadius)
	if err != nil {
		s.logger.Warn("live exact query failed", zap.Error(err))
		return nil
	}
	return s.finishLive(ctx, feats)
}

func (s *Service) livePartial(ctx context.Context, center *domain.Coordinate, base string) []domain.Candidate {
	feats, err := s.features.NearPartial(ctx, center, base, s.nearPartialRadius)
	if err != nil {
		s.logger.Warn("live partial query failed", zap.Error(err))
		return nil
	}
	cands := s.finishLive(ctx, feats)
	if len(cands) > s.partialLimit {
		cands = cands[:s.partialLimit]
	}
	return cands
}

// finishLive turns raw features into candidates: dedupe, attach cities
// to the first few, and write the batch back to the cache without
// blocking the response.
func (s *Service) finishLive(ctx context.Context, feats []domain.Feature) []domain.Candidate {
	if len(feats) == 0 {
		return nil
	}

	cands := make([]domain.Candidate, 0, len(feats))
	for _, f := range feats {
		cands = append(cands, domain.Candidate{
			Name:   f.Name,
			Lat:    f.Lat,
			Lng:    f.Lng,
			Source: domain.SourceLive,
		})
	}
	cands = dedupe(cands)

	for i := range cands {
		if i >= s.enrichLimit {
			break
		}
		city, err := s.geocoder.ReverseCity(ctx, cands[i].Lat, cands[i].Lng)
		if err != nil {
			s.logger.Warn("reverse geocode failed", zap.Error(err))
			continue
		}
		cands[i].City = city
	}

	s.backfill(cands)
	return cands
}

// backfill persists live results so the next identical query hits the
// cache. Runs detached from the request: a slow or broken cache must
// not delay the response, and failures are only logged.
func (s *Service) backfill(cands []domain.Candidate) {
	records := make([]domain.Record, 0, len(cands))
	for _, c := range cands {
		records = append(records, domain.Record{
			Name:     c.Name,
			NameNorm: name.Normalize(c.Name),
			Lat:      c.Lat,
			Lng:      c.Lng,
			City:     c.City,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.backfillTimeout)
		defer cancel()
		if err := s.cache.Upsert(ctx, records); err != nil {
			s.logger.Warn("cache backfill failed", zap.Int("records", len(records)), zap.Error(err))
		}
	}()
}

// rank orders candidates for display: by distance to the viewer when
// one is known, otherwise hinted-city matches first. Sorting is stable
// so upstream order breaks ties.
func (s *Service) rank(cands []domain.Candidate, viewer *domain.Coordinate, cityHint string) []domain.Candidate {
	switch {
	case viewer != nil:
		sort.SliceStable(cands, func(i, j int) bool {
			di := geo.DegreeDistance(cands[i].Lat, cands[i].Lng, viewer.Lat, viewer.Lng)
			dj := geo.DegreeDistance(cands[j].Lat, cands[j].Lng, viewer.Lat, viewer.Lng)
			return di < dj
		})
	case cityHint != "":
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].City == cityHint && cands[j].City != cityHint
		})
	}
	return cands
}

func recordCandidates(records []domain.Record, source domain.Source) []domain.Candidate {
	cands := make([]domain.Candidate, 0, len(records))
	for _, r := range records {
		c := domain.Candidate{
			Name:   r.Name,
			Lat:    r.Lat,
			Lng:    r.Lng,
			City:   r.City,
			Source: source,
		}
		if c.Valid() {
			cands = append(cands, c)
		}
	}
	return cands
}

func dedupe(cands []domain.Candidate) []domain.Candidate {
	seen := make(map[string]struct{}, len(cands))
	out := cands[:0]
	for _, c := range cands {
		key := domain.DedupKey(c.Name, c.Lat, c.Lng)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
