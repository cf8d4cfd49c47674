// Package indexer bulk-loads the place cache for a whole city: every
// named road, signal and junction feature around the city center gets
// a cache row, so later searches in that city resolve without live
// queries.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/domain"
	"github.com/komanai/kosaten/internal/domain/name"
)

const defaultRadius = 5000

// Service indexes all named features of an area into the cache.
type Service struct {
	cache    CacheWriter
	geocoder Geocoder
	features FeatureSource
	logger   *zap.Logger
	radius   int
}

// New creates an indexer service with the default area radius.
func New(cache CacheWriter, geocoder Geocoder, features FeatureSource, logger *zap.Logger) *Service {
	return &Service{
		cache:    cache,
		geocoder: geocoder,
		features: features,
		logger:   logger,
		radius:   defaultRadius,
	}
}

// WithRadius overrides the indexing radius in meters.
func (s *Service) WithRadius(m int) *Service {
	if m > 0 {
		s.radius = m
	}
	return s
}

// IndexArea geocodes city, collects every named feature around its
// center and upserts them with the city attached. Returns the number
// of rows written.
func (s *Service) IndexArea(ctx context.Context, city string) (int, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return 0, domain.ErrEmptyCity
	}

	start := time.Now()

	center, err := s.geocoder.Center(ctx, city)
	if err != nil {
		return 0, fmt.Errorf("%w: geocode %q: %v", domain.ErrUpstream, city, err)
	}
	if center == nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrCityNotFound, city)
	}

	feats, err := s.features.NamedFeatures(ctx, *center, s.radius)
	if err != nil {
		return 0, fmt.Errorf("%w: feature query for %q: %v", domain.ErrUpstream, city, err)
	}
	if len(feats) == 0 {
		return 0, nil
	}

	records := make([]domain.Record, 0, len(feats))
	for _, f := range feats {
		records = append(records, domain.Record{
			Name:     f.Name,
			NameNorm: name.Normalize(f.Name),
			Lat:      f.Lat,
			Lng:      f.Lng,
			City:     city,
		})
	}

	if err := s.cache.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("%w: upsert for %q: %v", domain.ErrUpstream, city, err)
	}

	s.logger.Info("area indexed",
		zap.String("city", city),
		zap.Int("records", len(records)),
		zap.Duration("took", time.Since(start)))
	return len(records), nil
}
