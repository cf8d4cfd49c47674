package search

import (
	"context"

	"github.com/komanai/kosaten/internal/domain"
)

// CacheGateway reads and writes the persistent place-name cache.
type CacheGateway interface {
	ExactLookup(ctx context.Context, variants []string) ([]domain.Record, error)
	PartialLookup(ctx context.Context, needle string, limit int) ([]domain.Record, error)
	Upsert(ctx context.Context, records []domain.Record) error
}

// Geocoder resolves free text to a center and points to cities.
type Geocoder interface {
	Center(ctx context.Context, query string) (*domain.Coordinate, error)
	ReverseCity(ctx context.Context, lat, lng float64) (string, error)
}

// FeatureSource queries live map data for named features.
type FeatureSource interface {
	NearExact(ctx context.Context, center *domain.Coordinate, variants []string, radiusMeters int) ([]domain.Feature, error)
	NearPartial(ctx context.Context, center *domain.Coordinate, needle string, radiusMeters int) ([]domain.Feature, error)
}
