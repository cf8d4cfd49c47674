package indexer

import (
	"context"

	"github.com/komanai/kosaten/internal/domain"
)

// CacheWriter persists resolved place records.
type CacheWriter interface {
	Upsert(ctx context.Context, records []domain.Record) error
}

// Geocoder resolves a city name to its center.
type Geocoder interface {
	Center(ctx context.Context, query string) (*domain.Coordinate, error)
}

// FeatureSource lists named features around a point.
type FeatureSource interface {
	NamedFeatures(ctx context.Context, center domain.Coordinate, radiusMeters int) ([]domain.Feature, error)
}
