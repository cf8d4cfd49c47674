// Package centercache memoizes geocoded city centers in a key-value
// store so repeated searches for the same locality skip the upstream
// geocoder.
package centercache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/komanai/kosaten/internal/db"
	"github.com/komanai/kosaten/internal/domain"
	"github.com/komanai/kosaten/internal/metrics"
)

const (
	keyPrefix  = "kosaten:center:"
	defaultTTL = 7 * 24 * time.Hour
)

// Geocoder resolves free-text queries to coordinates.
type Geocoder interface {
	Center(ctx context.Context, query string) (*domain.Coordinate, error)
	ReverseCity(ctx context.Context, lat, lng float64) (string, error)
}

// store is the subset of db.Store the cache needs.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedGeocoder wraps a Geocoder with read-through caching of Center
// lookups. Store failures are logged and ignored so a broken cache
// never breaks geocoding.
type CachedGeocoder struct {
	inner  Geocoder
	store  store
	logger *zap.Logger
	ttl    time.Duration
}

// NewCachedGeocoder creates a caching decorator around inner.
func NewCachedGeocoder(inner Geocoder, st store, logger *zap.Logger) *CachedGeocoder {
	return &CachedGeocoder{
		inner:  inner,
		store:  st,
		logger: logger,
		ttl:    defaultTTL,
	}
}

// WithTTL overrides the cache entry lifetime.
func (c *CachedGeocoder) WithTTL(ttl time.Duration) *CachedGeocoder {
	c.ttl = ttl
	return c
}

// Center returns the cached center for query, falling back to the
// inner geocoder on a miss. Only successful resolutions are cached.
func (c *CachedGeocoder) Center(ctx context.Context, query string) (*domain.Coordinate, error) {
	key := cacheKey(query)

	if data, err := c.store.Get(ctx, key); err == nil {
		var coord domain.Coordinate
		if err := json.Unmarshal(data, &coord); err == nil {
			metrics.CenterCacheTotal.WithLabelValues("hit").Inc()
			return &coord, nil
		}
		c.logger.Warn("corrupt center cache entry", zap.String("key", key))
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		c.logger.Warn("center cache read failed", zap.Error(err))
	}
	metrics.CenterCacheTotal.WithLabelValues("miss").Inc()

	coord, err := c.inner.Center(ctx, query)
	if err != nil || coord == nil {
		return coord, err
	}

	if data, err := json.Marshal(coord); err == nil {
		if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn("center cache write failed", zap.Error(err))
		}
	}
	return coord, nil
}

// ReverseCity delegates to the inner geocoder.
func (c *CachedGeocoder) ReverseCity(ctx context.Context, lat, lng float64) (string, error) {
	return c.inner.ReverseCity(ctx, lat, lng)
}

func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%s%s", keyPrefix, hex.EncodeToString(sum[:]))
}
