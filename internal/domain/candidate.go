package domain

import (
	"fmt"
	"math"
	"strings"
)

// Source tells which resolution tier produced a candidate.
type Source string

const (
	// SourceExact marks a cache hit on a full name match.
	SourceExact Source = "exact"
	// SourcePartial marks a cache hit on a substring match.
	SourcePartial Source = "partial"
	// SourceLive marks a result resolved from a live map-data query.
	SourceLive Source = "live"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Candidate is one resolved place for a search query.
// City is empty when the administrative city is unknown.
type Candidate struct {
	Name   string
	Lat    float64
	Lng    float64
	City   string
	Source Source
}

// Valid reports whether the candidate has a usable name and finite coordinates.
func (c Candidate) Valid() bool {
	if strings.TrimSpace(c.Name) == "" {
		return false
	}
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}

// Feature is a named point returned by a live map-feature query.
type Feature struct {
	Name string
	Lat  float64
	Lng  float64
}

// Record is the persisted cache shape for a resolved place.
// NameNorm holds the normalized form used as the match key.
type Record struct {
	Name     string
	NameNorm string
	Lat      float64
	Lng      float64
	City     string
}

// DedupKey builds the identity used to collapse duplicate results:
// the name plus coordinates rounded to six decimals.
func DedupKey(name string, lat, lng float64) string {
	return fmt.Sprintf("%s|%.6f|%.6f", name, lat, lng)
}
