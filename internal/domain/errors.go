package domain

import "errors"

var (
	// ErrEmptyCity signals an area-index request without a city name.
	ErrEmptyCity = errors.New("city is required")
	// ErrCityNotFound signals that a city could not be resolved to a center.
	ErrCityNotFound = errors.New("city not found")
	// ErrUpstream signals a failure in an external data source.
	ErrUpstream = errors.New("upstream error")
)
