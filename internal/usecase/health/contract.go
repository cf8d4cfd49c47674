package health

import "context"

// CachePinger checks that the place cache API is reachable.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// StorePinger checks that the key-value store is reachable.
type StorePinger interface {
	Ping(ctx context.Context) error
}
