package harnessports

import "context"

// RateLimiter bounds request throughput per key (the session id).
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
