package harnessports

import "context"

// Tracer emits request spans and point events. Attributes are flat key/value pairs.
// finish receives the error the span ended with, nil on success.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (ctx2 context.Context, finish func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
