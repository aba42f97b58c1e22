// Package tenant carries the ambient tenant id through a request context.
// The event factory uses it as the third rung of its tenant resolution chain,
// after the originating entity and the preceding event.
package tenant

import "context"

type ctxKey struct{}

// WithTenant returns a context carrying the given tenant id.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ambient tenant id, or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
