package ctxutil

import "context"

// Default returns ctx, or context.Background when ctx is nil, so vendor
// clients can pass whatever they were handed straight into http requests.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
