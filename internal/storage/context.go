package storage

import (
	"context"
	"time"
)

// DefaultDBTimeout is the default timeout for database operations
const DefaultDBTimeout = 3 * time.Second

// withTimeout wraps a context with a default timeout if it doesn't already have a deadline
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
