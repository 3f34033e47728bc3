package activity

import (
	"context"

	"go.temporal.io/sdk/temporal"
)

// SweepAllCommunities runs one full reconciliation pass over every tracked
// community.
func (c *Context) SweepAllCommunities(ctx context.Context) error {
	if err := c.Reconciler.SweepAll(ctx); err != nil {
		return temporal.NewApplicationErrorWithCause("sweep failed", "sweep_error", err)
	}
	return nil
}
