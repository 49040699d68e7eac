// Package simple contains the permissive outbound policy used when per-host
// throttling is disabled.
package simple

import (
	"context"
	"fmt"
)

// Policy never throttles. It only honours cancellation.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns immediately unless ctx is already done.
func (Policy) Wait(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("policy wait: %w", err)
	}
	return nil
}
