package agerun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/pupscan/pupscan-backend/internal/jobs/ageprogression"
)

type Activities struct {
	Deps ageprogression.Deps
}

// Run executes the age-progression job as a Temporal activity, heartbeating
// while the render is in flight.
func (a *Activities) Run(ctx context.Context, scanID string) error {
	parsed, err := uuid.Parse(strings.TrimSpace(scanID))
	if err != nil || parsed == uuid.Nil {
		return fmt.Errorf("agerun: invalid scan id %q", scanID)
	}

	stop := a.startHeartbeat(ctx)
	defer stop()

	return ageprogression.Run(ctx, a.Deps, parsed)
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
