package ageprogression

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

// LocalDispatcher runs jobs on in-process goroutines. It is the fallback
// when Temporal is disabled: same job, same wall-clock limit, no queue-level
// retries and no persistence across restarts.
type LocalDispatcher struct {
	log       *logger.Logger
	deps      Deps
	wallClock time.Duration
}

func NewLocalDispatcher(log *logger.Logger, deps Deps, wallClock time.Duration) *LocalDispatcher {
	if wallClock <= 0 {
		wallClock = 10 * time.Minute
	}
	return &LocalDispatcher{
		log:       log.With("service", "LocalDispatcher"),
		deps:      deps,
		wallClock: wallClock,
	}
}

func (d *LocalDispatcher) DispatchAgeProgression(_ context.Context, scanID uuid.UUID) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.wallClock)
		defer cancel()
		if err := Run(ctx, d.deps, scanID); err != nil {
			d.log.Error("age progression job failed", "scan_id", scanID.String(), "error", err)
		}
	}()
	return nil
}
