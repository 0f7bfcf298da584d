package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Refresher re-checks provider health.
type Refresher interface {
	Refresh(ctx context.Context)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Pruner removes completed to-do items older than a cutoff.
type Pruner interface {
	PruneCompleted(ctx context.Context, before time.Time) (int, error)
}

// HealthJob refreshes cached provider health and logs any named dependency
// that is down. It never fails; a down dependency is not a job error.
func HealthJob(refresher Refresher, checks map[string]HealthChecker, logger zerolog.Logger) Job {
	return func(ctx context.Context) error {
		if refresher != nil {
			refresher.Refresh(ctx)
		}
		for name, c := range checks {
			if c == nil {
				continue
			}
			if err := c.Health(ctx); err != nil {
				logger.Warn().Err(err).Str("dependency", name).Msg("Dependency unhealthy")
			}
		}
		return nil
	}
}

// PruneJob deletes completed to-do items finished more than retention ago.
func PruneJob(p Pruner, retention time.Duration, now func() time.Time, logger zerolog.Logger) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("no workspace store")
		}
		n, err := p.PruneCompleted(ctx, now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info().Int("removed", n).Msg("Pruned completed to-do items")
		}
		return nil
	}
}
