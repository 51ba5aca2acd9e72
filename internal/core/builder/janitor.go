package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultJanitorSchedule = "@every 1m"

	sweepTimeout = 30 * time.Second
)

// Janitor fails builds left in building with no monitor, e.g. after a restart.
type Janitor struct {
	builder *Builder
	store   StatusStore
	maxAge  time.Duration
	cron    *cron.Cron
	lg      zerolog.Logger
	now     func() time.Time
}

// NewJanitor schedules Sweep. A build is stale once it has been building
// for longer than the builder's timeout plus a minute.
func NewJanitor(b *Builder, store StatusStore, schedule string, lg zerolog.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	j := &Janitor{
		builder: b,
		store:   store,
		maxAge:  b.opts.Timeout + time.Minute,
		cron:    cron.New(),
		lg:      lg.With().Str("component", "build-janitor").Logger(),
		now:     time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := j.Sweep(ctx); err != nil {
		j.lg.Error().Err(err).Msg("janitor sweep failed")
	}
}

// Sweep marks stale unmonitored builds failed and returns their ids.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	cutoff := j.now().Add(-j.maxAge)
	ids, err := j.store.ListStaleBuilding(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale builds: %w", err)
	}
	var failed []string
	for _, id := range ids {
		if j.builder.Monitoring(id) {
			continue
		}
		// a build may have finished or restarted since the listing
		ok, err := j.store.FailStaleBuild(ctx, id, ReasonInterrupted, cutoff)
		if err != nil {
			j.lg.Error().Err(err).Str("function_id", id).Msg("failed to fail stale build")
			continue
		}
		if !ok {
			continue
		}
		j.lg.Warn().Str("function_id", id).Msg("stale build marked failed")
		failed = append(failed, id)
	}
	return failed, nil
}
