// Package janitor runs periodic housekeeping against the relay store.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/internal/metrics"
)

// Pruner deletes invites that have been dead for longer than retention.
type Pruner interface {
	PruneInvites(ctx context.Context, retention time.Duration) (int64, error)
}

// Janitor prunes dead invites on a cron schedule.
type Janitor struct {
	pruner    Pruner
	retention time.Duration
	cron      *cron.Cron
	log       *logrus.Entry
}

// New parses schedule (five-field cron or a descriptor such as @hourly) and
// registers the prune job. The job does not run until Start.
func New(pruner Pruner, schedule string, retention time.Duration) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	j := &Janitor{
		pruner:    pruner,
		retention: retention,
		cron:      cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		log:       logrus.WithField("component", "janitor"),
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.log.WithError(err).Warn("Invite prune failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce prunes immediately and reports how many invites were deleted.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.pruner.PruneInvites(ctx, j.retention)
	if err != nil {
		return 0, err
	}
	metrics.InvitesPruned.Add(float64(n))
	j.log.WithField("deleted", n).Info("Pruned dead invites")
	return n, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits up to timeout for a running prune.
// It returns false when the timeout was reached.
func (j *Janitor) Stop(timeout time.Duration) bool {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}
