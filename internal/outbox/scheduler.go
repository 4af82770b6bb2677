package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type purger interface {
	PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error)
}

// Scheduler runs outbox housekeeping on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	events    purger
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduler(events purger, retention time.Duration, logger *zap.Logger) *Scheduler {
	cronLogger := cron.VerbosePrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger))),
		events:    events,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Purge(ctx); err != nil {
			s.logger.Error("outbox purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("Scheduler.Start: schedule %q: %w", spec, err)
	}

	s.cron.Start()
	s.logger.Info("outbox scheduler started", zap.String("purge_schedule", spec))
	return nil
}

// Stop waits for a running purge to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("outbox scheduler stopped")
}

// Purge deletes dispatched events older than the retention period.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.events.PurgeDispatched(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("Purge: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged dispatched settlement events",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}
