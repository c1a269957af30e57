package service

import (
	"context"
	"fmt"

	"bitwise74/attachment-api/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultReclaimSchedule = "@daily"

type ReclaimReport struct {
	Sessions int
	Failures int
}

// ReclaimScheduler periodically deletes expired upload sessions together
// with everything still staged in them
type ReclaimScheduler struct {
	store    *AttachmentStore
	sessions *SessionRegistry
	cron     *cron.Cron
}

func NewReclaimScheduler(store *AttachmentStore, sessions *SessionRegistry) *ReclaimScheduler {
	logger := cron.PrintfLogger(zap.NewStdLog(zap.L().Named("reclaim")))

	return &ReclaimScheduler{
		store:    store,
		sessions: sessions,
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
	}
}

// Start registers the sweep on the given cron spec and starts the scheduler
func (r *ReclaimScheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultReclaimSchedule
	}

	_, err := r.cron.AddFunc(spec, func() {
		r.Sweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule session reclaim, %w", err)
	}

	zap.L().Debug("Session reclaim attached", zap.String("schedule", spec))

	r.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish
func (r *ReclaimScheduler) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep removes every session expired at the current time. Running it
// again right after is a no-op.
func (r *ReclaimScheduler) Sweep(ctx context.Context) ReclaimReport {
	var report ReclaimReport

	expired, err := r.sessions.Expired(ctx, r.sessions.Now())
	if err != nil {
		zap.L().Error("Failed to query db for sessions to reclaim", zap.Error(err))
		metrics.ReclaimFailures.Inc()
		report.Failures++
		return report
	}

	if len(expired) == 0 {
		return report
	}

	zap.L().Debug("Reclaiming expired upload sessions", zap.Int("count", len(expired)))

	for i := range expired {
		failures, err := r.store.ReclaimSession(ctx, &expired[i])
		report.Failures += failures
		metrics.ReclaimFailures.Add(float64(failures))

		if err != nil {
			zap.L().Error("Failed to reclaim upload session",
				zap.String("session_id", expired[i].ID),
				zap.Error(err))
			continue
		}

		report.Sessions++
		metrics.ReclaimedSessions.Inc()
	}

	zap.L().Info("Upload session reclaim done",
		zap.Int("sessions", report.Sessions),
		zap.Int("failures", report.Failures))

	return report
}
