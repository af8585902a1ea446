package scheduler

import (
	"context"
	"fmt"
	"time"

	"horoscope_dispatcher/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TickRunner is the Dispatch Core entry point.
type TickRunner interface {
	RunTick(ctx context.Context) (app.TickReport, error)
}

type DispatchScheduler struct {
	cronEngine *cron.Cron
	runner     TickRunner
	logger     *logrus.Entry
	tickSpec   string
}

func NewDispatchScheduler(runner TickRunner, logger *logrus.Entry, tickSpec string) *DispatchScheduler {
	return &DispatchScheduler{
		// Ticks are evaluated against each subscriber's own zone, so the
		// engine itself runs in UTC. An overrunning tick is skipped rather
		// than stacked.
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger)), cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		runner:   runner,
		logger:   logger,
		tickSpec: tickSpec,
	}
}

func (s *DispatchScheduler) Start() error {
	s.logger.Info("Starting dispatch scheduler...")

	if _, err := s.cronEngine.AddFunc(s.tickSpec, s.runTick); err != nil {
		return fmt.Errorf("could not add dispatch tick cron job %q: %w", s.tickSpec, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("spec", s.tickSpec).Info("Dispatch scheduler started")
	return nil
}

func (s *DispatchScheduler) runTick() {
	s.logger.Info("Cron job triggered for dispatch tick")
	report, err := s.runner.RunTick(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("Dispatch tick failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"tick_id": report.TickID,
		"sent":    report.Sent,
		"failed":  report.Failed,
	}).Debug("Dispatch tick returned")
}

func (s *DispatchScheduler) Stop() {
	s.logger.Info("Stopping dispatch scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Dispatch scheduler gracefully stopped")
}
