package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// Scheduler runs reconciliation on a cron schedule
type Scheduler struct {
	service  *Service
	logger   *logger.Logger
	cron     *cron.Cron
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	running bool
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	// Schedule is a standard five field cron expression. Default: hourly.
	Schedule string
	// Timeout bounds a single run. Default: 10 minutes.
	Timeout time.Duration
}

// NewScheduler creates a new reconciliation scheduler
func NewScheduler(service *Service, logger *logger.Logger, config SchedulerConfig) *Scheduler {
	if config.Schedule == "" {
		config.Schedule = "0 * * * *"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	return &Scheduler{
		service:  service,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule: config.Schedule,
		timeout:  config.Timeout,
	}
}

// Start registers the job and starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.executeReconciliation("scheduled") }); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("Reconciliation scheduler started", "schedule", s.schedule)
	return nil
}

// Stop waits for a run in progress, then stops the cron loop
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Reconciliation scheduler stopped")
}

func (s *Scheduler) executeReconciliation(runType string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	startTime := time.Now()
	report, err := s.service.RunReconciliation(ctx, runType)
	if err != nil {
		s.logger.Error("Scheduled reconciliation failed",
			"run_type", runType,
			"error", err,
			"duration", time.Since(startTime),
		)
		return
	}
	s.logger.Info("Scheduled reconciliation completed",
		"run_type", runType,
		"report_id", report.ID,
		"drifts", len(report.Drifts),
		"duration", time.Since(startTime),
	)
}

// RunManualReconciliation triggers a manual reconciliation run
func (s *Scheduler) RunManualReconciliation(ctx context.Context) (*Report, error) {
	s.logger.Info("Starting manual reconciliation")
	report, err := s.service.RunReconciliation(ctx, "manual")
	if err != nil {
		s.logger.Error("Manual reconciliation failed", "error", err)
		return nil, err
	}
	return report, nil
}

// LatestReport returns the most recent completed run, or nil
func (s *Scheduler) LatestReport() *Report {
	return s.service.LatestReport()
}
