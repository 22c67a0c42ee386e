// Package scheduler drives periodic evaluation and queue processing passes
// through a cron trigger, with mutual exclusion against manual runs and a
// cooldown after sustained failures.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sybethiesant/flexerr/internal/engine"
	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/queue"
)

// PassKey is the registry key shared by every pass that touches queue rows
const PassKey = "evaluation"

// Config holds scheduler tuning
type Config struct {
	CronSpec string

	// ErrorThreshold is the consecutive-failure count that triggers the
	// cooldown window
	ErrorThreshold int
	Cooldown       time.Duration
}

// PassResult is the combined outcome of one full pass
type PassResult struct {
	StaleCleaned int             `json:"stale_cleaned"`
	Summary      *engine.Summary `json:"summary"`
	Queue        *queue.Result   `json:"queue"`
}

// Scheduler owns the periodic driver. All passes, scheduled or manual, run
// through Run so the registry and cooldown apply uniformly.
type Scheduler struct {
	engine    *engine.Engine
	processor *queue.Processor
	registry  *RunRegistry
	cron      *cron.Cron
	logger    *logger.Logger

	threshold int
	cooldown  time.Duration

	mu            sync.Mutex
	streak        int
	cooldownUntil time.Time
}

// New creates a scheduler
func New(cfg Config, eng *engine.Engine, processor *queue.Processor, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}

	return &Scheduler{
		engine:    eng,
		processor: processor,
		registry:  NewRunRegistry(),
		cron:      cron.New(),
		logger:    log,
		threshold: cfg.ErrorThreshold,
		cooldown:  cfg.Cooldown,
	}
}

// Registry exposes the run registry for status reporting
func (s *Scheduler) Registry() *RunRegistry {
	return s.registry
}

// Start registers the cron trigger and begins scheduling
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return errors.ConfigError("invalid cron expression", err)
	}
	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"cron": spec,
	}).Info("scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running pass to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	if s.coolingDown() {
		s.logger.Warn("skipping scheduled pass during error cooldown")
		return
	}

	result, err := s.Run(context.Background(), false)
	if err != nil {
		if errors.IsConflict(err) {
			s.logger.Warn("skipping scheduled pass, another pass is in flight")
			return
		}
		s.recordFailure(err)
		return
	}

	s.recordSuccess()
	s.logger.WithFields(map[string]interface{}{
		"matches":       result.Summary.TotalMatches,
		"queue_inserts": result.Summary.QueueInserts,
		"processed":     result.Queue.Processed,
		"stale_cleaned": result.StaleCleaned,
	}).Info("scheduled pass finished")
}

// Run executes one full pass: stale cleanup, rule evaluation, then queue
// processing. Returns a conflict error when another pass holds the registry.
func (s *Scheduler) Run(ctx context.Context, dryRun bool) (*PassResult, error) {
	if !s.registry.TryBegin(PassKey) {
		return nil, errors.ConflictError("an evaluation pass is already running")
	}
	defer s.registry.End(PassKey)

	result := &PassResult{}

	cleaned, err := s.processor.CleanupStale(ctx)
	if err != nil {
		// Cleanup failure degrades the pass, it does not abort it
		s.logger.Error("stale queue cleanup failed", err)
	}
	result.StaleCleaned = cleaned

	result.Summary = s.engine.RunAllRules(ctx, dryRun)

	if dryRun {
		result.Queue = &queue.Result{}
		return result, nil
	}

	queueResult, err := s.processor.Process(ctx)
	if err != nil {
		return nil, err
	}
	result.Queue = queueResult
	return result, nil
}

func (s *Scheduler) coolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.cooldownUntil)
}

func (s *Scheduler) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streak++
	s.logger.Error("scheduled pass failed", err)
	if s.streak >= s.threshold {
		s.cooldownUntil = time.Now().Add(s.cooldown)
		s.streak = 0
		s.logger.WithFields(map[string]interface{}{
			"until": s.cooldownUntil.Format(time.RFC3339),
		}).Warn("error threshold reached, backing off")
	}
}

func (s *Scheduler) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streak = 0
}
