package engine

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/StrathCole/oracle-engine/pkg/logging"
)

const DefaultCycleInterval = 15 * time.Second

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs a recurring cycle per pair. Each pair has its own cron
// entry, so a slow pair never delays another. A tick that fires while the
// pair's previous cycle is still running is skipped.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	cron     *cron.Cron
	chain    cron.Chain
	logger   *logging.Logger
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler firing every interval, rounded to whole
// seconds with a one second minimum.
func NewScheduler(engine *Engine, interval time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	chain := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))
	return &Scheduler{
		engine:   engine,
		interval: interval,
		cron:     cron.New(cron.WithLogger(cl)),
		chain:    chain,
		logger:   logger,
	}
}

// Start schedules every registered pair and runs a first cycle for each
// immediately. Cycles receive a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, key := range s.engine.Pairs() {
		job := s.chain.Then(cron.FuncJob(s.cycle(ctx, key)))
		s.cron.Schedule(cron.Every(s.interval), job)
		go job.Run()
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "pairs", len(s.engine.Pairs()), "interval", s.interval.String())
}

func (s *Scheduler) cycle(ctx context.Context, key string) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.engine.RunCycle(ctx, key); err != nil && !errors.Is(err, ErrCycleInProgress) {
			s.logger.Warn("cycle failed", "pair", key, "error", err)
		}
	}
}

// Stop stops scheduling and cancels running cycles. The returned context is
// done once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	if s.cancel != nil {
		s.cancel()
	}
	return s.cron.Stop()
}
