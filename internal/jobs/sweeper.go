// Package jobs runs periodic maintenance outside the request path.
//
// The Sweeper deletes expired temp signups (and, with the built-in identity
// provider, expired magic links) once per interval:
//
//	Start() ──► ticker ──► RunOnce ──► task 1 ──► task 2 ...
//	Stop()  ──► close(done) ──► wait for the loop to return
//
// OVERLAP GUARD:
// A run that outlasts the interval must not be joined by the next tick.
// Inside one process an atomic.Bool says "a run is in flight". Across
// several instances an optional Locker (RedisLock) elects one runner.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSweepInProgress is returned by RunOnce when another run holds the guard.
var ErrSweepInProgress = errors.New("jobs: sweep already in progress")

// Task is one unit of cleanup. Run returns how many rows it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Options configures a Sweeper.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	// Lock is optional; nil means single-instance deployment.
	Lock    Locker
	Metrics *Metrics
	Logger  *slog.Logger
}

type Sweeper struct {
	tasks    []Task
	interval time.Duration
	timeout  time.Duration
	lock     Locker
	metrics  *Metrics
	logger   *slog.Logger

	running   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

const (
	defaultInterval = time.Hour
	defaultTimeout  = 30 * time.Second
	lockKey         = "codeguides:sweep"
)

func NewSweeper(opts Options, tasks ...Task) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{
		tasks:    tasks,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		lock:     opts.Lock,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With(slog.String("component", "sweeper")),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker loop in the background. Calling it twice is a no-op.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting sweeper",
			slog.Duration("interval", s.interval),
			slog.Int("tasks", len(s.tasks)),
		)
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sweeper")
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-s.done:
					cancel()
				case <-ctx.Done():
				}
			}()
			// Failures are logged inside RunOnce; the next tick simply tries again.
			_ = s.RunOnce(ctx)
			cancel()
		}
	}
}

// RunOnce runs every task once, each under its own timeout.
// Task failures are logged and joined into the returned error; one failing
// task does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous sweep still running, skipping")
		s.metrics.skipped()
		return ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, lockKey, s.interval)
		if err != nil {
			s.logger.Error("acquiring sweep lock failed", slog.String("error", err.Error()))
			return err
		}
		if !ok {
			s.logger.Info("another instance holds the sweep lock, skipping")
			s.metrics.skipped()
			return nil
		}
		defer release()
	}

	var errs []error
	for _, t := range s.tasks {
		if err := s.runTask(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sweeper) runTask(ctx context.Context, t Task) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := t.Run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Error("sweep task failed",
			slog.String("task", t.Name),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		s.metrics.observe(t.Name, 0, err)
		return err
	}

	s.logger.Info("sweep task finished",
		slog.String("task", t.Name),
		slog.Int64("removed", n),
		slog.Duration("duration", elapsed),
	)
	s.metrics.observe(t.Name, n, nil)
	return nil
}
