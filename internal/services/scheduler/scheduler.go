// Package scheduler runs each sync job kind on its own loop.
//
// Every kind has an independent goroutine that owns the kind's status and
// cursor metadata. A run executes in a separate goroutine and reports back
// to its loop over a channel; while it is in flight, further triggers for
// the same kind are dropped and counted. Failures back off exponentially per
// kind without affecting the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/retry"
	"github.com/gw2shinies/tpsync/internal/ports/inbound"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

const tracerName = "github.com/gw2shinies/tpsync/internal/services/scheduler"

var (
	_ inbound.StatusReporter = (*Scheduler)(nil)
	_ inbound.HealthChecker  = (*Scheduler)(nil)
)

// ErrAlreadyRunning is returned by RunOnce when a run of the kind is in flight.
var ErrAlreadyRunning = errors.New("job already running")

// Store is the persistence the scheduler needs.
type Store interface {
	outbound.CursorStore
	Ping(ctx context.Context) error
}

// JobConfig holds the cadence of one job kind.
type JobConfig struct {
	// Interval is the delay after a successful run.
	Interval time.Duration

	// BackoffBase is the delay after the first consecutive failure; it
	// doubles with each further failure up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Jitter adds up to a tenth of Interval, and up to half the backoff,
	// to each delay.
	Jitter bool
}

// Config holds configuration for the scheduler.
type Config struct {
	Jobs map[entity.JobKind]JobConfig

	// Metrics is optional.
	Metrics outbound.JobMetrics

	Logger *slog.Logger
	Now    func() time.Time
}

// JobConfigDefaults returns the default cadence for kind.
func JobConfigDefaults(kind entity.JobKind) JobConfig {
	cfg := JobConfig{
		BackoffBase: 30 * time.Second,
		BackoffMax:  30 * time.Minute,
		Jitter:      true,
	}
	switch kind {
	case entity.JobItems:
		cfg.Interval = 24 * time.Hour
	case entity.JobRecipes:
		cfg.Interval = time.Hour
	case entity.JobPrices:
		cfg.Interval = 15 * time.Minute
		cfg.BackoffMax = 10 * time.Minute
	}
	return cfg
}

// loop is the per-kind state. status is written only by the goroutine that
// currently owns the run, guarded by mu for Status readers.
type loop struct {
	job     inbound.SyncJob
	cfg     JobConfig
	trigger chan struct{}

	inFlight atomic.Bool

	mu     sync.Mutex
	status entity.JobStatus
}

// runResult is what a finished run reports to its loop.
type runResult struct {
	stats    entity.RunStats
	err      error
	cursor   *entity.SyncCursor
	started  time.Time
	duration time.Duration
}

// Scheduler drives the sync jobs.
type Scheduler struct {
	config Config
	store  Store
	loops  map[entity.JobKind]*loop
	logger *slog.Logger

	running       atomic.Bool
	itemsComplete atomic.Bool
}

// New creates a scheduler for jobs. Each job kind may appear only once.
func New(config Config, store Store, jobs ...inbound.SyncJob) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	s := &Scheduler{
		config: config,
		store:  store,
		loops:  make(map[entity.JobKind]*loop, len(jobs)),
		logger: config.Logger.With("component", "scheduler"),
	}

	for _, job := range jobs {
		if job == nil {
			return nil, fmt.Errorf("job is nil")
		}
		kind := job.Kind()
		if _, dup := s.loops[kind]; dup {
			return nil, fmt.Errorf("duplicate job kind %q", kind)
		}
		cfg, ok := config.Jobs[kind]
		if !ok {
			cfg = JobConfigDefaults(kind)
		}
		applyDefaults(&cfg, JobConfigDefaults(kind))
		s.loops[kind] = &loop{
			job:     job,
			cfg:     cfg,
			trigger: make(chan struct{}, 1),
			status:  entity.JobStatus{Kind: kind, State: entity.JobIdle},
		}
	}
	return s, nil
}

func applyDefaults(cfg *JobConfig, defaults JobConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaults.BackoffMax
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
}

// Run starts one loop per job kind and blocks until ctx is cancelled and
// every loop has finished its in-flight run.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	s.restore(ctx)

	var wg sync.WaitGroup
	for _, l := range s.loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runLoop(ctx, l)
		}()
	}
	s.logger.Info("scheduler started", "jobs", len(s.loops))

	wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// restore seeds status from persisted cursors so a restart keeps history.
func (s *Scheduler) restore(ctx context.Context) {
	cursors, err := s.store.ListCursors(ctx)
	if err != nil {
		s.logger.Warn("failed to load cursors", "error", err)
		return
	}
	for _, c := range cursors {
		l, ok := s.loops[c.Kind]
		if !ok {
			continue
		}
		l.mu.Lock()
		if c.LastRunAt != nil {
			l.status.LastRunAt = *c.LastRunAt
		}
		if c.LastSuccessAt != nil {
			l.status.LastSuccessAt = *c.LastSuccessAt
		}
		l.status.LastFailureReason = c.LastError
		l.mu.Unlock()

		if c.Kind == entity.JobItems && c.LastSuccessAt != nil {
			s.itemsComplete.Store(true)
		}
	}
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop) {
	kind := l.job.Kind()
	logger := s.logger.With("job", kind)

	timer := time.NewTimer(0)
	defer timer.Stop()
	s.setNextRun(l, 0)

	done := make(chan runResult, 1)
	running := false

	for {
		select {
		case <-ctx.Done():
			if running {
				s.finish(context.WithoutCancel(ctx), l, <-done)
			}
			return

		case <-timer.C:
			if running {
				s.skip(ctx, l, "tick")
				continue
			}
			if running = s.launch(ctx, l, done); !running {
				timer.Reset(s.intervalDelay(l.cfg))
			}

		case <-l.trigger:
			if running {
				s.skip(ctx, l, "trigger")
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if running = s.launch(ctx, l, done); !running {
				timer.Reset(s.intervalDelay(l.cfg))
			}

		case res := <-done:
			running = false
			delay := s.finish(ctx, l, res)
			timer.Reset(delay)
			logger.Debug("next run scheduled", "in", delay)
		}
	}
}

// launch starts a run unless RunOnce already holds the kind. Reports whether it started.
func (s *Scheduler) launch(ctx context.Context, l *loop, done chan<- runResult) bool {
	if !l.inFlight.CompareAndSwap(false, true) {
		s.skip(ctx, l, "tick")
		return false
	}
	s.setState(l, entity.JobRunning)
	go func() {
		done <- s.execute(ctx, l)
	}()
	return true
}

func (s *Scheduler) skip(ctx context.Context, l *loop, source string) {
	l.mu.Lock()
	l.status.SkippedTicks++
	l.mu.Unlock()
	if s.config.Metrics != nil {
		s.config.Metrics.RecordSkippedTick(ctx, l.job.Kind())
	}
	s.logger.Debug("run in flight, skipping", "job", l.job.Kind(), "source", source)
}

// Trigger requests an immediate run of kind. It is dropped if a run is in
// flight or another trigger is already pending.
func (s *Scheduler) Trigger(kind entity.JobKind) error {
	l, ok := s.loops[kind]
	if !ok {
		return fmt.Errorf("unknown job kind %q", kind)
	}
	select {
	case l.trigger <- struct{}{}:
	default:
		s.skip(context.Background(), l, "trigger")
	}
	return nil
}

// RunOnce runs kind synchronously with the same bookkeeping as a scheduled run.
func (s *Scheduler) RunOnce(ctx context.Context, kind entity.JobKind) (entity.RunStats, error) {
	l, ok := s.loops[kind]
	if !ok {
		return entity.RunStats{}, fmt.Errorf("unknown job kind %q", kind)
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		s.skip(ctx, l, "run-once")
		return entity.RunStats{}, fmt.Errorf("%s: %w", kind, ErrAlreadyRunning)
	}
	s.setState(l, entity.JobRunning)

	res := s.execute(ctx, l)
	s.finish(context.WithoutCancel(ctx), l, res)
	return res.stats, res.err
}

// execute performs one run. Only the checkpoint closure writes the cursor
// while the job is running.
func (s *Scheduler) execute(ctx context.Context, l *loop) runResult {
	kind := l.job.Kind()
	started := s.config.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scheduler.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("job", string(kind))),
	)
	defer span.End()

	res := runResult{started: started}

	cursor, err := s.store.GetCursor(ctx, kind)
	if err != nil {
		res.err = fmt.Errorf("load cursor: %w", err)
		span.RecordError(res.err)
		span.SetStatus(codes.Error, "load cursor")
		res.duration = s.config.Now().Sub(started)
		return res
	}
	if cursor == nil {
		cursor = &entity.SyncCursor{Kind: kind}
	}
	res.cursor = cursor

	checkpoint := func(ctx context.Context, page int, completed bool) error {
		next := *res.cursor
		next.Page = page
		next.Completed = completed
		next.LastRunAt = &started
		if err := s.store.SaveCursor(ctx, &next); err != nil {
			return err
		}
		res.cursor = &next
		return nil
	}

	res.stats, res.err = l.job.Run(ctx, cursor, checkpoint)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, entity.ErrorKind(res.err))
	}
	res.duration = s.config.Now().Sub(started)
	return res
}

// finish records a run's outcome and returns the delay before the next run.
func (s *Scheduler) finish(ctx context.Context, l *loop, res runResult) time.Duration {
	kind := l.job.Kind()
	defer l.inFlight.Store(false)

	outcome := "success"
	if res.err != nil {
		outcome = entity.ErrorKind(res.err)
	}
	if m := s.config.Metrics; m != nil {
		m.RecordJobRun(ctx, kind, res.duration, outcome)
		m.RecordRecords(ctx, kind, "written", res.stats.Written)
		m.RecordRecords(ctx, kind, "unchanged", res.stats.Unchanged)
		m.RecordRecords(ctx, kind, "failed", res.stats.Failed)
	}

	l.mu.Lock()
	st := &l.status
	st.LastRunAt = res.started
	st.LastStats = res.stats
	var delay time.Duration
	switch {
	case errors.Is(res.err, context.Canceled):
		// Shutdown, not a failure.
		st.State = entity.JobIdle
		delay = s.intervalDelay(l.cfg)
	case res.err == nil:
		st.State = entity.JobIdle
		st.LastSuccessAt = s.config.Now()
		st.LastFailureReason = ""
		st.ConsecutiveFailures = 0
		st.Backoff = ""
		delay = s.intervalDelay(l.cfg)
	default:
		st.State = entity.JobBackoff
		st.LastFailureReason = outcome
		st.ConsecutiveFailures++
		delay = retry.Backoff(retry.Config{
			InitialBackoff: l.cfg.BackoffBase,
			MaxBackoff:     l.cfg.BackoffMax,
			BackoffFactor:  2,
			Jitter:         l.cfg.Jitter,
		}, st.ConsecutiveFailures)
		st.Backoff = delay.String()
	}
	st.NextRunAt = s.config.Now().Add(delay)
	failures := st.ConsecutiveFailures
	lastSuccess := st.LastSuccessAt
	l.mu.Unlock()

	if res.err == nil && kind == entity.JobItems {
		s.itemsComplete.Store(true)
	}

	s.saveRunMetadata(ctx, kind, res, lastSuccess, outcome)

	if res.err != nil {
		s.logger.Warn("job failed",
			"job", kind,
			"reason", outcome,
			"consecutiveFailures", failures,
			"backoff", delay,
			"error", res.err)
	} else {
		s.logger.Info("job succeeded",
			"job", kind,
			"processed", res.stats.Processed,
			"written", res.stats.Written,
			"failed", res.stats.Failed,
			"duration", res.duration)
	}
	return delay
}

// saveRunMetadata stamps the run outcome onto the cursor left by the last checkpoint.
func (s *Scheduler) saveRunMetadata(ctx context.Context, kind entity.JobKind, res runResult, lastSuccess time.Time, outcome string) {
	c := entity.SyncCursor{Kind: kind}
	if res.cursor != nil {
		c = *res.cursor
	} else if stored, err := s.store.GetCursor(ctx, kind); err == nil && stored != nil {
		c = *stored
	}
	started := res.started
	c.LastRunAt = &started
	if res.err == nil {
		c.LastSuccessAt = &lastSuccess
		c.LastError = ""
	} else {
		c.LastError = outcome
	}
	if err := s.store.SaveCursor(ctx, &c); err != nil {
		s.logger.Warn("failed to save run metadata", "job", kind, "error", err)
	}
}

func (s *Scheduler) intervalDelay(cfg JobConfig) time.Duration {
	d := cfg.Interval
	if cfg.Jitter && d >= 10 {
		d += time.Duration(rand.Int64N(int64(d) / 10))
	}
	return d
}

func (s *Scheduler) setState(l *loop, state entity.JobState) {
	l.mu.Lock()
	l.status.State = state
	l.mu.Unlock()
}

func (s *Scheduler) setNextRun(l *loop, in time.Duration) {
	l.mu.Lock()
	l.status.NextRunAt = s.config.Now().Add(in)
	l.mu.Unlock()
}

// Status returns a snapshot of every job kind in scheduling order.
func (s *Scheduler) Status() []entity.JobStatus {
	out := make([]entity.JobStatus, 0, len(s.loops))
	for _, l := range s.loops {
		l.mu.Lock()
		out = append(out, l.status)
		l.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b entity.JobStatus) int {
		return slices.Index(entity.AllJobKinds, a.Kind) - slices.Index(entity.AllJobKinds, b.Kind)
	})
	return out
}

// IsReady reports whether the store is reachable and the item catalog has
// completed at least one full pass.
func (s *Scheduler) IsReady() bool {
	if !s.itemsComplete.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx) == nil
}

// IsHealthy reports whether the scheduler loops are running.
func (s *Scheduler) IsHealthy() bool {
	return s.running.Load()
}
