package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"possync/internal/config"
	"possync/internal/domain"
	"possync/internal/events"
	"possync/internal/metrics"
	"possync/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrPreconditionUnmet is returned by RunOnce when the network requirement does not hold.
	ErrPreconditionUnmet = errors.New("sync precondition not met")
	// ErrCancelled is returned by RunOnce when the schedule is cancelled before the pass starts.
	ErrCancelled = errors.New("sync cancelled")
	// ErrShutdown is returned by RunOnce after Shutdown.
	ErrShutdown = errors.New("scheduler shut down")
)

const (
	preconditionTimeout = 5 * time.Second
	mirrorTimeout       = 2 * time.Second
)

type Config struct {
	Name             string
	Interval         time.Duration
	PreconditionPoll time.Duration
	Backoff          BackoffPolicy
}

// ConfigFromSettings maps the sync section of the config file.
func ConfigFromSettings(c config.SyncConfig) Config {
	return Config{
		Name:             c.Name,
		Interval:         c.Interval(),
		PreconditionPoll: c.PreconditionPoll(),
		Backoff: BackoffPolicy{
			MinDelay: c.MinBackoff(),
			MaxDelay: c.MaxBackoff(),
			Factor:   2,
		},
	}
}

// Scheduler runs sync passes periodically and on demand. At most one pass is
// in flight at any time, whatever triggered it.
type Scheduler struct {
	cfg          Config
	runner       domain.SyncRunner
	precondition domain.Precondition
	logger       zerolog.Logger
	events       domain.EventPublisher
	mirror       domain.StatusRepository

	runMu sync.Mutex

	mu                  sync.Mutex
	state               models.ScheduleState
	active              bool
	lastRun             *models.SyncRun
	consecutiveFailures int
	nextRunAt           *time.Time
	updatedAt           time.Time
	// epoch is closed by Cancel; everything waiting on it is dropped.
	epoch   chan struct{}
	resched chan struct{}

	// runCtx carries every pass. Only Shutdown cancels it; Cancel lets a
	// running pass finish.
	runCtx   context.Context
	stopRuns context.CancelFunc

	notifyMu      sync.Mutex
	watchers      map[int]chan models.SyncStatus
	nextWatcherID int

	wg sync.WaitGroup
}

type Option func(*Scheduler)

func WithEvents(publisher domain.EventPublisher) Option {
	return func(s *Scheduler) { s.events = publisher }
}

// WithStatusMirror publishes every status change to a repository readable by other processes.
func WithStatusMirror(repo domain.StatusRepository) Option {
	return func(s *Scheduler) { s.mirror = repo }
}

func New(cfg Config, runner domain.SyncRunner, precondition domain.Precondition, logger *zerolog.Logger, opts ...Option) *Scheduler {
	if cfg.Name == "" {
		cfg.Name = models.DefaultScheduleName
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.PreconditionPoll <= 0 {
		cfg.PreconditionPoll = 30 * time.Second
	}

	s := &Scheduler{
		cfg:          cfg,
		runner:       runner,
		precondition: precondition,
		logger:       zerolog.Nop(),
		state:        models.ScheduleIdle,
		epoch:        make(chan struct{}),
		resched:      make(chan struct{}, 1),
		watchers:     make(map[int]chan models.SyncStatus),
		updatedAt:    time.Now(),
	}
	s.runCtx, s.stopRuns = context.WithCancel(context.Background())
	if logger != nil {
		s.logger = logger.With().Str("component", "scheduler").Str("schedule", cfg.Name).Logger()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Setup registers the periodic schedule. If it is already registered the
// existing schedule is kept and Setup returns false. The schedule lives until
// Cancel, Shutdown or the end of ctx, so pass a process-lifetime context.
func (s *Scheduler) Setup(ctx context.Context) bool {
	if s.runCtx.Err() != nil {
		s.logger.Warn().Msg("scheduler is shut down, schedule not registered")
		return false
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		s.logger.Debug().Msg("schedule already registered, keeping it")
		return false
	}
	s.active = true
	if s.state == models.ScheduleIdle {
		s.state = models.ScheduleScheduled
	}
	now := time.Now()
	s.nextRunAt = &now
	s.updatedAt = now
	epoch := s.epoch
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("min_backoff", s.cfg.Backoff.MinDelay).
		Msg("sync schedule registered")
	s.notify()

	go s.loop(ctx, epoch)
	return true
}

// Cancel discards the schedule and any on-demand trigger still waiting to run.
// A pass already running finishes; the state is idle afterwards.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	close(s.epoch)
	s.epoch = make(chan struct{})
	wasActive := s.active
	s.active = false
	s.nextRunAt = nil
	if s.state != models.ScheduleRunning {
		s.state = models.ScheduleIdle
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if wasActive {
		s.logger.Info().Msg("sync schedule cancelled")
	}
	s.notify()
}

// Wait blocks until the periodic loop and all triggered passes have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown cancels the schedule and interrupts the pass in flight: the engine
// stops before its next order. It waits for every pass to return or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Cancel()
	s.stopRuns()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("shutdown timed out waiting for the sync pass")
		return ctx.Err()
	}
}

// TriggerNow requests an immediate pass. The pass still waits for the
// precondition. The channel yields the result, or is closed without a value
// if the schedule is cancelled first.
func (s *Scheduler) TriggerNow() <-chan models.SyncRun {
	out := make(chan models.SyncRun, 1)

	s.mu.Lock()
	epoch := s.epoch
	ctx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(out)

		if !s.waitPrecondition(ctx, epoch) {
			s.logger.Debug().Msg("on-demand trigger dropped")
			return
		}
		if run, ok := s.execute(ctx, epoch, models.TriggerOnDemand); ok {
			out <- run
		}
	}()
	return out
}

// RunOnce runs a pass synchronously on ctx, without waiting for the precondition.
func (s *Scheduler) RunOnce(ctx context.Context) (models.SyncRun, error) {
	if s.runCtx.Err() != nil {
		return models.SyncRun{}, ErrShutdown
	}
	if !s.preconditionMet(ctx) {
		return models.SyncRun{}, ErrPreconditionUnmet
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	run, ok := s.execute(ctx, epoch, models.TriggerManual)
	if !ok {
		return models.SyncRun{}, ErrCancelled
	}
	return run, nil
}

// Status returns a snapshot of the schedule.
func (s *Scheduler) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.SyncStatus{
		Schedule:            s.cfg.Name,
		State:               s.state,
		ConsecutiveFailures: s.consecutiveFailures,
		UpdatedAt:           s.updatedAt,
	}
	if s.lastRun != nil {
		run := *s.lastRun
		st.LastRun = &run
	}
	if s.nextRunAt != nil {
		next := *s.nextRunAt
		st.NextRunAt = &next
	}
	return st
}

// Watch streams status changes, starting with the current status. Slow
// readers only see the latest value. Call the returned func to stop.
func (s *Scheduler) Watch() (<-chan models.SyncStatus, func()) {
	ch := make(chan models.SyncStatus, 1)

	s.notifyMu.Lock()
	id := s.nextWatcherID
	s.nextWatcherID++
	s.watchers[id] = ch
	ch <- s.Status()
	s.notifyMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.watchers, id)
			close(ch)
			s.notifyMu.Unlock()
		})
	}
}

func (s *Scheduler) loop(ctx context.Context, epoch <-chan struct{}) {
	defer s.wg.Done()

	delay := time.Duration(0)
	for {
		if ctx.Err() != nil {
			s.detach(epoch)
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.detach(epoch)
			return
		case <-epoch:
			timer.Stop()
			return
		case <-s.resched:
			// An on-demand pass finished and moved the next run.
			timer.Stop()
			delay = s.untilNextRun()
			continue
		case <-timer.C:
		}

		if !s.preconditionMet(ctx) {
			s.logger.Debug().Dur("retry_in", s.cfg.PreconditionPoll).Msg("precondition not met, waiting")
			delay = s.cfg.PreconditionPoll
			s.mu.Lock()
			next := time.Now().Add(delay)
			if s.active {
				s.nextRunAt = &next
			}
			s.mu.Unlock()
			continue
		}

		if _, ok := s.execute(s.runCtx, epoch, models.TriggerPeriodic); !ok {
			return
		}
		// Our own pass already rescheduled; drop the kick it sent.
		select {
		case <-s.resched:
		default:
		}
		delay = s.untilNextRun()
	}
}

// detach unregisters a schedule whose loop ended with its context. A schedule
// already cancelled is left alone.
func (s *Scheduler) detach(epoch <-chan struct{}) {
	s.mu.Lock()
	select {
	case <-epoch:
		s.mu.Unlock()
		return
	default:
	}
	s.active = false
	s.nextRunAt = nil
	if s.state != models.ScheduleRunning {
		s.state = models.ScheduleIdle
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info().Msg("sync schedule stopped with its context")
	s.notify()
}

func (s *Scheduler) untilNextRun() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextRunAt == nil {
		return s.cfg.Interval
	}
	d := time.Until(*s.nextRunAt)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) waitPrecondition(ctx context.Context, epoch <-chan struct{}) bool {
	for {
		select {
		case <-epoch:
			return false
		default:
		}
		if s.preconditionMet(ctx) {
			return true
		}
		timer := time.NewTimer(s.cfg.PreconditionPoll)
		select {
		case <-epoch:
			timer.Stop()
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (s *Scheduler) preconditionMet(ctx context.Context) bool {
	if s.precondition == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, preconditionTimeout)
	defer cancel()
	return s.precondition.Met(ctx)
}

// execute runs one pass under the run lock. It reports false if the epoch was
// cancelled before the pass could start.
func (s *Scheduler) execute(ctx context.Context, epoch <-chan struct{}, trigger models.Trigger) (models.SyncRun, bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	select {
	case <-epoch:
		s.mu.Unlock()
		return models.SyncRun{}, false
	default:
	}
	s.state = models.ScheduleRunning
	s.nextRunAt = nil
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info().Str("trigger", string(trigger)).Msg("sync pass starting")
	s.notify()

	run := s.runner.Run(ctx, trigger)

	s.afterPass(run)
	return run, true
}

// afterPass records the result and picks the next state. A schedule cancelled
// while the pass was running leaves the scheduler idle.
func (s *Scheduler) afterPass(run models.SyncRun) {
	s.mu.Lock()
	s.lastRun = &run
	if run.Outcome == models.OutcomeTotalFailure {
		s.consecutiveFailures++
	} else {
		s.consecutiveFailures = 0
	}

	var delay time.Duration
	switch {
	case !s.active:
		s.state = models.ScheduleIdle
		s.nextRunAt = nil
	case run.Outcome == models.OutcomeTotalFailure:
		s.state = models.ScheduleBackoff
		delay = s.cfg.Backoff.NextDelay(s.consecutiveFailures)
	default:
		s.state = models.ScheduleScheduled
		delay = s.cfg.Interval
	}
	if s.state != models.ScheduleIdle {
		next := time.Now().Add(delay)
		s.nextRunAt = &next
	}
	state := s.state
	failures := s.consecutiveFailures
	s.updatedAt = time.Now()
	s.mu.Unlock()

	ev := s.logger.Info()
	if state == models.ScheduleBackoff {
		ev = s.logger.Warn()
	}
	ev.Str("outcome", string(run.Outcome)).
		Str("state", string(state)).
		Int("consecutive_failures", failures).
		Dur("next_in", delay).
		Msg("sync pass done")

	s.notify()

	select {
	case s.resched <- struct{}{}:
	default:
	}
}

// notify fans the current status out to watchers, metrics, the event bus and
// the mirror. Snapshots are taken under notifyMu so observers never go back in time.
func (s *Scheduler) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	st := s.Status()

	for _, ch := range s.watchers {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}

	metrics.SetScheduleState(st.State)
	metrics.SetConsecutiveFailures(st.ConsecutiveFailures)

	if s.events != nil {
		if err := s.events.PublishJSON(events.EventSyncStatusChanged, st); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish status")
		}
	}

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.SaveStatus(ctx, st); err != nil {
			s.logger.Warn().Err(err).Msg("failed to mirror status")
		}
	}
}
