// Package scheduler keeps one recurring task per schedulable portfolio and
// dispatches rebalance runs when they come due.
//
// A single loop goroutine owns the timing. It sleeps until the earliest task
// is due or the next reconcile, whichever comes first. Reconciling re-reads
// the portfolio store so configuration changes take effect within one tick.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
)

const eventModule = "scheduler"

// ErrSchedulerStopped is returned by triggers while the scheduler is not running
var ErrSchedulerStopped = errors.New("scheduler is not running")

// Runner executes the runs the scheduler dispatches
type Runner interface {
	RunScheduled(ctx context.Context, portfolioID string) error
	RunManual(ctx context.Context, portfolioID string) error
	RunCheck(ctx context.Context, portfolioID string) error
}

// PortfolioSource is the scheduler's view of the portfolio store
type PortfolioSource interface {
	List() ([]domain.Portfolio, error)
	GetByID(id string) (*domain.Portfolio, error)
	UpdateNextRebalance(id string, at *time.Time) error
}

// LockChecker reports whether a portfolio has a run in flight
type LockChecker interface {
	IsLocked(portfolioID string) bool
}

// Task is the scheduler's record for one portfolio
type Task struct {
	PortfolioID string
	Frequency   domain.CheckFrequency
	Spec        cron.Schedule
	LastRun     *time.Time
	NextRun     time.Time
}

// TaskStatus describes a task in Status()
type TaskStatus struct {
	PortfolioID string                `json:"portfolioId"`
	Frequency   domain.CheckFrequency `json:"frequency"`
	LastRun     *time.Time            `json:"lastRun,omitempty"`
	NextRun     time.Time             `json:"nextRun"`
	Locked      bool                  `json:"locked"`
}

// Status is a point-in-time view of the scheduler
type Status struct {
	IsRunning       bool         `json:"isRunning"`
	ActiveTaskCount int          `json:"activeTaskCount"`
	Tasks           []TaskStatus `json:"tasks"`
}

// Config tunes the scheduler
type Config struct {
	TickInterval time.Duration // Reconcile interval
}

// Scheduler manages portfolio tasks
type Scheduler struct {
	source PortfolioSource
	runner Runner
	locks  LockChecker
	events *events.Manager
	clock  Clock
	cfg    Config
	log    zerolog.Logger

	mu    sync.RWMutex
	tasks map[string]*Task

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	wake      chan struct{}

	runs sync.WaitGroup
}

// New creates a scheduler. locks and eventManager may be nil; a nil clock
// uses the wall clock.
func New(
	source PortfolioSource,
	runner Runner,
	locks LockChecker,
	eventManager *events.Manager,
	clock Clock,
	cfg Config,
	log zerolog.Logger,
) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return &Scheduler{
		source: source,
		runner: runner,
		locks:  locks,
		events: eventManager,
		clock:  clock,
		cfg:    cfg,
		log:    log.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*Task),
		wake:   make(chan struct{}, 1),
	}
}

// Start reconciles once and starts the loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running {
		return nil
	}
	if err := s.Sync(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.loopDone)

	s.log.Info().
		Int("tasks", s.taskCount()).
		Dur("tick_interval", s.cfg.TickInterval).
		Msg("Scheduler started")
	s.emitStatus(true)
	return nil
}

// Stop cancels the loop and drops every task. Runs already dispatched finish
// on their own; use Wait to block until they do.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.loopDone
	s.running = false

	s.mu.Lock()
	s.tasks = make(map[string]*Task)
	s.mu.Unlock()

	s.log.Info().Msg("Scheduler stopped")
	s.emitStatus(false)
}

// Wait blocks until dispatched runs finish or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.running
}

// Sync reconciles the task set with the portfolio store. New schedulable
// portfolios get a task, a changed frequency replaces the recurrence and
// keeps LastRun, and portfolios that are gone or no longer schedulable lose
// their task.
func (s *Scheduler) Sync() error {
	portfolios, err := s.source.List()
	if err != nil {
		return err
	}

	now := s.clock.Now()
	eligible := make(map[string]domain.Portfolio, len(portfolios))
	for _, p := range portfolios {
		if p.Schedulable() {
			eligible[p.ID] = p
		}
	}

	var added, removed []string
	writeBack := make(map[string]*time.Time)

	s.mu.Lock()
	for id, p := range eligible {
		freq := p.CheckFrequency.OrDefault()
		task, ok := s.tasks[id]
		if ok && task.Frequency == freq {
			continue
		}

		spec, err := cron.ParseStandard(freq.CronSpec())
		if err != nil {
			s.log.Error().Err(err).Str("portfolio_id", id).Str("frequency", string(freq)).Msg("Invalid schedule")
			continue
		}

		next := spec.Next(now)
		if ok {
			task.Frequency = freq
			task.Spec = spec
			task.NextRun = next
			s.log.Info().Str("portfolio_id", id).Str("frequency", string(freq)).Msg("Task rescheduled")
		} else {
			s.tasks[id] = &Task{PortfolioID: id, Frequency: freq, Spec: spec, NextRun: next}
			added = append(added, id)
		}
		writeBack[id] = &next
	}
	for id := range s.tasks {
		if _, ok := eligible[id]; ok {
			continue
		}
		delete(s.tasks, id)
		removed = append(removed, id)
	}
	s.mu.Unlock()

	for _, id := range removed {
		for _, p := range portfolios {
			if p.ID == id {
				writeBack[id] = nil
				break
			}
		}
	}
	for id, at := range writeBack {
		s.storeNextRun(id, at)
	}

	if len(added) > 0 || len(removed) > 0 {
		sort.Strings(added)
		sort.Strings(removed)
		s.log.Info().
			Strs("added", added).
			Strs("removed", removed).
			Int("tasks", s.taskCount()).
			Msg("Scheduler tasks reconciled")
		s.signal()
	}
	return nil
}

// Reload reconciles if the scheduler is running. A stopped scheduler picks
// up changes on its next Start. Holding lifecycle keeps a concurrent Stop
// from clearing tasks that this reconcile would then refill.
func (s *Scheduler) Reload() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running {
		return nil
	}
	return s.Sync()
}

// Status returns the task set ordered by next run
func (s *Scheduler) Status() Status {
	running := s.IsRunning()

	s.mu.RLock()
	tasks := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		ts := TaskStatus{
			PortfolioID: t.PortfolioID,
			Frequency:   t.Frequency,
			NextRun:     t.NextRun,
		}
		if t.LastRun != nil {
			last := *t.LastRun
			ts.LastRun = &last
		}
		tasks = append(tasks, ts)
	}
	s.mu.RUnlock()

	for i := range tasks {
		if s.locks != nil {
			tasks[i].Locked = s.locks.IsLocked(tasks[i].PortfolioID)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].NextRun.Equal(tasks[j].NextRun) {
			return tasks[i].NextRun.Before(tasks[j].NextRun)
		}
		return tasks[i].PortfolioID < tasks[j].PortfolioID
	})

	return Status{IsRunning: running, ActiveTaskCount: len(tasks), Tasks: tasks}
}

// TriggerManualRebalance dispatches a live rebalance outside the schedule
func (s *Scheduler) TriggerManualRebalance(portfolioID string) error {
	return s.trigger(portfolioID, "manual_rebalance", s.runner.RunManual)
}

// TriggerPortfolioCheck dispatches a threshold check outside the schedule
func (s *Scheduler) TriggerPortfolioCheck(portfolioID string) error {
	return s.trigger(portfolioID, "portfolio_check", s.runner.RunCheck)
}

// trigger checks and dispatches under lifecycle, so nothing is dispatched
// once Stop has returned
func (s *Scheduler) trigger(portfolioID, action string, run func(context.Context, string) error) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running {
		return ErrSchedulerStopped
	}
	if _, err := s.source.GetByID(portfolioID); err != nil {
		return err
	}
	if s.locks != nil && s.locks.IsLocked(portfolioID) {
		return domain.ErrRunInProgress(portfolioID)
	}

	s.log.Info().Str("portfolio_id", portfolioID).Str("action", action).Msg("Dispatching triggered run")
	s.dispatch(portfolioID, action, run)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	nextReconcile := s.clock.Now().Add(s.cfg.TickInterval)
	for {
		now := s.clock.Now()
		if !now.Before(nextReconcile) {
			if err := s.Sync(); err != nil {
				s.log.Error().Err(err).Msg("Failed to reconcile scheduler tasks")
			}
			nextReconcile = now.Add(s.cfg.TickInterval)
		}
		s.fireDue(now)

		wait := nextReconcile.Sub(now)
		if earliest, ok := s.earliestNextRun(); ok {
			if d := earliest.Sub(now); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-s.clock.After(wait):
		}
	}
}

// fireDue dispatches every task whose NextRun is not after now and advances it
func (s *Scheduler) fireDue(now time.Time) {
	type due struct {
		id   string
		next time.Time
	}
	var fired []due

	s.mu.Lock()
	for id, t := range s.tasks {
		if t.NextRun.After(now) {
			continue
		}
		last := now
		t.LastRun = &last
		t.NextRun = t.Spec.Next(now)
		fired = append(fired, due{id: id, next: t.NextRun})
	}
	s.mu.Unlock()

	sort.Slice(fired, func(i, j int) bool { return fired[i].id < fired[j].id })
	for _, f := range fired {
		s.dispatch(f.id, "scheduled", s.runner.RunScheduled)
		next := f.next
		s.storeNextRun(f.id, &next)
	}
}

// dispatch runs fn on its own goroutine. Errors are logged.
func (s *Scheduler) dispatch(portfolioID, action string, fn func(context.Context, string) error) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().
					Interface("panic", r).
					Str("portfolio_id", portfolioID).
					Str("action", action).
					Msg("Run panicked")
			}
		}()

		if err := fn(context.Background(), portfolioID); err != nil {
			event := s.log.Error()
			if domain.IsKind(err, domain.KindRunInProgress) {
				event = s.log.Warn()
			}
			event.Err(err).
				Str("portfolio_id", portfolioID).
				Str("action", action).
				Msg("Dispatched run failed")
		}
	}()
}

func (s *Scheduler) storeNextRun(portfolioID string, at *time.Time) {
	if err := s.source.UpdateNextRebalance(portfolioID, at); err != nil {
		s.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to store next run time")
	}
}

func (s *Scheduler) earliestNextRun() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest time.Time
	found := false
	for _, t := range s.tasks {
		if !found || t.NextRun.Before(earliest) {
			earliest = t.NextRun
			found = true
		}
	}
	return earliest, found
}

func (s *Scheduler) taskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// signal wakes the loop so it recomputes its sleep
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) emitStatus(running bool) {
	if s.events == nil {
		return
	}
	s.events.EmitTyped(eventModule, &events.SchedulerStatusChangedData{
		Running:     running,
		ActiveTasks: s.taskCount(),
	})
}
