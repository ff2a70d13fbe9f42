// Package reliability runs the maintenance jobs that keep the service's
// storage healthy: history retention, sqlite upkeep and off-site backups.
// None of them touch portfolios; rebalancing is scheduled elsewhere.
package reliability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/utils"
)

// Job represents a maintenance job
type Job interface {
	Run() error
	Name() string
}

// Runner schedules maintenance jobs on cron expressions
type Runner struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRunner creates a runner. Schedules use the standard five-field syntax
// and descriptors such as "@hourly".
func NewRunner(log zerolog.Logger) *Runner {
	log = log.With().Str("component", "maintenance").Logger()
	cronLog := cronLogger{log: log}
	return &Runner{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
		log:  log,
		jobs: make(map[string]Job),
	}
}

// Start starts the runner
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Int("jobs", len(r.Jobs())).Msg("Maintenance runner started")
}

// Stop stops the runner and waits for running jobs
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info().Msg("Maintenance runner stopped")
}

// AddJob registers a job with a cron schedule
func (r *Runner) AddJob(schedule string, job Job) error {
	_, err := r.cron.AddFunc(schedule, func() {
		if err := r.run(job); err != nil {
			r.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, job.Name(), err)
	}

	r.mu.Lock()
	r.jobs[job.Name()] = job
	r.mu.Unlock()

	r.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a registered job immediately (outside schedule)
func (r *Runner) RunNow(name string) error {
	r.mu.RLock()
	job, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	r.log.Info().Str("job", name).Msg("Running job immediately")
	return r.run(job)
}

// Jobs returns the registered job names
func (r *Runner) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Runner) run(job Job) error {
	r.log.Debug().Str("job", job.Name()).Msg("Running job")
	defer utils.OperationTimer(job.Name(), r.log)()
	return job.Run()
}

// cronLogger routes cron's own messages to zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
