package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coccobas/agent-memory/internal/store"
)

// Task is one maintenance-runner job, per spec.md §4.4's task catalog.
// Grounded on emergent-company-specmcp's scheduler.Job interface, widened
// from a bare Run(ctx) error to accept the {scopeType, scopeId, dryRun,
// runId} input and return the typed {executed, durationMs, errors} result
// the spec requires.
type Task interface {
	Name() string
	Run(ctx context.Context, tc TaskContext) (Result, error)
}

// TaskContext carries the per-run parameters every task receives.
type TaskContext struct {
	Scope  store.Scope
	DryRun bool
	RunID  string
}

// Result is a task's typed execution outcome.
type Result struct {
	Executed bool
	Errors   []string
	Summary  map[string]any
}

// Scheduler fires every registered task, for every registered scope, on
// the configured cron schedule. Tasks run sequentially within a scope (so
// later tasks in the catalog can read earlier ones' maintenance_runs
// output, e.g. feedbackLoop) but different scopes run concurrently, per
// spec.md §4.4. This generalizes the teacher's Scheduler/AddJob/Start/Stop
// shape (internal/scheduler/scheduler.go) from a fixed time.Ticker per job
// to one goroutine per scope driven by a parsed cron expression.
type Scheduler struct {
	logger   *slog.Logger
	schedule *cronSchedule
	repo     *store.MaintenanceRepository

	mu     sync.Mutex
	tasks  []Task
	scopes []store.Scope

	stop   chan struct{}
	wg     sync.WaitGroup
	dryRun bool
}

// NewScheduler builds a Scheduler from a 5-field cron expression.
func NewScheduler(cronExpr string, repo *store.MaintenanceRepository, logger *slog.Logger) (*Scheduler, error) {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		logger:   logger,
		schedule: sched,
		repo:     repo,
		stop:     make(chan struct{}),
	}, nil
}

// AddTask registers a task in catalog order; order matters since tasks
// run sequentially per scope.
func (s *Scheduler) AddTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// AddScope registers a scope the scheduler runs the full task catalog
// against on every fire.
func (s *Scheduler) AddScope(scope store.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = append(s.scopes, scope)
}

// SetDryRun makes every scheduled (not manually triggered) run dry,
// producing results and run records but no writes.
func (s *Scheduler) SetDryRun(dryRun bool) { s.dryRun = dryRun }

// Start spawns one goroutine per registered scope, each sleeping until the
// next cron fire time and then running the full task catalog for that
// scope. Start returns immediately; call Stop to shut every goroutine
// down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	scopes := append([]store.Scope(nil), s.scopes...)
	s.mu.Unlock()

	for _, scope := range scopes {
		s.wg.Add(1)
		go s.runLoop(ctx, scope)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, scope store.Scope) {
	defer s.wg.Done()
	for {
		next, ok := s.schedule.nextFireAfter(time.Now())
		if !ok {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.RunAll(ctx, scope, s.dryRun)
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Stop signals every running loop to exit and waits for them to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// RunAll runs the full task catalog sequentially against one scope,
// recording each task's result via the maintenance repository. Exposed
// directly (not only via the cron-driven loop) so operators and tests can
// trigger an on-demand maintenance pass.
func (s *Scheduler) RunAll(ctx context.Context, scope store.Scope, dryRun bool) []Result {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	runID := uuid.NewString()
	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		start := time.Now()
		tc := TaskContext{Scope: scope, DryRun: dryRun, RunID: runID}
		result, err := t.Run(ctx, tc)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		results = append(results, result)

		if s.repo != nil {
			run := &store.MaintenanceRun{
				TaskName:   t.Name(),
				ScopeType:  scope.Type,
				ScopeID:    scope.ID,
				DryRun:     dryRun,
				Executed:   result.Executed,
				DurationMs: time.Since(start).Milliseconds(),
				Errors:     result.Errors,
				Summary:    result.Summary,
			}
			if recErr := s.repo.RecordRun(ctx, run); recErr != nil && s.logger != nil {
				s.logger.Warn("maintenance: failed to record run", "task", t.Name(), "error", recErr)
			}
		}
		if s.logger != nil {
			s.logger.Info("maintenance: task finished", "task", t.Name(), "scope", scope.Type, "executed", result.Executed, "errors", len(result.Errors))
		}
	}
	return results
}
