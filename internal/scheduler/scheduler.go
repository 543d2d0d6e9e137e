// Package scheduler runs the named background tasks on fixed intervals and
// tracks a per-task record so the API can report what ran, when, and how it
// went. At most one run per task name is in flight at any time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/acescout/acescout/internal/activity"
	"github.com/acescout/acescout/internal/metrics"
)

// TaskState is the lifecycle position of a task record.
type TaskState string

const (
	StateIdle    TaskState = "idle"
	StateRunning TaskState = "running"
	StateSuccess TaskState = "success"
	StateError   TaskState = "error"
)

// Built-in task names registered by the application facade.
const (
	TaskScrape        = "scrape"
	TaskStatusCheck   = "status_check"
	TaskEPGRefresh    = "epg_refresh"
	TaskActivityPurge = "activity_purge"
)

var (
	// ErrAlreadyRunning rejects a trigger while the same task is in flight.
	ErrAlreadyRunning = errors.New("task is already running")
	// ErrUnknownTask rejects a trigger for a name never registered.
	ErrUnknownTask = errors.New("unknown task")
)

// TaskFunc does the actual work. The returned string is a human-readable
// result summary kept on the record.
type TaskFunc func(ctx context.Context) (string, error)

// TaskRecord is the API-visible snapshot of one task.
type TaskRecord struct {
	TaskName   string    `json:"task_name"`
	State      TaskState `json:"state"`
	Interval   string    `json:"interval"`
	LastRun    time.Time `json:"last_run,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastResult string    `json:"last_result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	entryID  cron.EntryID

	mu      sync.Mutex
	running bool
	record  TaskRecord
}

// Scheduler owns the shared cron instance and the task records.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	tasks   map[string]*task
	order   []string
	rec     *activity.Recorder
	log     *slog.Logger
	grace   time.Duration
	started bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(rec *activity.Recorder, grace time.Duration) *Scheduler {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		tasks:   make(map[string]*task),
		rec:     rec,
		log:     slog.Default().With("component", "scheduler"),
		grace:   grace,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register adds a task under a unique name. An interval of zero registers the
// task for manual triggering only.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) error {
	if name == "" {
		return errors.New("task requires a name")
	}
	if fn == nil {
		return fmt.Errorf("task %s requires a function", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %s is already registered", name)
	}
	t := &task{
		name:     name,
		interval: interval,
		fn:       fn,
		record: TaskRecord{
			TaskName: name,
			State:    StateIdle,
			Interval: interval.String(),
		},
	}
	if interval > 0 {
		t.entryID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
			if err := s.launch(t); errors.Is(err, ErrAlreadyRunning) {
				s.log.Warn("skipping scheduled tick, previous run still active", "task", name)
			}
		}))
	}
	s.tasks[name] = t
	s.order = append(s.order, name)
	return nil
}

// Start launches the cron loop. Registered intervals begin counting now.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.cron.Start()
	tasks := make([]*task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.refreshNextRun(t)
	}
	s.log.Info("scheduler started", "tasks", len(tasks))
	return nil
}

// Stop stops scheduling and waits for in-flight runs. Runs still active after
// the grace period get their context cancelled, then Stop waits for them to
// return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		s.log.Warn("grace period elapsed, cancelling running tasks")
		s.cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Trigger starts a task outside its schedule. It returns ErrAlreadyRunning
// when the task is in flight and ErrUnknownTask for unregistered names; the
// run itself proceeds in the background.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	return s.launch(t)
}

// Reschedule swaps the interval of a registered task. The old cron entry is
// removed and a new one starts counting from now. In-flight runs are
// unaffected. An interval of zero leaves the task manual-only.
func (s *Scheduler) Reschedule(name string, interval time.Duration) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask
	}
	if t.interval == interval {
		s.mu.Unlock()
		return nil
	}
	if t.entryID != 0 {
		s.cron.Remove(t.entryID)
		t.entryID = 0
	}
	t.interval = interval
	if interval > 0 {
		t.entryID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
			if err := s.launch(t); errors.Is(err, ErrAlreadyRunning) {
				s.log.Warn("skipping scheduled tick, previous run still active", "task", name)
			}
		}))
	}
	s.mu.Unlock()

	t.mu.Lock()
	t.record.Interval = interval.String()
	t.mu.Unlock()
	s.refreshNextRun(t)
	s.log.Info("task rescheduled", "task", name, "interval", interval)
	return nil
}

// Statuses returns record snapshots in registration order.
func (s *Scheduler) Statuses() []TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskRecord, 0, len(s.order))
	for _, name := range s.order {
		t := s.tasks[name]
		t.mu.Lock()
		out = append(out, t.record)
		t.mu.Unlock()
	}
	return out
}

// Status returns the record for one task.
func (s *Scheduler) Status(name string) (TaskRecord, error) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return TaskRecord{}, ErrUnknownTask
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record, nil
}

// launch acquires the task's running gate and starts the run goroutine.
func (s *Scheduler) launch(t *task) error {
	runID := uuid.NewString()
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.record.State = StateRunning
	t.record.LastRun = time.Now()
	t.record.LastRunID = runID
	t.mu.Unlock()

	s.wg.Add(1)
	go s.run(t, runID)
	return nil
}

func (s *Scheduler) run(t *task, runID string) {
	defer s.wg.Done()
	start := time.Now()
	log := s.log.With("task", t.name, "run_id", runID)
	log.Info("task started")

	result, err := s.execute(t)

	elapsed := time.Since(start)
	t.mu.Lock()
	t.running = false
	if err != nil {
		t.record.State = StateError
		t.record.LastError = err.Error()
		t.record.LastResult = ""
	} else {
		t.record.State = StateSuccess
		t.record.LastError = ""
		t.record.LastResult = result
	}
	state := t.record.State
	t.mu.Unlock()

	// next_run always advances, a failed run never wedges the schedule
	s.refreshNextRun(t)

	metrics.IncTaskRun(t.name, string(state))
	metrics.ObserveTaskDuration(t.name, elapsed.Seconds())

	if err != nil {
		log.Error("task failed", "elapsed", elapsed, "error", err)
	} else {
		log.Info("task finished", "elapsed", elapsed, "result", result)
	}
	if s.rec != nil {
		details := map[string]string{"run_id": runID, "elapsed": elapsed.String(), "state": string(state)}
		msg := fmt.Sprintf("task %s %s", t.name, state)
		if result != "" {
			msg = fmt.Sprintf("task %s %s: %s", t.name, state, result)
		}
		if err != nil {
			details["error"] = err.Error()
			msg = fmt.Sprintf("task %s failed: %v", t.name, err)
		}
		s.rec.Record(s.baseCtx, activity.Event{Kind: activity.KindTask, Message: msg, Details: details})
	}
}

// execute calls the task function with panic containment. A panicking task is
// recorded as a failed run, never crashes the scheduler.
func (s *Scheduler) execute(t *task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			s.log.Error("task panic recovered", "task", t.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return t.fn(s.baseCtx)
}

// refreshNextRun recomputes the record's next_run from the cron entry. The
// caller must not hold s.mu; interval and entryID are snapshotted under it
// because Reschedule rewrites both.
func (s *Scheduler) refreshNextRun(t *task) {
	s.mu.Lock()
	started := s.started
	interval := t.interval
	entryID := t.entryID
	s.mu.Unlock()

	var next time.Time
	if interval > 0 {
		if started {
			next = s.cron.Entry(entryID).Next
		}
		if next.IsZero() {
			next = time.Now().Add(interval)
		}
	}
	t.mu.Lock()
	t.record.NextRun = next
	t.mu.Unlock()
}
