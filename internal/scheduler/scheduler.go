// Package scheduler runs the gateway's periodic background tasks.
//
// Each enabled task gets its own loop. A loop sleeps until the task's next
// run time, runs the task to completion, then computes the following run
// from the completion time, so a task never overlaps itself. Sleeps are
// cancellable and Stop waits for every loop to exit.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/giok57/lazoooSplash/internal/clock"
	"github.com/giok57/lazoooSplash/internal/logging"
)

// TaskFunc is a function that performs a scheduled task.
// It receives a context that will be cancelled if the scheduler stops.
type TaskFunc func(ctx context.Context) error

// Task represents a scheduled task.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Func        TaskFunc
	Enabled     bool
	RunOnStart  bool // Run immediately when scheduler starts
	Timeout     time.Duration
}

// TaskStatus represents the current status of a task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
}

// Scheduler manages and runs scheduled tasks.
type Scheduler struct {
	tasks   map[string]*taskEntry
	mu      sync.RWMutex
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

type taskEntry struct {
	task    *Task
	status  TaskStatus
	running bool
	stop    context.CancelFunc
}

// New creates a new scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		tasks:  make(map[string]*taskEntry),
		logger: logger.WithComponent("scheduler"),
	}
}

// AddTask adds a task to the scheduler. Tasks added after Start begin
// their loop immediately.
func (s *Scheduler) AddTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Schedule == nil {
		return fmt.Errorf("task schedule is required")
	}
	if task.Func == nil {
		return fmt.Errorf("task function is required")
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	entry := &taskEntry{
		task: task,
		status: TaskStatus{
			ID:          task.ID,
			Name:        task.Name,
			Description: task.Description,
			Enabled:     task.Enabled,
		},
	}
	s.tasks[task.ID] = entry
	s.logger.Debug("task added", "id", task.ID, "name", task.Name)

	if s.running && task.Enabled {
		s.startLoop(entry)
	}
	return nil
}

// RemoveTask removes a task and stops its loop.
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	if entry.stop != nil {
		entry.stop()
	}
	delete(s.tasks, id)
	s.logger.Debug("task removed", "id", id)
	return nil
}

// RunTask runs a task immediately, regardless of schedule. It is a no-op
// when the task is already running.
func (s *Scheduler) RunTask(id string) error {
	s.mu.RLock()
	entry, exists := s.tasks[id]
	ctx := s.ctx
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, entry)
	}()
	return nil
}

// GetStatus returns the status of all tasks sorted by name.
func (s *Scheduler) GetStatus() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		statuses = append(statuses, entry.status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// GetTaskStatus returns the status of a specific task.
func (s *Scheduler) GetTaskStatus(id string) (TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tasks[id]
	if !exists {
		return TaskStatus{}, false
	}
	return entry.status, true
}

// Start starts a loop per enabled task. Cancelling ctx has the same effect
// as Stop, except that Stop also waits.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, entry := range s.tasks {
		if entry.task.Enabled {
			s.startLoop(entry)
		}
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels every loop and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// startLoop must be called with s.mu held.
func (s *Scheduler) startLoop(entry *taskEntry) {
	ctx, cancel := context.WithCancel(s.ctx)
	entry.stop = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, entry)
	}()
}

func (s *Scheduler) loop(ctx context.Context, entry *taskEntry) {
	task := entry.task
	if task.RunOnStart {
		s.execute(ctx, entry)
	}

	for {
		now := clock.Now()
		next := task.Schedule.Next(now)

		s.mu.Lock()
		entry.status.NextRun = next
		s.mu.Unlock()

		if !clock.Sleep(ctx, next.Sub(now)) {
			return
		}
		s.execute(ctx, entry)
	}
}

// execute runs a single task unless it is already running.
func (s *Scheduler) execute(parent context.Context, entry *taskEntry) {
	s.mu.Lock()
	if entry.running {
		s.mu.Unlock()
		s.logger.Debug("task still running, skipping", "id", entry.task.ID)
		return
	}
	entry.running = true
	entry.status.Running = true
	s.mu.Unlock()

	task := entry.task
	var ctx context.Context
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	start := clock.Now()
	err := s.safeRun(ctx, task)
	duration := clock.Since(start)

	s.mu.Lock()
	entry.running = false
	entry.status.Running = false
	entry.status.LastRun = start
	entry.status.LastDuration = duration
	entry.status.RunCount++
	if err != nil {
		entry.status.LastError = err.Error()
		entry.status.ErrorCount++
	} else {
		entry.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("task failed", "id", task.ID, "error", err, "duration", duration)
		return
	}
	s.logger.Debug("task completed", "id", task.ID, "duration", duration)
}

// safeRun keeps a panicking task from taking the daemon down.
func (s *Scheduler) safeRun(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.Func(ctx)
}
