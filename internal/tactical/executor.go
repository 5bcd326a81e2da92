package tactical

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rahul/cortex/internal/goal"
	"github.com/rahul/cortex/internal/observability"
	"go.uber.org/zap"
)

// DefaultTimeout is the wall-clock ceiling for one task execution.
const DefaultTimeout = 3_600_000 * time.Millisecond

var (
	// ErrInvalidOperation is returned by StartExecution for nodes that are not tasks.
	ErrInvalidOperation = errors.New("invalid operation: node is not a task")
	// ErrExecutorBusy is returned by StartExecution while another task is current.
	ErrExecutorBusy = errors.New("executor already has an active task")
)

type ExecutorOption func(*Executor)

func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

func WithStepManager(m *StepSequenceManager) ExecutorOption {
	return func(e *Executor) {
		e.stepManager = m
	}
}

// Executor runs one task at a time. While a task is active the executor owns
// the canonical copy; callers only ever see clones and get the finished node
// back from CompleteExecution or FailExecution.
//
// Mutators that receive a task which is not the current one are ignored and
// report false. Stale references crossing goroutines are expected, so this
// is not an error.
type Executor struct {
	mu          sync.Mutex
	current     *goal.TaskNode
	startTime   time.Time
	steps       []goal.Step
	timeout     time.Duration
	now         func() time.Time
	stepManager *StepSequenceManager
	logger      *observability.Logger
}

func NewExecutor(logger *observability.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	e := &Executor{
		timeout:     DefaultTimeout,
		now:         time.Now,
		stepManager: NewStepSequenceManager(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartExecution makes task the current task and loads or synthesizes its steps.
func (e *Executor) StartExecution(task goal.TaskNode) error {
	if task.Type != goal.NodeTask {
		e.logger.Debug("start ignored for non-task node", zap.String("id", task.ID), zap.String("type", string(task.Type)))
		return ErrInvalidOperation
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		return ErrExecutorBusy
	}

	owned := task.Clone()
	now := e.now()
	owned.TaskStatus = goal.StatusActive
	owned.Progress = 0
	owned.Error = ""
	owned.LastUpdated = now

	steps, ok := stepsFromMetadata(owned.Metadata)
	if !ok {
		steps = e.stepManager.CreateSteps(owned)
	}

	e.current = &owned
	e.startTime = now
	e.setStepsLocked(steps)

	e.logger.Debug("task execution started",
		zap.String("task_id", owned.ID),
		zap.Int("steps", len(steps)),
		zap.Bool("resumed", ok),
	)
	return nil
}

// SetSteps replaces the step list and mirrors it into the task metadata.
func (e *Executor) SetSteps(steps []goal.Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStepsLocked(steps)
}

func (e *Executor) setStepsLocked(steps []goal.Step) {
	if steps == nil {
		steps = []goal.Step{}
	}
	e.steps = goal.CloneSteps(steps)
	if e.current == nil {
		return
	}
	if e.current.Metadata == nil {
		e.current.Metadata = make(map[string]any)
	}
	e.current.Metadata[goal.MetadataSteps] = goal.CloneSteps(e.steps)
}

func (e *Executor) isCurrentLocked(task goal.TaskNode) bool {
	if e.current == nil || task.Type != goal.NodeTask || task.ID != e.current.ID {
		e.logger.Debug("ignoring mutation for task that is not current", zap.String("id", task.ID))
		return false
	}
	return true
}

// UpdateProgress sets progress clamped to [0,100]. Progress never goes down
// while the task is active.
func (e *Executor) UpdateProgress(task goal.TaskNode, value int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(task) {
		return false
	}
	e.applyProgressLocked(clamp(value, 0, 100))
	return true
}

func (e *Executor) applyProgressLocked(value int) {
	if value > e.current.Progress {
		e.current.Progress = value
	}
	e.current.LastUpdated = e.now()
}

// CompleteCurrentStep completes the first incomplete step. It reports false
// when there is nothing to complete.
func (e *Executor) CompleteCurrentStep(result string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return false
	}
	step := e.stepManager.CurrentStep(e.steps)
	if step == nil {
		return false
	}
	if err := e.stepManager.CompleteStep(e.steps, step.ID, result); err != nil {
		return false
	}
	e.current.Metadata[goal.MetadataSteps] = goal.CloneSteps(e.steps)
	e.applyProgressLocked(e.stepManager.CalculateProgress(e.steps))
	return true
}

// CompleteExecution finalizes the current task as completed and hands it back.
func (e *Executor) CompleteExecution(task goal.TaskNode, result string) (goal.TaskNode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(task) {
		return goal.TaskNode{}, false
	}
	done := *e.current
	done.TaskStatus = goal.StatusCompleted
	done.Progress = 100
	done.Result = result
	done.LastUpdated = e.now()
	e.clearLocked()
	return done, true
}

// FailExecution finalizes the current task as failed and hands it back.
func (e *Executor) FailExecution(task goal.TaskNode, errMsg string) (goal.TaskNode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(task) {
		return goal.TaskNode{}, false
	}
	failed := *e.current
	failed.TaskStatus = goal.StatusFailed
	failed.Error = errMsg
	failed.LastUpdated = e.now()
	e.clearLocked()
	return failed, true
}

func (e *Executor) CurrentTask() (goal.TaskNode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return goal.TaskNode{}, false
	}
	return e.current.Clone(), true
}

func (e *Executor) CurrentStep() (goal.Step, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := e.stepManager.CurrentStep(e.steps)
	if step == nil {
		return goal.Step{}, false
	}
	return *step, true
}

func (e *Executor) Steps() []goal.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return goal.CloneSteps(e.steps)
}

func (e *Executor) AreAllStepsCompleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepManager.AreAllStepsCompleted(e.steps)
}

func (e *Executor) IsTaskActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && e.current.ID == id
}

// HasTimedOut reports whether the current task ran past the ceiling. The
// executor never acts on it; callers poll.
func (e *Executor) HasTimedOut() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return false
	}
	return e.now().Sub(e.startTime) > e.timeout
}

// Deadline is the instant the current task times out.
func (e *Executor) Deadline() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return time.Time{}, false
	}
	return e.startTime.Add(e.timeout), true
}

func (e *Executor) ExecutionTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return 0
	}
	return e.now().Sub(e.startTime)
}

func (e *Executor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
}

func (e *Executor) clearLocked() {
	e.current = nil
	e.startTime = time.Time{}
	e.steps = nil
}

// stepsFromMetadata reads a persisted step list. Metadata loaded from storage
// holds generic JSON values, so those are decoded through a round-trip.
func stepsFromMetadata(md map[string]any) ([]goal.Step, bool) {
	raw, ok := md[goal.MetadataSteps]
	if !ok || raw == nil {
		return nil, false
	}
	if steps, ok := raw.([]goal.Step); ok {
		return goal.CloneSteps(steps), len(steps) > 0
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var steps []goal.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, false
	}
	return steps, len(steps) > 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
