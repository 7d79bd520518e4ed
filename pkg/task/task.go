// Package task defines the task record, its step history, and the
// in-memory registry tracking all tasks for the process lifetime.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses. The last three are terminal; a terminal task never
// changes again.
const (
	StatusQueued     Status = "queued"
	StatusPlanning   Status = "planning"
	StatusProcessing Status = "processing"
	StatusVerifying  Status = "verifying"
	StatusReplanning Status = "replanning"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepOutcome classifies how an executed action ended.
type StepOutcome string

const (
	StepOK      StepOutcome = "ok"
	StepError   StepOutcome = "error"
	StepTimeout StepOutcome = "timeout"
)

// Step is one executed action with its verification result.
type Step struct {
	Index            int            `json:"index"`
	Action           browser.Kind   `json:"action"`
	Payload          map[string]any `json:"payload,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
	ExpectedOutcome  string         `json:"expected_outcome,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          time.Time      `json:"ended_at,omitempty"`
	Outcome          StepOutcome    `json:"outcome,omitempty"`
	Error            string         `json:"error,omitempty"`
	Verdict          string         `json:"verdict,omitempty"`
	VerificationText string         `json:"verification_text,omitempty"`
	Attempt          int            `json:"attempt"`
}

// Task is one tracked automation task. All fields are guarded by mu and
// mutated only through the methods below; readers take Snapshot.
type Task struct {
	mu sync.RWMutex

	id        string
	objective string
	createdAt time.Time

	status        Status
	failReason    string
	steps         []Step
	retryCount    int
	lastRationale string
	verification  string
	screenshot    string

	cancel context.CancelFunc
}

// Snapshot is an immutable copy of a task's visible state.
type Snapshot struct {
	ID            string
	Objective     string
	CreatedAt     time.Time
	Status        Status
	FailReason    string
	Steps         []Step
	RetryCount    int
	LastRationale string
	Verification  string
	Screenshot    string
}

// New creates a queued task.
func New(id, objective string) *Task {
	return &Task{
		id:        id,
		objective: objective,
		createdAt: time.Now().UTC(),
		status:    StatusQueued,
	}
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// Objective returns the user objective.
func (t *Task) Objective() string { return t.objective }

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// BindCancel stores the cancel function for the task's run context.
func (t *Task) BindCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// Cancel requests cancellation. Safe on tasks that never started; a
// terminal task is left untouched.
func (t *Task) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	terminal := t.status.Terminal()
	t.mu.Unlock()
	if terminal {
		return
	}
	if cancel != nil {
		cancel()
	}
}

// SetStatus moves the task to a non-terminal working status. Ignored on
// terminal tasks.
func (t *Task) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = s
}

// Finish moves the task to a terminal status with an optional reason.
// The first terminal transition wins.
func (t *Task) Finish(s Status, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = s
	t.failReason = reason
}

// AppendStep records an executed step. Index is assigned here so the
// history stays contiguous. Returns the assigned index.
func (t *Task) AppendStep(step Step) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return -1
	}
	step.Index = len(t.steps)
	t.steps = append(t.steps, step)
	return step.Index
}

// UpdateStep applies fn to the step at index under the task lock.
func (t *Task) UpdateStep(index int, fn func(*Step)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() || index < 0 || index >= len(t.steps) {
		return
	}
	fn(&t.steps[index])
}

// AddRetry bumps the cumulative retry counter and returns the new value.
func (t *Task) AddRetry() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return t.retryCount
	}
	t.retryCount++
	return t.retryCount
}

// SetRationale records the planner's latest reasoning.
func (t *Task) SetRationale(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.lastRationale = text
}

// SetVerification records the final verification text and optional
// screenshot reference.
func (t *Task) SetVerification(text, screenshot string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.verification = text
	t.screenshot = screenshot
}

// StepCount returns the number of executed steps.
func (t *Task) StepCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.steps)
}

// Snapshot returns a consistent copy of the task state. The step slice
// is copied so callers never see later mutations.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	steps := make([]Step, len(t.steps))
	copy(steps, t.steps)
	return Snapshot{
		ID:            t.id,
		Objective:     t.objective,
		CreatedAt:     t.createdAt,
		Status:        t.status,
		FailReason:    t.failReason,
		Steps:         steps,
		RetryCount:    t.retryCount,
		LastRationale: t.lastRationale,
		Verification:  t.verification,
		Screenshot:    t.screenshot,
	}
}
