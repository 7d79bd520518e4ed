// Package engine runs the observe, plan, act, verify loop for each task
// and hosts the worker pool that executes queued tasks.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/agent"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/agent/prompt"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/config"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/task"
)

// Terminal failure reasons.
const (
	ReasonStepBudget  = "step_budget_exhausted"
	ReasonRetryBudget = "retry_budget_exhausted"
	ReasonCancelled   = "cancelled"
)

// Browser is the dispatcher surface the engine drives.
type Browser interface {
	Invoke(ctx context.Context, action browser.Kind, payload map[string]any) (json.RawMessage, error)
	Query(ctx context.Context, selector string, limit int) (string, error)
	CaptureScreenshot(ctx context.Context) (string, error)
}

// PageObserver collects page state.
type PageObserver interface {
	Observe(ctx context.Context) *browser.Observation
}

// Planner plans the next action.
type Planner interface {
	Next(ctx context.Context, objective string, obs *browser.Observation, history []prompt.HistoryEntry) (*agent.Plan, error)
}

// Verifier checks step and task outcomes.
type Verifier interface {
	CheckStep(ctx context.Context, action, expected string, obs *browser.Observation) (*agent.Verdict, error)
	CheckFinal(ctx context.Context, objective, url, title, dom string) (*agent.Verdict, error)
}

// Engine executes tasks against a browser through the planner and
// verifier policies.
type Engine struct {
	browser  Browser
	observer PageObserver
	planner  Planner
	verifier Verifier
	cfg      *config.Config
}

// New wires an engine.
func New(b Browser, o PageObserver, p Planner, v Verifier, cfg *config.Config) *Engine {
	return &Engine{browser: b, observer: o, planner: p, verifier: v, cfg: cfg}
}

// Run drives one task to a terminal status. It always leaves the task
// terminal: completed, failed, or cancelled.
func (e *Engine) Run(ctx context.Context, t *task.Task) {
	log := slog.With("task_id", t.ID())
	log.Info("Task started", "objective", t.Objective())

	// Budget of consecutive failures. Cumulative retries are tracked
	// separately on the task record.
	consecutive := 0
	var history []prompt.HistoryEntry

	for {
		if ctx.Err() != nil {
			t.Finish(task.StatusCancelled, ReasonCancelled)
			log.Info("Task cancelled")
			return
		}
		if t.StepCount() >= e.cfg.MaxSteps {
			t.Finish(task.StatusFailed, ReasonStepBudget)
			log.Warn("Task failed", "reason", ReasonStepBudget, "steps", t.StepCount())
			return
		}

		if consecutive > 0 {
			t.SetStatus(task.StatusReplanning)
		} else {
			t.SetStatus(task.StatusPlanning)
		}
		obs := e.observer.Observe(ctx)

		plan, err := e.planner.Next(ctx, t.Objective(), obs, history)
		if err != nil {
			if ctx.Err() != nil {
				t.Finish(task.StatusCancelled, ReasonCancelled)
				return
			}
			log.Warn("Planning failed", "error", err)
			consecutive++
			t.AddRetry()
			if consecutive >= e.cfg.MaxRetries {
				t.Finish(task.StatusFailed, fmt.Sprintf("planner: %v", err))
				return
			}
			continue
		}
		t.SetRationale(plan.Reasoning)

		if plan.Done {
			e.finishWithVerification(ctx, t, log)
			return
		}

		stepOutcome, stepErr := e.executeStep(ctx, t, plan, consecutive+1, log)
		if ctx.Err() != nil {
			t.Finish(task.StatusCancelled, ReasonCancelled)
			log.Info("Task cancelled")
			return
		}

		verdict := e.verifyStep(ctx, t, plan, stepOutcome, stepErr, log)
		if ctx.Err() != nil {
			t.Finish(task.StatusCancelled, ReasonCancelled)
			return
		}

		history = append(history, prompt.HistoryEntry{
			Action:  plan.Action,
			Payload: plan.Payload,
			Outcome: historyOutcome(stepOutcome, verdict),
		})

		if verdict != nil && verdict.Outcome == agent.VerdictOK {
			consecutive = 0
			continue
		}

		consecutive++
		t.AddRetry()
		if consecutive >= e.cfg.MaxRetries {
			t.Finish(task.StatusFailed, ReasonRetryBudget)
			log.Warn("Task failed", "reason", ReasonRetryBudget)
			return
		}
		// Replan on the next iteration; the failed action is never
		// re-sent as-is.
	}
}

// executeStep sends the planned action and records it in the history.
func (e *Engine) executeStep(ctx context.Context, t *task.Task, plan *agent.Plan, attempt int, log *slog.Logger) (task.StepOutcome, error) {
	t.SetStatus(task.StatusProcessing)
	idx := t.AppendStep(task.Step{
		Action:          plan.Action,
		Payload:         plan.Payload,
		Reasoning:       plan.Reasoning,
		ExpectedOutcome: plan.ExpectedOutcome,
		StartedAt:       time.Now().UTC(),
		Attempt:         attempt,
	})
	log.Info("Executing action", "step", idx, "action", plan.Action, "attempt", attempt)

	_, err := e.browser.Invoke(ctx, plan.Action, plan.Payload)

	outcome := task.StepOK
	errText := ""
	switch {
	case err == nil:
	case browser.IsTimeout(err):
		outcome = task.StepTimeout
		errText = err.Error()
	default:
		outcome = task.StepError
		errText = err.Error()
	}
	t.UpdateStep(idx, func(s *task.Step) {
		s.EndedAt = time.Now().UTC()
		s.Outcome = outcome
		s.Error = errText
	})
	if err != nil {
		log.Warn("Action failed", "step", idx, "outcome", outcome, "error", errText)
	}

	e.sleep(ctx, e.settleDelay(plan.Action))
	return outcome, err
}

// verifyStep runs per-step verification and records the verdict. A nil
// return means verification itself failed and the step counts as a
// failure.
func (e *Engine) verifyStep(ctx context.Context, t *task.Task, plan *agent.Plan, outcome task.StepOutcome, stepErr error, log *slog.Logger) *agent.Verdict {
	t.SetStatus(task.StatusVerifying)
	e.sleep(ctx, e.cfg.VerificationDelay)

	obs := e.observer.Observe(ctx)
	action := prompt.FormatAction(plan.Action, plan.Payload)
	expected := plan.ExpectedOutcome
	if stepErr != nil {
		// The verifier still sees the page; a failed send can still
		// have landed (e.g. a timeout after the click fired).
		expected = fmt.Sprintf("%s (action reported %s: %v)", expected, outcome, stepErr)
	}

	verdict, err := e.verifier.CheckStep(ctx, action, expected, obs)
	if err != nil {
		log.Warn("Step verification failed", "error", err)
		return nil
	}

	idx := t.StepCount() - 1
	t.UpdateStep(idx, func(s *task.Step) {
		s.Verdict = string(verdict.Outcome)
		s.VerificationText = verdict.Message
	})
	return verdict
}

// finishWithVerification runs the end-of-task check after the planner
// claims completion.
func (e *Engine) finishWithVerification(ctx context.Context, t *task.Task, log *slog.Logger) {
	t.SetStatus(task.StatusVerifying)
	e.sleep(ctx, e.cfg.VerificationDelay)

	obs := e.observer.Observe(ctx)
	dom, err := e.browser.Query(ctx, "body", e.cfg.DOMContentLimit)
	if err != nil {
		log.Warn("Could not read DOM for final verification", "error", err)
	}
	screenshot := ""
	if e.cfg.EnableScreenshots {
		if shot, err := e.browser.CaptureScreenshot(ctx); err == nil {
			screenshot = shot
		} else {
			log.Warn("Screenshot capture failed", "error", err)
		}
	}

	verdict, err := e.verifier.CheckFinal(ctx, t.Objective(), obs.URL, obs.Title, dom)
	if err != nil {
		if ctx.Err() != nil {
			t.Finish(task.StatusCancelled, ReasonCancelled)
			return
		}
		t.Finish(task.StatusFailed, fmt.Sprintf("final verification: %v", err))
		return
	}

	t.SetVerification(verdict.Message, screenshot)
	if verdict.Outcome == agent.VerdictOK {
		t.Finish(task.StatusCompleted, "")
		log.Info("Task completed", "confidence", verdict.Confidence)
		return
	}
	t.Finish(task.StatusFailed, verdict.Message)
	log.Warn("Task failed final verification", "message", verdict.Message)
}

// settleDelay returns the post-action pause for the given kind. Pages
// need longer after navigation and typing than after reads.
func (e *Engine) settleDelay(action browser.Kind) time.Duration {
	switch action {
	case browser.KindNavigate, browser.KindClick, browser.KindSmartClick:
		return e.cfg.SettleDelayNav
	case browser.KindType, browser.KindSmartType:
		return e.cfg.SettleDelayType
	default:
		return e.cfg.SettleDelayOther
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func historyOutcome(outcome task.StepOutcome, verdict *agent.Verdict) string {
	if verdict == nil {
		return fmt.Sprintf("%s, verification unavailable", outcome)
	}
	return fmt.Sprintf("%s, verified %s", outcome, verdict.Outcome)
}
