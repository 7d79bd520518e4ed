// Package agent holds the planner and verifier policies driving the
// task loop. Both are thin layers over the LLM client: they assemble a
// prompt, demand strict JSON back, and normalize the result into a
// validated value the engine can act on.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/agent/prompt"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/llm"
)

// completer is the llm.Client surface the policies use; tests stub it.
type completer interface {
	CompleteJSON(ctx context.Context, req llm.Request, out any) error
}

// Plan is one validated planner decision: either a next action or a
// completion claim.
type Plan struct {
	Action          browser.Kind
	Payload         map[string]any
	Reasoning       string
	ExpectedOutcome string
	Done            bool
}

// rawPlan is the planner's wire schema.
type rawPlan struct {
	Action          string         `json:"action"`
	Payload         map[string]any `json:"payload"`
	Reasoning       string         `json:"reasoning"`
	ExpectedOutcome string         `json:"expected_outcome"`
	TaskComplete    bool           `json:"task_complete"`
}

// Planner asks the model for the single next action.
type Planner struct {
	llm completer
	log *slog.Logger
}

// NewPlanner creates a planner over the given completion client.
func NewPlanner(c completer) *Planner {
	return &Planner{llm: c, log: slog.With("component", "planner")}
}

// Next plans the single next action for the objective given the current
// observation and compact history. The returned plan has a known action
// kind and a payload that passed the planner-side checks; dispatcher
// validation still applies before transmission.
func (p *Planner) Next(ctx context.Context, objective string, obs *browser.Observation, history []prompt.HistoryEntry) (*Plan, error) {
	var raw rawPlan
	req := prompt.Plan(objective, obs, prompt.FormatHistory(history))
	if err := p.llm.CompleteJSON(ctx, req, &raw); err != nil {
		return nil, err
	}
	plan, err := normalizePlan(&raw)
	if err != nil {
		return nil, err
	}
	if plan.Done {
		p.log.Info("Planner reports task complete", "reasoning", plan.Reasoning)
	} else {
		p.log.Info("Planned next action", "action", plan.Action)
	}
	return plan, nil
}

// normalizePlan applies the planner output rules: click/type aliasing,
// default Enter for press, smartClick locator-to-selector derivation,
// and required-field checks.
func normalizePlan(raw *rawPlan) (*Plan, error) {
	plan := &Plan{
		Payload:         raw.Payload,
		Reasoning:       strings.TrimSpace(raw.Reasoning),
		ExpectedOutcome: strings.TrimSpace(raw.ExpectedOutcome),
		Done:            raw.TaskComplete,
	}
	if plan.Payload == nil {
		plan.Payload = map[string]any{}
	}

	if plan.Done {
		if plan.Reasoning == "" {
			plan.Reasoning = "Model reports goal already satisfied based on page evidence."
		}
		return plan, nil
	}

	action := strings.TrimSpace(raw.Action)
	if action == "" {
		return nil, fmt.Errorf("%w: plan has no action and no completion claim", llm.ErrModelParse)
	}
	// Models sometimes emit the low-level names.
	switch action {
	case "click":
		action = string(browser.KindSmartClick)
	case "type":
		action = string(browser.KindSmartType)
	}
	plan.Action = browser.Kind(action)
	if !browser.KnownKind(plan.Action) {
		return nil, fmt.Errorf("%w: plan names unknown action %q", llm.ErrModelParse, action)
	}

	switch plan.Action {
	case browser.KindNavigate, browser.KindDownload:
		if payloadString(plan.Payload, "url") == "" {
			return nil, fmt.Errorf("%w: %s plan is missing url", llm.ErrModelParse, plan.Action)
		}
	case browser.KindSmartType:
		if payloadString(plan.Payload, "text") == "" {
			return nil, fmt.Errorf("%w: smartType plan is missing text", llm.ErrModelParse)
		}
	case browser.KindPress:
		if payloadString(plan.Payload, "key") == "" {
			plan.Payload["key"] = "Enter"
		}
	}

	return plan, nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
