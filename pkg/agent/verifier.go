package agent

import (
	"context"
	"log/slog"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/agent/prompt"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
)

// Outcome is the engine-facing verification verdict.
type Outcome string

const (
	// VerdictOK confirms the step or task succeeded.
	VerdictOK Outcome = "ok"
	// VerdictRetry means the step did not land; the engine replans.
	VerdictRetry Outcome = "retry"
	// VerdictFail means the task did not accomplish the objective.
	VerdictFail Outcome = "fail"
)

// Verdict is one verification result.
type Verdict struct {
	Outcome    Outcome
	Confidence float64
	Message    string
}

// rawVerdict is the verifier's wire schema.
type rawVerdict struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// Verifier checks action and task outcomes against page evidence.
type Verifier struct {
	llm completer
	log *slog.Logger
}

// NewVerifier creates a verifier over the given completion client.
func NewVerifier(c completer) *Verifier {
	return &Verifier{llm: c, log: slog.With("component", "verifier")}
}

// CheckStep verifies the last action against its expected outcome.
// success maps to ok, anything else to retry; failure here is never
// final on its own.
func (v *Verifier) CheckStep(ctx context.Context, action, expected string, obs *browser.Observation) (*Verdict, error) {
	var raw rawVerdict
	if err := v.llm.CompleteJSON(ctx, prompt.VerifyStep(action, expected, obs), &raw); err != nil {
		return nil, err
	}
	verdict := &Verdict{Outcome: VerdictRetry, Confidence: raw.Confidence, Message: raw.Message}
	if raw.Success {
		verdict.Outcome = VerdictOK
	}
	v.log.Info("Step verified", "outcome", verdict.Outcome, "confidence", verdict.Confidence)
	return verdict, nil
}

// CheckFinal verifies the whole objective against the final page state.
// success maps to ok, anything else to fail.
func (v *Verifier) CheckFinal(ctx context.Context, objective, url, title, dom string) (*Verdict, error) {
	var raw rawVerdict
	if err := v.llm.CompleteJSON(ctx, prompt.VerifyFinal(objective, url, title, dom), &raw); err != nil {
		return nil, err
	}
	verdict := &Verdict{Outcome: VerdictFail, Confidence: raw.Confidence, Message: raw.Message}
	if raw.Success {
		verdict.Outcome = VerdictOK
	}
	v.log.Info("Final verification", "outcome", verdict.Outcome, "confidence", verdict.Confidence)
	return verdict, nil
}
