package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/llm"
)

// stubCompleter unmarshals a canned JSON document into out.
type stubCompleter struct {
	content string
	err     error
	lastReq llm.Request
}

func (s *stubCompleter) CompleteJSON(_ context.Context, req llm.Request, out any) error {
	s.lastReq = req
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.content), out)
}

func TestPlannerNextAction(t *testing.T) {
	s := &stubCompleter{content: `{
		"action": "navigate",
		"payload": {"url": "https://example.com"},
		"reasoning": "need the site",
		"expected_outcome": "homepage loads",
		"task_complete": false
	}`}
	p := NewPlanner(s)

	plan, err := p.Next(context.Background(), "objective", &browser.Observation{}, nil)
	require.NoError(t, err)
	assert.Equal(t, browser.KindNavigate, plan.Action)
	assert.Equal(t, "https://example.com", plan.Payload["url"])
	assert.Equal(t, "homepage loads", plan.ExpectedOutcome)
	assert.False(t, plan.Done)
}

func TestPlannerTaskComplete(t *testing.T) {
	s := &stubCompleter{content: `{"task_complete": true, "reasoning": "results visible"}`}
	p := NewPlanner(s)

	plan, err := p.Next(context.Background(), "objective", &browser.Observation{}, nil)
	require.NoError(t, err)
	assert.True(t, plan.Done)
	assert.Equal(t, "results visible", plan.Reasoning)
	assert.Empty(t, plan.Action)
}

func TestPlannerCompleteWithoutReasoningGetsDefault(t *testing.T) {
	s := &stubCompleter{content: `{"task_complete": true}`}
	p := NewPlanner(s)

	plan, err := p.Next(context.Background(), "objective", &browser.Observation{}, nil)
	require.NoError(t, err)
	assert.True(t, plan.Done)
	assert.NotEmpty(t, plan.Reasoning)
}

func TestPlannerAliasesLowLevelNames(t *testing.T) {
	tests := []struct {
		raw  string
		want browser.Kind
	}{
		{`{"action":"click","payload":{"selector":"#go"}}`, browser.KindSmartClick},
		{`{"action":"type","payload":{"text":"cats"}}`, browser.KindSmartType},
	}
	for _, tt := range tests {
		p := NewPlanner(&stubCompleter{content: tt.raw})
		plan, err := p.Next(context.Background(), "objective", &browser.Observation{}, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, plan.Action)
	}
}

func TestPlannerPressDefaultsToEnter(t *testing.T) {
	p := NewPlanner(&stubCompleter{content: `{"action":"press","payload":{}}`})
	plan, err := p.Next(context.Background(), "objective", &browser.Observation{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Enter", plan.Payload["key"])
}

func TestPlannerRejectsInvalidPlans(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no action no completion", `{"task_complete": false}`},
		{"unknown action", `{"action":"teleport","payload":{}}`},
		{"navigate without url", `{"action":"navigate","payload":{}}`},
		{"smartType without text", `{"action":"smartType","payload":{"selector":"#q"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(&stubCompleter{content: tt.raw})
			_, err := p.Next(context.Background(), "objective", &browser.Observation{}, nil)
			require.ErrorIs(t, err, llm.ErrModelParse)
		})
	}
}

func TestPlannerPropagatesModelErrors(t *testing.T) {
	p := NewPlanner(&stubCompleter{err: llm.ErrModelTransport})
	_, err := p.Next(context.Background(), "objective", &browser.Observation{}, nil)
	require.ErrorIs(t, err, llm.ErrModelTransport)

	p = NewPlanner(&stubCompleter{err: errors.New("boom")})
	_, err = p.Next(context.Background(), "objective", &browser.Observation{}, nil)
	require.Error(t, err)
}
