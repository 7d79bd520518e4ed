package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/llm"
)

func TestCheckStepVerdictMapping(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Outcome
	}{
		{"success maps to ok", `{"success":true,"confidence":0.9,"message":"landed"}`, VerdictOK},
		{"failure maps to retry", `{"success":false,"confidence":0.8,"message":"unchanged"}`, VerdictRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(&stubCompleter{content: tt.content})
			verdict, err := v.CheckStep(context.Background(), "Click 'Go'", "results appear", &browser.Observation{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, verdict.Outcome)
			assert.NotEmpty(t, verdict.Message)
		})
	}
}

func TestCheckFinalVerdictMapping(t *testing.T) {
	v := NewVerifier(&stubCompleter{content: `{"success":true,"confidence":0.95,"message":"goal met"}`})
	verdict, err := v.CheckFinal(context.Background(), "find cats", "https://x.test", "Cats", "<body/>")
	require.NoError(t, err)
	assert.Equal(t, VerdictOK, verdict.Outcome)
	assert.InDelta(t, 0.95, verdict.Confidence, 0.001)

	v = NewVerifier(&stubCompleter{content: `{"success":false,"confidence":0.9,"message":"no results"}`})
	verdict, err = v.CheckFinal(context.Background(), "find cats", "https://x.test", "Home", "<body/>")
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, verdict.Outcome)
}

func TestVerifierPropagatesModelErrors(t *testing.T) {
	v := NewVerifier(&stubCompleter{err: llm.ErrModelParse})
	_, err := v.CheckStep(context.Background(), "a", "e", &browser.Observation{})
	require.ErrorIs(t, err, llm.ErrModelParse)
}
