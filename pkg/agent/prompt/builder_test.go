package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
)

func TestFormatPageState(t *testing.T) {
	obs := &browser.Observation{
		URL:   "https://example.com",
		Title: "Example",
		Elements: []browser.ElementDescriptor{
			{Type: "input", Name: "q", Placeholder: "Search"},
			{Type: "button", Text: "Go", IsSubmitButton: true},
			{Type: "a", Text: "paper.pdf", IsPdfLink: true},
		},
	}

	out := FormatPageState(obs)
	assert.Contains(t, out, "Current URL: https://example.com")
	assert.Contains(t, out, "Page Title: Example")
	assert.Contains(t, out, "name='q'")
	assert.Contains(t, out, "placeholder='Search'")
	assert.Contains(t, out, "[SUBMIT]")
	assert.Contains(t, out, "[PDF]")
}

func TestFormatPageStateEmpty(t *testing.T) {
	out := FormatPageState(&browser.Observation{})
	assert.Contains(t, out, "Current URL: unknown")
	assert.Contains(t, out, "No interactive elements found yet.")
	assert.Contains(t, FormatPageState(nil), "no page state")
}

func TestFormatPageStateCapsElements(t *testing.T) {
	obs := &browser.Observation{URL: "https://x.test"}
	for i := 0; i < 25; i++ {
		obs.Elements = append(obs.Elements, browser.ElementDescriptor{Type: "a", Text: "link"})
	}
	out := FormatPageState(obs)
	assert.Equal(t, MaxPromptElements, strings.Count(out, "<a>"))
}

func TestFormatPageStateDiagnostics(t *testing.T) {
	obs := &browser.Observation{
		URL:         "https://x.test",
		Diagnostics: map[string]string{"page_info": "timed out"},
	}
	assert.Contains(t, FormatPageState(obs), "Diagnostics:")
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "No actions taken yet.", FormatHistory(nil))

	out := FormatHistory([]HistoryEntry{
		{Action: browser.KindNavigate, Payload: map[string]any{"url": "https://example.com"}, Outcome: "ok, verified ok"},
		{Action: browser.KindSmartType, Payload: map[string]any{"text": "cats"}},
	})
	assert.Contains(t, out, "Actions taken so far (2 steps):")
	assert.Contains(t, out, "1. Navigate to https://example.com (ok, verified ok)")
	assert.Contains(t, out, "2. Type 'cats' into input field")
}

func TestFormatAction(t *testing.T) {
	assert.Equal(t, "Click element with text 'Submit'",
		FormatAction(browser.KindSmartClick, map[string]any{"text": "Submit"}))
	assert.Equal(t, "Click element matching '#go'",
		FormatAction(browser.KindSmartClick, map[string]any{"selector": "#go"}))
	assert.Equal(t, "Press Enter",
		FormatAction(browser.KindPress, map[string]any{"key": "Enter"}))
	assert.Contains(t,
		FormatAction(browser.KindSwitchTab, map[string]any{"index": 2}),
		"switchTab")
}

func TestPlanRequestShape(t *testing.T) {
	obs := &browser.Observation{URL: "https://example.com"}
	req := Plan("find cat pictures", obs, "No actions taken yet.")

	assert.Equal(t, 400, req.MaxTokens)
	assert.InDelta(t, 0.1, req.Temperature, 0.001)
	assert.Contains(t, req.System, "CAPTCHA")
	assert.Contains(t, req.User, "GOAL:find cat pictures")
	assert.Contains(t, req.User, "Current URL: https://example.com")
	assert.Contains(t, req.User, "task_complete")
}

func TestVerifyStepRequestShape(t *testing.T) {
	req := VerifyStep("Click element with text 'Go'", "Results appear", &browser.Observation{})
	assert.Equal(t, 250, req.MaxTokens)
	assert.Zero(t, req.Temperature)
	assert.Contains(t, req.User, "ACTION:Click element with text 'Go'")
	assert.Contains(t, req.User, "EXPECTED:Results appear")
}

func TestVerifyFinalRequestShape(t *testing.T) {
	req := VerifyFinal("find cats", "https://x.test", "Cats", "<body>cats</body>")
	assert.Equal(t, 350, req.MaxTokens)
	assert.Contains(t, req.User, "GOAL:find cats")
	assert.Contains(t, req.User, "- DOM:<body>cats</body>")
}

func TestClampBoundsLongValues(t *testing.T) {
	long := strings.Repeat("x", maxPromptValue+100)
	req := VerifyFinal("goal", "url", "title", long)
	require.Less(t, len(req.User), maxPromptValue+1000)
	assert.Contains(t, req.User, "... (truncated)")
}
