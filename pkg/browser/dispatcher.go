package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DefaultForbiddenPrefixes are the URL prefixes the dispatcher refuses
// to navigate to or download from. The set is extensible via config.
var DefaultForbiddenPrefixes = []string{
	"chrome://",
	"edge://",
	"about:",
	"chrome-extension://",
}

const (
	defaultWaitForTimeoutMS = 5000
	defaultQueryLimit       = 500
)

// caller is the link subset the dispatcher needs; tests substitute it.
type caller interface {
	Call(ctx context.Context, action Kind, payload map[string]any) (json.RawMessage, error)
}

// Dispatcher is the typed façade over the action link. Payloads are
// validated locally before transmission; forbidden-URL navigation and
// unknown action kinds never reach the agent.
type Dispatcher struct {
	link      caller
	forbidden []string
}

// NewDispatcher creates a dispatcher over the given link. Extra
// forbidden URL prefixes extend the default set.
func NewDispatcher(link caller, extraForbidden ...string) *Dispatcher {
	forbidden := make([]string, 0, len(DefaultForbiddenPrefixes)+len(extraForbidden))
	forbidden = append(forbidden, DefaultForbiddenPrefixes...)
	forbidden = append(forbidden, extraForbidden...)
	return &Dispatcher{link: link, forbidden: forbidden}
}

// Invoke validates payload for the given action kind and sends it. This
// is the generic entry point for planner-produced actions; the typed
// methods below are wrappers over it.
func (d *Dispatcher) Invoke(ctx context.Context, action Kind, payload map[string]any) (json.RawMessage, error) {
	if !KnownKind(action) {
		return nil, &Error{Kind: ErrKindUnknownAction, Action: action, Message: "not a recognized action"}
	}
	normalized, err := d.validatePayload(action, payload)
	if err != nil {
		return nil, err
	}
	return d.link.Call(ctx, action, normalized)
}

// Navigate loads an absolute, non-forbidden URL.
func (d *Dispatcher) Navigate(ctx context.Context, rawURL string) error {
	_, err := d.Invoke(ctx, KindNavigate, map[string]any{"url": rawURL})
	return err
}

// WaitFor polls for a selector with the agent-side timeout in ms.
func (d *Dispatcher) WaitFor(ctx context.Context, selector string, timeoutMS int) error {
	_, err := d.Invoke(ctx, KindWaitFor, map[string]any{"selector": selector, "timeout_ms": timeoutMS})
	return err
}

// Click clicks the element matching selector.
func (d *Dispatcher) Click(ctx context.Context, selector string) error {
	_, err := d.Invoke(ctx, KindClick, map[string]any{"selector": selector})
	return err
}

// Type types text into the element matching selector.
func (d *Dispatcher) Type(ctx context.Context, selector, text string) error {
	_, err := d.Invoke(ctx, KindType, map[string]any{"selector": selector, "text": text})
	return err
}

// Press presses a single key (e.g. "Enter").
func (d *Dispatcher) Press(ctx context.Context, key string) error {
	_, err := d.Invoke(ctx, KindPress, map[string]any{"key": key})
	return err
}

// Query returns the truncated innerText of the first element matching
// selector.
func (d *Dispatcher) Query(ctx context.Context, selector string, limit int) (string, error) {
	data, err := d.Invoke(ctx, KindQuery, map[string]any{"selector": selector, "limit": limit})
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		// Some agents return the text unquoted.
		return string(data), nil
	}
	return text, nil
}

// GetPageInfo returns URL, title, and ready-state of the active page.
func (d *Dispatcher) GetPageInfo(ctx context.Context) (*PageInfo, error) {
	data, err := d.Invoke(ctx, KindGetPageInfo, nil)
	if err != nil {
		return nil, err
	}
	var info PageInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &Error{Kind: ErrKindAction, Action: KindGetPageInfo, Message: fmt.Sprintf("malformed page info: %v", err)}
	}
	return &info, nil
}

// GetInteractiveElements returns the visible interactive elements.
func (d *Dispatcher) GetInteractiveElements(ctx context.Context) ([]ElementDescriptor, error) {
	data, err := d.Invoke(ctx, KindGetInteractiveElements, nil)
	if err != nil {
		return nil, err
	}
	var elements []ElementDescriptor
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, &Error{Kind: ErrKindAction, Action: KindGetInteractiveElements, Message: fmt.Sprintf("malformed element list: %v", err)}
	}
	return elements, nil
}

// SmartClick clicks by any of the supported locator fields.
func (d *Dispatcher) SmartClick(ctx context.Context, locator map[string]any) error {
	_, err := d.Invoke(ctx, KindSmartClick, locator)
	return err
}

// SmartType types text into the best matching input.
func (d *Dispatcher) SmartType(ctx context.Context, selector, text string) error {
	payload := map[string]any{"text": text}
	if selector != "" {
		payload["selector"] = selector
	}
	_, err := d.Invoke(ctx, KindSmartType, payload)
	return err
}

// SwitchTab activates the tab at index.
func (d *Dispatcher) SwitchTab(ctx context.Context, index int) error {
	_, err := d.Invoke(ctx, KindSwitchTab, map[string]any{"index": index})
	return err
}

// Download starts a browser download of url.
func (d *Dispatcher) Download(ctx context.Context, rawURL string) error {
	_, err := d.Invoke(ctx, KindDownload, map[string]any{"url": rawURL})
	return err
}

// UploadFile triggers the file chooser on a file input.
func (d *Dispatcher) UploadFile(ctx context.Context, selector string) error {
	payload := map[string]any{}
	if selector != "" {
		payload["selector"] = selector
	}
	_, err := d.Invoke(ctx, KindUploadFile, payload)
	return err
}

// CaptureScreenshot returns the visible tab as a base64 PNG.
func (d *Dispatcher) CaptureScreenshot(ctx context.Context) (string, error) {
	data, err := d.Invoke(ctx, KindCaptureScreenshot, nil)
	if err != nil {
		return "", err
	}
	var shot string
	if err := json.Unmarshal(data, &shot); err != nil {
		return string(data), nil
	}
	return shot, nil
}

// validatePayload enforces the per-kind payload contract and returns
// the (possibly normalized) payload to transmit.
func (d *Dispatcher) validatePayload(action Kind, payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	invalid := func(format string, args ...any) error {
		return &Error{Kind: ErrKindInvalidPayload, Action: action, Message: fmt.Sprintf(format, args...)}
	}

	switch action {
	case KindNavigate, KindDownload:
		raw := stringField(out, "url")
		if raw == "" {
			return nil, invalid("url is required")
		}
		if err := d.checkURL(raw); err != nil {
			return nil, invalid("%v", err)
		}

	case KindWaitFor:
		if stringField(out, "selector") == "" {
			return nil, invalid("selector is required")
		}
		if _, ok := intField(out, "timeout_ms"); !ok {
			out["timeout_ms"] = defaultWaitForTimeoutMS
		}

	case KindClick, KindType:
		if stringField(out, "selector") == "" {
			return nil, invalid("selector is required")
		}

	case KindPress:
		if stringField(out, "key") == "" {
			return nil, invalid("key is required")
		}

	case KindQuery:
		if stringField(out, "selector") == "" {
			return nil, invalid("selector is required")
		}
		if limit, ok := intField(out, "limit"); !ok || limit <= 0 {
			out["limit"] = defaultQueryLimit
		}

	case KindSmartClick:
		if !hasAnyLocator(out) {
			return nil, invalid("at least one of selector, id, name, ariaLabel, role, text, description is required")
		}
		normalizeSmartClickSelector(out)

	case KindSmartType:
		if stringField(out, "text") == "" {
			return nil, invalid("text is required")
		}

	case KindSwitchTab:
		idx, ok := intField(out, "index")
		if !ok || idx < 0 {
			return nil, invalid("index must be a non-negative integer")
		}
		out["index"] = idx

	case KindGetPageInfo, KindGetInteractiveElements, KindCaptureScreenshot, KindUploadFile:
		// No required fields.
	}

	return out, nil
}

// checkURL requires an absolute http(s) URL outside the forbidden set.
func (d *Dispatcher) checkURL(raw string) error {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range d.forbidden {
		if strings.HasPrefix(lower, prefix) {
			return fmt.Errorf("url %q is forbidden", raw)
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q is not parseable", raw)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("url %q must be absolute", raw)
	}
	return nil
}

// smartClickLocators are the payload fields accepted as element locators.
var smartClickLocators = []string{"selector", "id", "name", "ariaLabel", "role", "text", "description"}

func hasAnyLocator(payload map[string]any) bool {
	for _, key := range smartClickLocators {
		if stringField(payload, key) != "" {
			return true
		}
	}
	return false
}

// normalizeSmartClickSelector derives a CSS selector from structured
// locator fields when the planner did not provide one, so the agent's
// fast selector path is used before its fuzzy text match.
func normalizeSmartClickSelector(payload map[string]any) {
	if stringField(payload, "selector") != "" {
		return
	}
	switch {
	case stringField(payload, "id") != "":
		payload["selector"] = "#" + stringField(payload, "id")
	case stringField(payload, "name") != "":
		payload["selector"] = fmt.Sprintf("[name=%q]", stringField(payload, "name"))
	case stringField(payload, "ariaLabel") != "":
		label := stringField(payload, "ariaLabel")
		payload["selector"] = fmt.Sprintf("[aria-label=%q], button[aria-label=%q], a[aria-label=%q]", label, label, label)
	case stringField(payload, "role") != "":
		payload["selector"] = fmt.Sprintf("[role=%q]", stringField(payload, "role"))
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// intField reads an integer payload field, accepting the float64 form
// JSON decoding produces.
func intField(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}
