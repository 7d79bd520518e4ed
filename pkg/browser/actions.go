// Package browser provides the control-socket link to the browser agent,
// a typed action dispatcher, and the page observer.
package browser

import "encoding/json"

// Kind identifies a browser-side action primitive.
type Kind string

// Recognized action kinds.
const (
	KindNavigate               Kind = "navigate"
	KindWaitFor                Kind = "waitFor"
	KindClick                  Kind = "click"
	KindType                   Kind = "type"
	KindPress                  Kind = "press"
	KindQuery                  Kind = "query"
	KindGetPageInfo            Kind = "getPageInfo"
	KindGetInteractiveElements Kind = "getInteractiveElements"
	KindSmartClick             Kind = "smartClick"
	KindSmartType              Kind = "smartType"
	KindSwitchTab              Kind = "switchTab"
	KindDownload               Kind = "download"
	KindUploadFile             Kind = "uploadFile"
	KindCaptureScreenshot      Kind = "captureScreenshot"
)

// knownKinds is the authoritative set of action kinds the agent understands.
var knownKinds = map[Kind]bool{
	KindNavigate:               true,
	KindWaitFor:                true,
	KindClick:                  true,
	KindType:                   true,
	KindPress:                  true,
	KindQuery:                  true,
	KindGetPageInfo:            true,
	KindGetInteractiveElements: true,
	KindSmartClick:             true,
	KindSmartType:              true,
	KindSwitchTab:              true,
	KindDownload:               true,
	KindUploadFile:             true,
	KindCaptureScreenshot:      true,
}

// KnownKind reports whether k is a recognized action kind.
func KnownKind(k Kind) bool {
	return knownKinds[k]
}

// actionFrame is the outbound envelope carrying one action request.
type actionFrame struct {
	ID      string         `json:"id"`
	Action  Kind           `json:"action"`
	Payload map[string]any `json:"payload"`
}

// controlFrame is a server-originated control message (ping/pong).
type controlFrame struct {
	Type string `json:"type"`
}

// inboundFrame is any frame received from the agent: either a control
// message (type set) or an action response (id + status set).
type inboundFrame struct {
	Type   string          `json:"type,omitempty"`
	From   string          `json:"from,omitempty"`
	ID     string          `json:"id,omitempty"`
	Status string          `json:"status,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ElementDescriptor describes one interactive element on the page.
type ElementDescriptor struct {
	Type           string `json:"type,omitempty"`
	Text           string `json:"text,omitempty"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	Placeholder    string `json:"placeholder,omitempty"`
	Role           string `json:"role,omitempty"`
	AriaLabel      string `json:"ariaLabel,omitempty"`
	Href           string `json:"href,omitempty"`
	Value          string `json:"value,omitempty"`
	IsSubmitButton bool   `json:"isSubmitButton,omitempty"`
	IsPdfLink      bool   `json:"isPdfLink,omitempty"`
}

// PageInfo is the result payload of getPageInfo.
type PageInfo struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	ReadyState  string            `json:"readyState"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}
