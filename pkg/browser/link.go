package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// LinkState is the connection state of the agent socket.
type LinkState string

// Link states. The link is "connecting" between a socket loss and either
// the agent's handshake (→ ready) or reconnect-window exhaustion
// (→ disconnected).
const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnecting   LinkState = "connecting"
	LinkReady        LinkState = "ready"
)

// LinkConfig controls timeouts and bounds of the control socket.
type LinkConfig struct {
	// CallTimeout is the per-action response deadline.
	CallTimeout time.Duration

	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration

	// HeartbeatInterval is the server ping cadence.
	HeartbeatInterval time.Duration

	// MaxInFlight is the soft bound on concurrent pending actions.
	// Submissions beyond it fail fast with ErrBusy.
	MaxInFlight int

	// ReconnectBase is the first delay of the reconnect window.
	ReconnectBase time.Duration

	// ReconnectAttempts is the number of backoff delays waited before
	// the link gives up and reports a persistent disconnect.
	ReconnectAttempts int
}

// DefaultLinkConfig returns the built-in link defaults.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		CallTimeout:       20 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		MaxInFlight:       64,
		ReconnectBase:     1 * time.Second,
		ReconnectAttempts: 5,
	}
}

// pendingResult is what the read loop delivers to a waiting caller.
type pendingResult struct {
	data   json.RawMessage
	errMsg string
}

// Link owns the single control socket to the browser agent. The agent
// dials in over /ws; HandleConnection attaches the socket and blocks in
// a read loop. Requests are correlated to responses by envelope id, so
// responses may arrive in any order and a response that straddles a
// reconnect still resolves its waiter.
type Link struct {
	cfg LinkConfig

	mu    sync.Mutex
	conn  *websocket.Conn
	state LinkState
	gen   uint64 // bumped on attach and detach; stales old supervisors

	pendingMu sync.Mutex
	pending   map[string]chan pendingResult

	closeOnce sync.Once
	closedCh  chan struct{}
}

// NewLink creates a link with the given configuration. Zero config
// fields fall back to defaults.
func NewLink(cfg LinkConfig) *Link {
	def := DefaultLinkConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = def.ReconnectAttempts
	}
	return &Link{
		cfg:      cfg,
		state:    LinkDisconnected,
		pending:  make(map[string]chan pendingResult),
		closedCh: make(chan struct{}),
	}
}

// State returns the current connection state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connected reports whether the agent has completed its handshake.
func (l *Link) Connected() bool {
	return l.State() == LinkReady
}

// PendingCount returns the number of in-flight actions.
func (l *Link) PendingCount() int {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	return len(l.pending)
}

// Close shuts the link down. Pending waiters expire on their own
// deadlines; no new connections are supervised.
func (l *Link) Close() {
	l.closeOnce.Do(func() { close(l.closedCh) })
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.state = LinkDisconnected
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "server shutdown")
	}
}

// HandleConnection attaches an upgraded socket as the active agent
// connection and blocks reading frames until it closes. A newer
// connection replaces the current one; the replaced socket is closed.
func (l *Link) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	l.mu.Lock()
	old := l.conn
	l.conn = conn
	l.state = LinkConnecting
	l.gen++
	l.mu.Unlock()
	if old != nil {
		slog.Warn("Replacing existing agent connection")
		_ = old.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}
	slog.Info("Agent socket attached, awaiting handshake")

	heartbeatDone := make(chan struct{})
	go l.runHeartbeat(conn, heartbeatDone)

	l.readLoop(ctx, conn)

	close(heartbeatDone)
	l.detach(conn)
}

// readLoop processes inbound frames until the socket errors or closes.
func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			slog.Info("Agent socket closed", "error", err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Malformed frame from agent", "error", err)
			continue
		}

		switch {
		case frame.Type == "connected":
			l.markReady(frame.From)
		case frame.Type == "ping":
			l.sendControl(conn, "pong")
		case frame.Type == "pong":
			// Heartbeat acknowledged.
		case frame.ID != "" && frame.Status != "":
			l.resolve(&frame)
		default:
			slog.Warn("Dropping unrecognized frame", "type", frame.Type, "id", frame.ID)
		}
	}
}

// markReady transitions to ready on the agent handshake and resets the
// reconnect window (gen bump stales any running supervisor).
func (l *Link) markReady(from string) {
	l.mu.Lock()
	l.state = LinkReady
	l.gen++
	l.mu.Unlock()
	slog.Info("Agent handshake complete", "from", from)
}

// detach clears the connection if conn is still current and starts the
// reconnect supervisor.
func (l *Link) detach(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn != conn {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.state = LinkConnecting
	l.gen++
	gen := l.gen
	l.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-l.closedCh:
		return
	default:
	}
	go l.superviseReconnect(gen)
}

// superviseReconnect waits through the exponential backoff window for
// the agent to re-attach. If it never does, the link reports a
// persistent disconnect. A re-attach or handshake bumps gen, which
// stales this supervisor.
func (l *Link) superviseReconnect(gen uint64) {
	bo := newReconnectBackoff(l.cfg.ReconnectBase)
	for attempt := 1; attempt <= l.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-l.closedCh:
			return
		case <-time.After(bo.NextBackOff()):
		}
		l.mu.Lock()
		stale := l.gen != gen
		l.mu.Unlock()
		if stale {
			return
		}
		slog.Info("Waiting for browser agent to reconnect",
			"attempt", attempt, "max_attempts", l.cfg.ReconnectAttempts)
	}

	l.mu.Lock()
	if l.gen == gen && l.state != LinkReady {
		l.state = LinkDisconnected
		l.mu.Unlock()
		slog.Warn("Browser agent connection lost; reconnect window exhausted. " +
			"Actions will fail until the extension reconnects.")
		return
	}
	l.mu.Unlock()
}

// newReconnectBackoff builds the reconnect delay schedule:
// base, base*2, base*4, ... with no jitter.
func newReconnectBackoff(base time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = base << 6
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// runHeartbeat sends {type:"ping"} at the configured cadence while conn
// stays attached.
func (l *Link) runHeartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-l.closedCh:
			return
		case <-ticker.C:
			l.sendControl(conn, "ping")
		}
	}
}

// Call sends one action envelope and waits for the correlated response.
// It returns the response data, an *Error classifying the failure, or
// the context error on cancellation.
func (l *Link) Call(ctx context.Context, action Kind, payload map[string]any) (json.RawMessage, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil, &Error{Kind: ErrKindTransport, Action: action, Message: ErrNotConnected.Error()}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	id := uuid.New().String()
	ch := make(chan pendingResult, 1)

	l.pendingMu.Lock()
	if len(l.pending) >= l.cfg.MaxInFlight {
		l.pendingMu.Unlock()
		return nil, ErrBusy
	}
	l.pending[id] = ch
	l.pendingMu.Unlock()

	if err := l.writeFrame(conn, actionFrame{ID: id, Action: action, Payload: payload}); err != nil {
		l.removePending(id)
		return nil, &Error{Kind: ErrKindTransport, Action: action, Message: err.Error()}
	}

	timer := time.NewTimer(l.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.errMsg != "" {
			return nil, &Error{Kind: ErrKindAction, Action: action, Message: res.errMsg}
		}
		return res.data, nil
	case <-timer.C:
		l.removePending(id)
		return nil, &Error{
			Kind:    ErrKindTimeout,
			Action:  action,
			Message: fmt.Sprintf("no response after %s", l.cfg.CallTimeout),
		}
	case <-ctx.Done():
		l.removePending(id)
		return nil, ctx.Err()
	}
}

// resolve completes the waiter registered for the frame's id. Frames
// with no matching waiter (late responses, stray ids) are dropped.
func (l *Link) resolve(frame *inboundFrame) {
	l.pendingMu.Lock()
	ch, ok := l.pending[frame.ID]
	if ok {
		delete(l.pending, frame.ID)
	}
	l.pendingMu.Unlock()

	if !ok {
		slog.Debug("Dropping response with no pending waiter", "id", frame.ID)
		return
	}

	res := pendingResult{data: frame.Data}
	if frame.Status != "success" {
		res.errMsg = frame.Error
		if res.errMsg == "" {
			res.errMsg = "agent reported an unspecified error"
		}
	}
	ch <- res
}

// removePending drops a waiter registration. Idempotent: the read loop
// may have resolved and removed it already.
func (l *Link) removePending(id string) {
	l.pendingMu.Lock()
	delete(l.pending, id)
	l.pendingMu.Unlock()
}

// sendControl sends a {type:...} control frame; errors are logged only,
// the read loop notices broken sockets.
func (l *Link) sendControl(conn *websocket.Conn, typ string) {
	if err := l.writeFrame(conn, controlFrame{Type: typ}); err != nil {
		slog.Warn("Failed to send control frame", "type", typ, "error", err)
	}
}

// writeFrame marshals v and writes it as a text frame with the write
// timeout applied.
func (l *Link) writeFrame(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
