package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHarness wires a link behind a real WebSocket pair.
type testHarness struct {
	link   *Link
	server *httptest.Server
}

func newHarness(t *testing.T, cfg LinkConfig) *testHarness {
	t.Helper()
	link := NewLink(cfg)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		link.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(func() {
		link.Close()
		server.Close()
	})
	return &testHarness{link: link, server: server}
}

// fakeAgent is the extension side of the socket.
type fakeAgent struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *testHarness) dialAgent(t *testing.T) *fakeAgent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return &fakeAgent{t: t, conn: conn}
}

func (a *fakeAgent) send(v any) {
	a.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(a.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(a.t, a.conn.Write(ctx, websocket.MessageText, data))
}

func (a *fakeAgent) handshake() {
	a.send(map[string]any{"type": "connected", "from": "extension"})
}

// readFrame skips server pings and returns the next real frame.
func (a *fakeAgent) readFrame() map[string]any {
	a.t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, data, err := a.conn.Read(ctx)
		cancel()
		require.NoError(a.t, err)
		var frame map[string]any
		require.NoError(a.t, json.Unmarshal(data, &frame))
		if frame["type"] == "ping" || frame["type"] == "pong" {
			continue
		}
		return frame
	}
}

func (a *fakeAgent) respond(id string, data any) {
	a.send(map[string]any{"id": id, "status": "success", "data": data})
}

func (a *fakeAgent) respondError(id, msg string) {
	a.send(map[string]any{"id": id, "status": "error", "error": msg})
}

func waitReady(t *testing.T, link *Link) {
	t.Helper()
	require.Eventually(t, link.Connected, 3*time.Second, 10*time.Millisecond,
		"link never reached ready state")
}

func TestCallNotConnected(t *testing.T) {
	link := NewLink(DefaultLinkConfig())
	defer link.Close()

	_, err := link.Call(context.Background(), KindGetPageInfo, nil)
	require.Error(t, err)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrKindTransport, ae.Kind)
}

func TestCallResolvesByID(t *testing.T) {
	h := newHarness(t, DefaultLinkConfig())
	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	go func() {
		frame := agent.readFrame()
		agent.respond(frame["id"].(string), map[string]any{"url": "https://example.com"})
	}()

	data, err := h.link.Call(context.Background(), KindGetPageInfo, nil)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "https://example.com", payload["url"])
	assert.Equal(t, 0, h.link.PendingCount())
}

func TestOutOfOrderResponses(t *testing.T) {
	h := newHarness(t, DefaultLinkConfig())
	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	// Answer the two requests in reverse arrival order.
	go func() {
		first := agent.readFrame()
		second := agent.readFrame()
		agent.respond(second["id"].(string), second["action"])
		agent.respond(first["id"].(string), first["action"])
	}()

	type result struct {
		data json.RawMessage
		err  error
	}
	ch1 := make(chan result, 1)
	ch2 := make(chan result, 1)
	go func() {
		data, err := h.link.Call(context.Background(), KindGetPageInfo, nil)
		ch1 <- result{data, err}
	}()
	// Give the first call a head start so arrival order is stable.
	time.Sleep(50 * time.Millisecond)
	go func() {
		data, err := h.link.Call(context.Background(), KindGetInteractiveElements, nil)
		ch2 <- result{data, err}
	}()

	r1 := <-ch1
	r2 := <-ch2
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.JSONEq(t, `"getPageInfo"`, string(r1.data))
	assert.JSONEq(t, `"getInteractiveElements"`, string(r2.data))
}

func TestAgentErrorResponse(t *testing.T) {
	h := newHarness(t, DefaultLinkConfig())
	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	go func() {
		frame := agent.readFrame()
		agent.respondError(frame["id"].(string), "element not found")
	}()

	_, err := h.link.Call(context.Background(), KindClick, map[string]any{"selector": "#missing"})
	require.Error(t, err)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrKindAction, ae.Kind)
	assert.Contains(t, ae.Message, "element not found")
}

func TestCallTimeout(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.CallTimeout = 100 * time.Millisecond
	h := newHarness(t, cfg)
	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	// Agent never answers.
	_, err := h.link.Call(context.Background(), KindGetPageInfo, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 0, h.link.PendingCount(), "timed-out waiter must be removed")
}

func TestUnknownResponseIDDropped(t *testing.T) {
	h := newHarness(t, DefaultLinkConfig())
	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	agent.respond("no-such-id", "data")

	// The link keeps working afterwards.
	go func() {
		frame := agent.readFrame()
		agent.respond(frame["id"].(string), "ok")
	}()
	_, err := h.link.Call(context.Background(), KindGetPageInfo, nil)
	require.NoError(t, err)
}

func TestBackpressure(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.MaxInFlight = 1
	cfg.CallTimeout = 2 * time.Second
	h := newHarness(t, cfg)
	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	release := make(chan struct{})
	go func() {
		frame := agent.readFrame()
		<-release
		agent.respond(frame["id"].(string), "ok")
	}()

	done := make(chan error, 1)
	go func() {
		_, err := h.link.Call(context.Background(), KindGetPageInfo, nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return h.link.PendingCount() == 1 },
		time.Second, 10*time.Millisecond)

	_, err := h.link.Call(context.Background(), KindGetPageInfo, nil)
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestPingAnsweredWithPong(t *testing.T) {
	h := newHarness(t, DefaultLinkConfig())
	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	agent.send(map[string]any{"type": "ping"})

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_, data, err := agent.conn.Read(ctx)
		cancel()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == "pong" {
			return
		}
	}
}

func TestPendingWaiterSurvivesReconnect(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.CallTimeout = 5 * time.Second
	cfg.ReconnectBase = 50 * time.Millisecond
	h := newHarness(t, cfg)

	first := h.dialAgent(t)
	first.handshake()
	waitReady(t, h.link)

	frameCh := make(chan map[string]any, 1)
	go func() { frameCh <- first.readFrame() }()

	done := make(chan error, 1)
	go func() {
		_, err := h.link.Call(context.Background(), KindGetPageInfo, nil)
		done <- err
	}()

	frame := <-frameCh
	id := frame["id"].(string)

	// Drop the first socket mid-call, then reconnect and answer over
	// the new one.
	require.NoError(t, first.conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return !h.link.Connected() },
		2*time.Second, 10*time.Millisecond)

	second := h.dialAgent(t)
	second.handshake()
	waitReady(t, h.link)
	second.respond(id, "late but delivered")

	require.NoError(t, <-done)
}

func TestReconnectWindowExhaustion(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.ReconnectBase = 5 * time.Millisecond
	cfg.ReconnectAttempts = 3
	h := newHarness(t, cfg)

	agent := h.dialAgent(t)
	agent.handshake()
	waitReady(t, h.link)

	require.NoError(t, agent.conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool { return h.link.State() == LinkDisconnected },
		2*time.Second, 5*time.Millisecond,
		"link should give up after the reconnect window")
}

func TestReconnectBackoffSchedule(t *testing.T) {
	bo := newReconnectBackoff(time.Second)
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, expected := range want {
		assert.Equal(t, expected, bo.NextBackOff(), "delay %d", i+1)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, ErrKindTransport, KindOf(errors.New("socket gone")))
	assert.Equal(t, ErrKindTimeout, KindOf(&Error{Kind: ErrKindTimeout}))
}
