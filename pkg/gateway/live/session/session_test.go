package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/gorilla/websocket"

	"github.com/sonicgate/sonicgate/pkg/gateway/live/protocol"
)

type readFrame struct {
	messageType int
	data        []byte
	err         error
}

type fakeConn struct {
	mu      sync.Mutex
	reads   chan readFrame
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readFrame, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.reads
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return f.messageType, f.data, f.err
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (c *fakeConn) SetReadLimit(limit int64)            {}
func (c *fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(h func(string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) writtenTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, data := range c.written {
		var m struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("written frame is not JSON: %q", data)
		}
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestBridge(t *testing.T, conn *fakeConn, up *fakeUpstream) *Bridge {
	t.Helper()
	b, err := New(Dependencies{
		Conn:         conn,
		Upstream:     up,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		SystemPrompt: "be brief",
		SessionID:    "s_test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func textFrame(v any) readFrame {
	data, _ := json.Marshal(v)
	return readFrame{messageType: websocket.TextMessage, data: data}
}

func TestBridgeRun_AudioTurnLifecycle(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)

	conn.reads <- textFrame(map[string]string{"type": protocol.TypeBeginAudio})
	conn.reads <- readFrame{messageType: websocket.BinaryMessage, data: []byte{0x01, 0x02}}
	conn.reads <- readFrame{messageType: websocket.BinaryMessage, data: []byte{0x03, 0x04}}
	conn.reads <- textFrame(map[string]string{"type": protocol.TypeEndAudio})
	close(conn.reads)

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"start:be brief", "beginAudio", "chunk", "chunk", "endAudio", "close"}
	got := up.opList()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
	types := conn.writtenTypes(t)
	if len(types) == 0 || types[0] != protocol.TypeReady {
		t.Fatalf("first client frame = %v, want ready", types)
	}
	if !conn.isClosed() {
		t.Fatal("client connection must be closed after Run")
	}
}

func TestBridgeRun_ReadyCarriesPromptName(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)
	close(conn.reads)

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	var ready protocol.Ready
	if err := json.Unmarshal(conn.written[0], &ready); err != nil {
		t.Fatalf("unmarshal ready: %v", err)
	}
	if ready.PromptName != "prompt-test" {
		t.Fatalf("ready.promptName = %q, want %q", ready.PromptName, "prompt-test")
	}
}

func TestBridgeRun_StartFailureNotifiesClient(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	up.startErr = errors.New("bedrock unavailable")
	b := newTestBridge(t, conn, up)

	if err := b.Run(); err == nil {
		t.Fatal("Run must surface the start failure")
	}
	types := conn.writtenTypes(t)
	if len(types) != 1 || types[0] != protocol.TypeError {
		t.Fatalf("client frames = %v, want a single error notification", types)
	}
}

func TestBridgeRun_StartFailureLogsServiceCode(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	up.startErr = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not entitled"}

	var buf bytes.Buffer
	b, err := New(Dependencies{
		Conn:      conn,
		Upstream:  up,
		Logger:    slog.New(slog.NewTextHandler(&buf, nil)),
		SessionID: "s_test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Run(); err == nil {
		t.Fatal("Run must surface the start failure")
	}
	if !strings.Contains(buf.String(), "error_code=AccessDeniedException") {
		t.Fatalf("log output %q does not carry the service error code", buf.String())
	}
}

func TestBridgeRun_DisconnectMidTurnStillClosesUpstream(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)

	conn.reads <- textFrame(map[string]string{"type": protocol.TypeBeginAudio})
	conn.reads <- readFrame{messageType: websocket.BinaryMessage, data: []byte{0x01}}
	close(conn.reads)

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if up.Active() {
		t.Fatal("upstream session must be closed after client disconnect")
	}
	if !up.closed {
		t.Fatal("teardown must run the upstream closing handshake")
	}
}

func TestBridgeRun_InactiveSessionEndsLoopWithoutError(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)

	go func() {
		conn.reads <- textFrame(map[string]string{"type": protocol.TypeBeginAudio})
		for len(up.opList()) < 2 { // wait for start + beginAudio
			time.Sleep(time.Millisecond)
		}
		_ = up.Close(b.ctx)
		conn.reads <- readFrame{messageType: websocket.BinaryMessage, data: []byte{0x01}}
		close(conn.reads)
	}()

	if err := b.Run(); err != nil {
		t.Fatalf("Run after session close = %v, want nil", err)
	}
	for _, typ := range conn.writtenTypes(t) {
		if typ == protocol.TypeError {
			t.Fatal("inactive session must not produce an error notification")
		}
	}
}

func TestBridgeRun_MalformedCommandDropped(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)

	conn.reads <- readFrame{messageType: websocket.TextMessage, data: []byte("{broken")}
	conn.reads <- readFrame{messageType: websocket.TextMessage, data: []byte(`{"type":"futureCommand"}`)}
	close(conn.reads)

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := up.opList()
	if len(got) != 2 || got[1] != "close" {
		t.Fatalf("ops = %v, want only start and close", got)
	}
}

func TestBridgeRun_ImplicitAudioOpenAccepted(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)

	conn.reads <- readFrame{messageType: websocket.BinaryMessage, data: []byte{0x01}}
	close(conn.reads)

	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := up.opList()
	if len(got) < 2 || got[1] != "chunk" {
		t.Fatalf("ops = %v, want the chunk accepted without a prior beginAudio", got)
	}
}

func TestBridgeNotify_SerializedWithBridgeWrites(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)

	if err := b.Notify(protocol.NewNotice("draining", "server is restarting")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	types := conn.writtenTypes(t)
	if len(types) != 1 || types[0] != protocol.TypeNotice {
		t.Fatalf("client frames = %v, want [notice]", types)
	}
}

func TestBridgeCancel_UnblocksRun(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b := newTestBridge(t, conn, up)

	done := make(chan error, 1)
	go func() { done <- b.Run() }()

	for len(up.opList()) < 1 {
		time.Sleep(time.Millisecond)
	}
	b.Cancel()
	close(conn.reads)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}
}

func TestBridgeNew_Validation(t *testing.T) {
	if _, err := New(Dependencies{Upstream: newFakeUpstream()}); err == nil {
		t.Fatal("New without a connection must fail")
	}
	if _, err := New(Dependencies{Conn: newFakeConn()}); err == nil {
		t.Fatal("New without an upstream session must fail")
	}
}
