package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gluk-w/claworc/sshgate/internal/healthmonitor"
	"github.com/gluk-w/claworc/sshgate/internal/hostregistry"
	"github.com/gluk-w/claworc/sshgate/internal/protocol"
	"github.com/gluk-w/claworc/sshgate/internal/sessionlock"
	"github.com/gluk-w/claworc/sshgate/internal/taskregistry"
)

func testRegistry(t *testing.T) *hostregistry.Registry {
	t.Helper()
	reg, err := hostregistry.New([]hostregistry.HostConfig{
		{Alias: "mdwap1p", Host: "127.0.0.1", Port: 22, Username: "deploy", Password: "x"},
	}, nil)
	if err != nil {
		t.Fatalf("hostregistry.New: %v", err)
	}
	return reg
}

func newTestServer(t *testing.T) (*httptest.Server, *Gateway) {
	t.Helper()
	reg := testRegistry(t)
	monitor := healthmonitor.New(reg, time.Hour, time.Second, 2, 1)
	gw := New(reg, monitor, sessionlock.New(), taskregistry.New())
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return srv, gw
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + srv.URL[len("http"):]
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return frame
}

func sendFrame(t *testing.T, c *websocket.Conn, typ string, data any) {
	t.Helper()
	env := map[string]any{"type": typ}
	if data != nil {
		env["data"] = data
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWelcomeFrameSentFirst(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)

	frame := readFrame(t, c)
	if frame["type"] != protocol.TypeWelcome {
		t.Fatalf("expected welcome frame, got %v", frame["type"])
	}
	if frame["connection_id"] == "" || frame["connection_id"] == nil {
		t.Fatal("expected a non-empty connection_id")
	}
	lockStatus, ok := frame["lock_status"].(map[string]any)
	if !ok {
		t.Fatalf("expected lock_status object, got %T", frame["lock_status"])
	}
	if lockStatus["locked"] != false {
		t.Fatalf("expected initial lock_status.locked=false, got %v", lockStatus["locked"])
	}
}

func TestStartSessionThenSecondConnectionRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	readFrame(t, a) // welcome

	sendFrame(t, a, protocol.TypeStartSession, nil)
	started := readFrame(t, a)
	if started["type"] != protocol.TypeSessionStarted {
		t.Fatalf("expected session_started, got %v", started["type"])
	}

	b := dial(t, srv)
	welcomeB := readFrame(t, b)
	lockStatus := welcomeB["lock_status"].(map[string]any)
	if lockStatus["locked"] != true {
		t.Fatal("expected second connection's welcome to already show locked=true")
	}

	sendFrame(t, b, protocol.TypeStartSession, nil)
	errFrame := readFrame(t, b)
	if errFrame["type"] != protocol.TypeError {
		t.Fatalf("expected error frame, got %v", errFrame["type"])
	}
	errBody := errFrame["error"].(map[string]any)
	if int(errBody["code"].(float64)) != int(protocol.CodeSessionAlreadyActive) {
		t.Fatalf("expected code %d, got %v", protocol.CodeSessionAlreadyActive, errBody["code"])
	}
}

func TestLockStatusBroadcastOnAcquireAndRelease(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	readFrame(t, a) // welcome

	b := dial(t, srv)
	readFrame(t, b) // welcome

	sendFrame(t, a, protocol.TypeStartSession, nil)
	readFrame(t, a) // session_started on a

	broadcast := readFrame(t, b)
	if broadcast["type"] != protocol.TypeLockStatus {
		t.Fatalf("expected lock_status broadcast on b, got %v", broadcast["type"])
	}
	if broadcast["locked"] != true {
		t.Fatal("expected locked=true in broadcast")
	}

	sendFrame(t, a, protocol.TypeEndSession, nil)
	readFrame(t, a) // session_ended on a

	released := readFrame(t, b)
	if released["type"] != protocol.TypeLockStatus || released["locked"] != false {
		t.Fatalf("expected lock_status{locked:false} broadcast on b, got %v", released)
	}
}

func TestEndSessionRequiresOwnership(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	readFrame(t, a)
	b := dial(t, srv)
	readFrame(t, b)

	sendFrame(t, a, protocol.TypeStartSession, nil)
	readFrame(t, a)
	readFrame(t, b) // lock_status broadcast

	sendFrame(t, b, protocol.TypeEndSession, nil)
	errFrame := readFrame(t, b)
	if errFrame["type"] != protocol.TypeError {
		t.Fatalf("expected error frame for non-owner end_session, got %v", errFrame["type"])
	}
	errBody := errFrame["error"].(map[string]any)
	if int(errBody["code"].(float64)) != int(protocol.CodeResourceLocked) {
		t.Fatalf("expected code %d, got %v", protocol.CodeResourceLocked, errBody["code"])
	}
}

func TestUnknownMessageTypeYieldsHandlerNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	readFrame(t, c)

	sendFrame(t, c, "not_a_real_type", nil)
	errFrame := readFrame(t, c)
	errBody := errFrame["error"].(map[string]any)
	if int(errBody["code"].(float64)) != int(protocol.CodeWSHandlerNotFound) {
		t.Fatalf("expected code %d, got %v", protocol.CodeWSHandlerNotFound, errBody["code"])
	}
}

func TestMalformedJSONYieldsInvalidMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	readFrame(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	errFrame := readFrame(t, c)
	errBody := errFrame["error"].(map[string]any)
	if int(errBody["code"].(float64)) != int(protocol.CodeWSMessageInvalid) {
		t.Fatalf("expected code %d, got %v", protocol.CodeWSMessageInvalid, errBody["code"])
	}

	// The connection must still be usable after a malformed frame.
	sendFrame(t, c, protocol.TypeStartSession, nil)
	started := readFrame(t, c)
	if started["type"] != protocol.TypeSessionStarted {
		t.Fatalf("expected connection to survive malformed frame, got %v", started["type"])
	}
}

func TestSSHCommandUnknownHostFailsFast(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	readFrame(t, c)

	sendFrame(t, c, protocol.TypeStartSession, nil)
	readFrame(t, c) // session_started

	sendFrame(t, c, protocol.TypeSSHCommand, protocol.SSHCommandData{
		ServerName: "does-not-exist",
		Command:    "ls",
		StopPhrase: "PROMPT>",
	})

	errFrame := readFrame(t, c)
	if errFrame["type"] != protocol.TypeError {
		t.Fatalf("expected error frame, got %v", errFrame["type"])
	}
	errBody := errFrame["error"].(map[string]any)
	if int(errBody["code"].(float64)) != int(protocol.CodeSSHConnectFailed) {
		t.Fatalf("expected code %d, got %v", protocol.CodeSSHConnectFailed, errBody["code"])
	}
}
