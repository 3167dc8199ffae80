// Package gateway is the Connection Orchestrator: the WebSocket endpoint
// glue that accepts connections, dispatches typed frames to handlers, and
// guarantees clean teardown on disconnect (spec.md §4.6).
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gluk-w/claworc/sshgate/internal/healthmonitor"
	"github.com/gluk-w/claworc/sshgate/internal/history"
	"github.com/gluk-w/claworc/sshgate/internal/hostregistry"
	"github.com/gluk-w/claworc/sshgate/internal/logutil"
	"github.com/gluk-w/claworc/sshgate/internal/protocol"
	"github.com/gluk-w/claworc/sshgate/internal/sessionlock"
	"github.com/gluk-w/claworc/sshgate/internal/sshrunner"
	"github.com/gluk-w/claworc/sshgate/internal/taskregistry"
)

const cancelDeadline = 5 * time.Second

// Gateway wires the Host Registry, Health Monitor, Session Lock, and Task
// Registry into the per-connection WebSocket message loop.
type Gateway struct {
	registry *hostregistry.Registry
	monitor  *healthmonitor.Monitor
	lock     *sessionlock.Lock
	tasks    *taskregistry.Registry

	mu    sync.Mutex
	conns map[string]*conn

	healthOnce sync.Once
}

// New builds a Gateway over already-constructed collaborators. Lock-status
// broadcasts are not wired through sessionlock.Lock's own OnChange hook:
// that fires synchronously inside Acquire/Release, before the initiating
// connection has had a chance to write its own direct confirmation frame,
// which would reorder the wire ahead of the caller's session_started/
// session_ended reply. Instead each call site broadcasts explicitly, after
// its own confirmation is written (see handleStartSession, handleEndSession,
// teardown).
func New(registry *hostregistry.Registry, monitor *healthmonitor.Monitor, lock *sessionlock.Lock, tasks *taskregistry.Registry) *Gateway {
	return &Gateway{
		registry: registry,
		monitor:  monitor,
		lock:     lock,
		tasks:    tasks,
		conns:    make(map[string]*conn),
	}
}

// conn is one accepted WebSocket, with a serialized write path so outbound
// frames stay strictly ordered (spec.md §5).
type conn struct {
	id       string
	ws       *websocket.Conn
	writeMu  sync.Mutex
	clientIP string
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP accepts the WebSocket, mints a connection-id, sends the
// welcome frame, runs the dispatch loop, and guarantees disconnect
// teardown on return.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.healthOnce.Do(func() {
		g.monitor.OnTransition(g.broadcastHealthTransition)
	})

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("gateway: accept failed: %v", err)
		return
	}
	defer ws.CloseNow()

	connID := uuid.NewString()
	c := &conn{id: connID, ws: ws, clientIP: clientIP(r)}

	g.mu.Lock()
	g.conns[connID] = c
	g.mu.Unlock()

	defer g.teardown(c)

	ctx := r.Context()
	if err := g.sendWelcome(ctx, c); err != nil {
		log.Printf("gateway[%s]: welcome failed: %v", connID, err)
		return
	}

	g.dispatchLoop(ctx, c)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func (g *Gateway) sendWelcome(ctx context.Context, c *conn) error {
	snap := g.lock.Snapshot()
	frame := protocol.WelcomeFrame{
		Type:         protocol.TypeWelcome,
		ConnectionID: c.id,
		LockStatus: protocol.LockStatus{
			Locked:    snap.State == sessionlock.StateHeld,
			LockOwner: snap.Owner,
		},
		SessionStatus: protocol.SessionStatus{
			Active: snap.State == sessionlock.StateHeld,
			Owner:  snap.Owner,
		},
		ServerHealth: g.healthSnapshotMap(),
	}
	return c.writeJSON(ctx, frame)
}

func (g *Gateway) healthSnapshotMap() map[string]protocol.HealthSnapshot {
	out := make(map[string]protocol.HealthSnapshot)
	if g.monitor == nil {
		return out
	}
	for _, hh := range g.monitor.Snapshot() {
		host, _ := g.registry.ResolveHost(hh.Alias)
		out[hh.Alias] = protocol.HealthSnapshot{
			ServerName:           hh.Alias,
			Host:                 host.Host,
			IsHealthy:            hh.Status == healthmonitor.StatusHealthy,
			LastChecked:          hh.LastCheckedAt,
			ConsecutiveFailures:  hh.ConsecutiveFailures,
			ConsecutiveSuccesses: hh.ConsecutiveSuccesses,
		}
	}
	return out
}

func (g *Gateway) dispatchLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(ctx, c, protocol.NewError(protocol.CodeWSMessageInvalid, "malformed JSON", ""))
			continue
		}

		switch env.Type {
		case protocol.TypeStartSession:
			g.handleStartSession(ctx, c)
		case protocol.TypeEndSession:
			g.handleEndSession(ctx, c)
		case protocol.TypeSSHCommand:
			g.handleSSHCommand(ctx, c, env.Data)
		case protocol.TypeSCPTransfer:
			g.handleSCPTransfer(ctx, c, env.Data)
		default:
			g.sendError(ctx, c, protocol.NewError(protocol.CodeWSHandlerNotFound, "unknown message type", env.Type))
		}
	}
}

func (g *Gateway) sendError(ctx context.Context, c *conn, err *protocol.Error) {
	if werr := c.writeJSON(ctx, protocol.NewErrorFrame(err)); werr != nil {
		log.Printf("gateway[%s]: failed to send error frame: %v", c.id, werr)
	}
}

func (g *Gateway) handleStartSession(ctx context.Context, c *conn) {
	if err := g.lock.Acquire(c.id); err != nil {
		if perr, ok := err.(*protocol.Error); ok {
			g.sendError(ctx, c, perr)
		}
		return
	}

	// The direct confirmation goes to the caller first; the lock_status
	// broadcast to every other connection follows, so the initiating
	// connection never sees lock_status ahead of its own session_started.
	_ = c.writeJSON(ctx, protocol.SessionStartedFrame{
		Type:         protocol.TypeSessionStarted,
		Message:      "session started",
		SessionOwner: c.id,
	})
	g.broadcastLockStatus(g.lock.Snapshot(), c.id)
}

func (g *Gateway) handleEndSession(ctx context.Context, c *conn) {
	if err := g.lock.Require(c.id); err != nil {
		if perr, ok := err.(*protocol.Error); ok {
			g.sendError(ctx, c, perr)
		}
		return
	}

	if err := g.tasks.Cancel(c.id, cancelDeadline); err != nil {
		if perr, ok := err.(*protocol.Error); ok && perr.Code != protocol.CodeTaskNotFound {
			log.Printf("gateway[%s]: cancel on end_session: %v", c.id, perr)
		}
	}

	if err := g.lock.Release(c.id); err != nil {
		log.Printf("gateway[%s]: release on end_session: %v", c.id, err)
		return
	}

	_ = c.writeJSON(ctx, protocol.SessionEndedFrame{Type: protocol.TypeSessionEnded, Message: "session ended"})
	g.broadcastLockStatus(g.lock.Snapshot(), c.id)
}

func (g *Gateway) handleSSHCommand(ctx context.Context, c *conn, raw json.RawMessage) {
	if err := g.lock.Require(c.id); err != nil {
		if perr, ok := err.(*protocol.Error); ok {
			g.sendError(ctx, c, perr)
		}
		return
	}

	var data protocol.SSHCommandData
	if err := json.Unmarshal(raw, &data); err != nil {
		g.sendError(ctx, c, protocol.NewError(protocol.CodeWSMessageInvalid, "malformed ssh_command payload", ""))
		return
	}

	startErr := g.tasks.Start(c.id, func(taskCtx context.Context) {
		g.runSSHCommand(taskCtx, c, data)
	})
	if startErr != nil {
		if perr, ok := startErr.(*protocol.Error); ok {
			g.sendError(ctx, c, perr)
		}
	}
}

func (g *Gateway) runSSHCommand(taskCtx context.Context, c *conn, data protocol.SSHCommandData) {
	defer g.tasks.Cleanup(c.id)

	ctx, cancel := context.WithCancel(taskCtx)
	defer cancel()

	startedAt := time.Now()
	runner := sshrunner.New(g.registry)
	defer runner.Close()

	if err := runner.Connect(ctx, data.ServerName); err != nil {
		g.sendTaskError(ctx, c, err)
		return
	}

	sink := &wsSink{ctx: ctx, cancel: cancel, c: c}
	outcome, err := runner.RunInteractive(ctx, data.Command, data.StopPhrase, sink)
	if err != nil {
		g.sendTaskError(ctx, c, err)
		return
	}

	g.finishWorkflow(ctx, c, data.ServerName, history.KindSSHCommand, startedAt, outcome)
}

func (g *Gateway) handleSCPTransfer(ctx context.Context, c *conn, raw json.RawMessage) {
	if err := g.lock.Require(c.id); err != nil {
		if perr, ok := err.(*protocol.Error); ok {
			g.sendError(ctx, c, perr)
		}
		return
	}

	var data protocol.SCPTransferData
	if err := json.Unmarshal(raw, &data); err != nil {
		g.sendError(ctx, c, protocol.NewError(protocol.CodeWSMessageInvalid, "malformed scp_transfer payload", ""))
		return
	}

	startErr := g.tasks.Start(c.id, func(taskCtx context.Context) {
		g.runSCPTransfer(taskCtx, c, data)
	})
	if startErr != nil {
		if perr, ok := startErr.(*protocol.Error); ok {
			g.sendError(ctx, c, perr)
		}
	}
}

func (g *Gateway) runSCPTransfer(taskCtx context.Context, c *conn, data protocol.SCPTransferData) {
	defer g.tasks.Cleanup(c.id)

	ctx, cancel := context.WithCancel(taskCtx)
	defer cancel()

	startedAt := time.Now()
	recipe, recErr := g.registry.ResolveTransfer(data.TransferName)

	runner := sshrunner.New(g.registry)
	defer runner.Close()

	var hostAlias string
	if recErr == nil {
		hostAlias = recipe.SourceAlias
		if err := runner.Connect(ctx, recipe.SourceAlias); err != nil {
			g.sendTaskError(ctx, c, err)
			return
		}
	}

	sink := &wsSink{ctx: ctx, cancel: cancel, c: c}
	outcome, err := runner.ScpTransfer(ctx, data.TransferName, sink)
	if err != nil {
		g.sendTaskError(ctx, c, err)
		return
	}

	g.finishWorkflow(ctx, c, hostAlias, history.KindSCPTransfer, startedAt, outcome)
}

func (g *Gateway) sendTaskError(ctx context.Context, c *conn, err error) {
	perr, ok := err.(*protocol.Error)
	if !ok {
		perr = protocol.NewError(protocol.CodeSSHCommandFailed, "task failed", err.Error())
	}
	g.sendError(ctx, c, perr)
}

func (g *Gateway) finishWorkflow(ctx context.Context, c *conn, hostAlias string, kind history.Kind, startedAt time.Time, outcome sshrunner.Outcome) {
	switch outcome {
	case sshrunner.OutcomeCompleted:
		_ = c.writeJSON(ctx, protocol.CompleteFrame{Type: protocol.TypeComplete, Message: "Command execution completed"})
		if rec := history.GetRecorder(); rec != nil {
			rec.RecordCompletion(c.id, hostAlias, kind, startedAt, time.Now(), history.OutcomeCompleted, c.clientIP)
		}
	case sshrunner.OutcomeCancelled:
		g.sendError(ctx, c, protocol.NewError(protocol.CodeSSHCommandFailed, "cancelled", ""))
		if rec := history.GetRecorder(); rec != nil {
			rec.RecordCompletion(c.id, hostAlias, kind, startedAt, time.Now(), history.OutcomeCancelled, c.clientIP)
		}
	}
}

// broadcastLockStatus is called explicitly by handleStartSession,
// handleEndSession, and teardown, after each has written its own direct
// confirmation frame (see New). exclude is the connection that just
// received that direct confirmation, if any — it already knows the new
// lock state from its own session_started/session_ended reply, so it is
// left out of the fan-out rather than being sent the same information
// twice in a row. sessionlock.Lock's own snapshot is taken by the caller
// outside of any gateway lock, so this is free to write to every other
// live connection without risking a deadlock against a concurrent
// Acquire/Release.
func (g *Gateway) broadcastLockStatus(snap sessionlock.Snapshot, exclude string) {
	frame := protocol.LockStatusFrame{
		Type:      protocol.TypeLockStatus,
		Locked:    snap.State == sessionlock.StateHeld,
		LockOwner: snap.Owner,
	}

	g.mu.Lock()
	targets := make([]*conn, 0, len(g.conns))
	for id, c := range g.conns {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	g.mu.Unlock()

	ctx := context.Background()
	for _, c := range targets {
		if err := c.writeJSON(ctx, frame); err != nil {
			log.Printf("gateway[%s]: lock-status broadcast failed: %v", c.id, err)
		}
	}
}

func (g *Gateway) broadcastHealthTransition(alias string, from, to healthmonitor.Status) {
	hh, ok := g.monitor.Get(alias)
	if !ok {
		return
	}
	host, _ := g.registry.ResolveHost(alias)
	frame := protocol.ServerHealthFrame{
		Type:       protocol.TypeServerHealth,
		ServerName: alias,
		IsHealthy:  to == healthmonitor.StatusHealthy,
		Status: protocol.HealthSnapshot{
			ServerName:           alias,
			Host:                 host.Host,
			IsHealthy:            to == healthmonitor.StatusHealthy,
			LastChecked:          hh.LastCheckedAt,
			ConsecutiveFailures:  hh.ConsecutiveFailures,
			ConsecutiveSuccesses: hh.ConsecutiveSuccesses,
		},
	}

	g.mu.Lock()
	targets := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	ctx := context.Background()
	for _, c := range targets {
		if err := c.writeJSON(ctx, frame); err != nil {
			log.Printf("gateway[%s]: health broadcast failed: %v", c.id, err)
		}
	}
}

// teardown runs the four disconnect steps of spec.md §4.6, all of them,
// even if an earlier one fails.
func (g *Gateway) teardown(c *conn) {
	if err := g.tasks.Cancel(c.id, cancelDeadline); err != nil {
		if perr, ok := err.(*protocol.Error); ok && perr.Code != protocol.CodeTaskNotFound {
			log.Printf("gateway[%s]: teardown cancel: %v", c.id, err)
		}
	}

	if g.lock.IsOwner(c.id) {
		if err := g.lock.Release(c.id); err != nil {
			log.Printf("gateway[%s]: teardown release: %v", c.id, err)
		} else {
			// No direct confirmation frame applies here (the connection is
			// on its way out), but the remaining connections still need to
			// hear the lock was freed.
			g.broadcastLockStatus(g.lock.Snapshot(), c.id)
		}
	}

	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()

	log.Printf("gateway[%s]: connection closed (%s)", c.id, logutil.SanitizeForLog(c.clientIP))
}
