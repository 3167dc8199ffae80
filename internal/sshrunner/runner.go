// Package sshrunner is the per-connection facade over a single SSH
// transport: connect, run an interactive command with throttled PTY
// streaming, drive a two-leg SFTP file transfer, and close (spec.md §4.3).
package sshrunner

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sshgate/internal/hostregistry"
	"github.com/gluk-w/claworc/sshgate/internal/logutil"
	"github.com/gluk-w/claworc/sshgate/internal/protocol"
)

// Phase is the runner's position in its state machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnected    Phase = "connected"
	PhaseStreaming    Phase = "streaming"
	PhaseTransferring Phase = "transferring"
	PhaseClosed       Phase = "closed"
)

// Outcome is the terminal result of run-interactive or scp-transfer.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

// OutputSink receives throttled output chunks. A non-nil error return
// stops the in-flight operation early, mirroring a WebSocket write
// failure upstream (the Connection Orchestrator cancels the owning task
// when its sink errors).
type OutputSink interface {
	Write(chunk string) error
}

const (
	connectTimeout = 10 * time.Second
	authTimeout    = 10 * time.Second

	defaultFlushInterval = 100 * time.Millisecond
	defaultFlushBytes    = 4096
)

// Runner is single-use: Connect moves it idle→connected; Close tears it
// down permanently (phase→closed) and every subsequent call fails with
// not-connected. The Connection Orchestrator constructs a fresh Runner
// for each ssh_command/scp_transfer task, matching "connects runner, runs
// interactive command, disconnects" (spec.md §4.6) literally.
type Runner struct {
	registry *hostregistry.Registry

	mu        sync.Mutex
	phase     Phase
	client    *ssh.Client
	hostAlias string

	flushInterval time.Duration
	flushBytes    int
}

// New builds an idle Runner bound to the given host registry.
func New(registry *hostregistry.Registry) *Runner {
	return &Runner{
		registry:      registry,
		phase:         PhaseIdle,
		flushInterval: defaultFlushInterval,
		flushBytes:    defaultFlushBytes,
	}
}

// Phase returns the runner's current phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

var errNotConnected = protocol.NewError(protocol.CodeSSHCommandFailed, "not-connected", "runner is not in the connected phase")

// Connect resolves hostAlias, dials the host, and authenticates.
//
// golang.org/x/crypto/ssh's client handshake always offers the "none"
// method first to probe the server's supported methods before it falls
// through to the configured Auth methods — so listing only
// ssh.Password here already yields the "none then password" ordering
// the protocol requires, with no special-cased AuthMethod needed.
func (r *Runner) Connect(ctx context.Context, hostAlias string) error {
	r.mu.Lock()
	if r.phase == PhaseClosed {
		r.mu.Unlock()
		return errNotConnected
	}
	if r.phase != PhaseIdle {
		r.mu.Unlock()
		return protocol.NewError(protocol.CodeSSHCommandFailed, "invalid-phase", fmt.Sprintf("connect requires idle phase, got %s", r.phase))
	}
	r.mu.Unlock()

	host, err := r.registry.ResolveHost(hostAlias)
	if err != nil {
		return protocol.NewError(protocol.CodeSSHConnectFailed, "unknown host alias", logutil.SanitizeForLog(hostAlias))
	}

	config := &ssh.ClientConfig{
		User: host.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(host.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         authTimeout,
	}

	addr := net.JoinHostPort(host.Host, fmt.Sprintf("%d", host.Port))

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		client, dialErr := ssh.Dial("tcp", addr, config)
		resultCh <- dialResult{client, dialErr}
	}()

	select {
	case <-connectCtx.Done():
		return protocol.NewError(protocol.CodeSSHConnectTimeout, "connect timed out", logutil.SanitizeForLog(addr))
	case res := <-resultCh:
		if res.err != nil {
			if isAuthError(res.err) {
				return protocol.NewError(protocol.CodeSSHAuthFailed, "authentication rejected", logutil.SanitizeForLog(hostAlias))
			}
			return protocol.NewError(protocol.CodeSSHConnectFailed, "connect failed", res.err.Error())
		}

		r.mu.Lock()
		r.client = res.client
		r.hostAlias = hostAlias
		r.phase = PhaseConnected
		r.mu.Unlock()
		return nil
	}
}

// isAuthError distinguishes a rejected-credentials handshake failure from
// a network/handshake-level connect failure. golang.org/x/crypto/ssh
// reports both as plain errors, so this matches on the message text the
// library uses for exhausted auth methods.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

// Close tears down the transport. Idempotent: calling it on an already
// closed or never-connected runner returns nil.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseClosed {
		return nil
	}
	r.phase = PhaseClosed

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

// requireConnected must be called with r.mu held.
func (r *Runner) requireConnected() error {
	if r.phase != PhaseConnected {
		return errNotConnected
	}
	return nil
}
