package sshrunner

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/sshgate/internal/protocol"
)

const (
	ptyType = "xterm-256color"
	ptyRows = 24
	ptyCols = 80
)

var ptyModes = ssh.TerminalModes{
	ssh.ECHO:          1,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
}

type readResult struct {
	data []byte
	err  error
}

// RunInteractive allocates a PTY, runs command inside it, and streams
// throttled output to sink until the stop phrase appears in the output
// (committed lines plus the current partial line), the remote channel
// closes, or ctx is cancelled (spec.md §4.3).
func (r *Runner) RunInteractive(ctx context.Context, command, stopPhrase string, sink OutputSink) (Outcome, error) {
	r.mu.Lock()
	if err := r.requireConnected(); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.phase = PhaseStreaming
	client := r.client
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.phase == PhaseStreaming {
			r.phase = PhaseConnected
		}
		r.mu.Unlock()
	}()

	session, err := client.NewSession()
	if err != nil {
		return "", protocol.NewError(protocol.CodeSSHCommandFailed, "create session failed", err.Error())
	}
	defer session.Close()

	if err := session.RequestPty(ptyType, ptyRows, ptyCols, ptyModes); err != nil {
		return "", protocol.NewError(protocol.CodeSSHCommandFailed, "request pty failed", err.Error())
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return "", protocol.NewError(protocol.CodeSSHCommandFailed, "stdin pipe failed", err.Error())
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return "", protocol.NewError(protocol.CodeSSHCommandFailed, "stdout pipe failed", err.Error())
	}

	if err := session.Shell(); err != nil {
		return "", protocol.NewError(protocol.CodeSSHCommandFailed, "start shell failed", err.Error())
	}

	if _, err := fmt.Fprintf(stdin, "%s\n", command); err != nil {
		return "", protocol.NewError(protocol.CodeSSHCommandFailed, "write command failed", err.Error())
	}

	readCh := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			chunk := append([]byte(nil), buf[:n]...)
			readCh <- readResult{data: chunk, err: err}
			if err != nil {
				return
			}
		}
	}()

	acc := newAccumulator(stopPhrase)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() error {
		if acc.pendingSize() == 0 {
			return nil
		}
		return sink.Write(acc.takeFlush())
	}

	for {
		select {
		case <-ctx.Done():
			session.Close()
			return OutcomeCancelled, nil

		case res := <-readCh:
			if len(res.data) > 0 {
				acc.feed(res.data)
				if acc.pendingSize() >= r.flushBytes || acc.stopFound() {
					if err := flush(); err != nil {
						session.Close()
						return OutcomeCancelled, nil
					}
				}
			}
			if acc.stopFound() {
				session.Close()
				return OutcomeCompleted, nil
			}
			if res.err != nil {
				// Peer closed the channel: flush whatever remains and
				// treat the session end as completion.
				_ = flush()
				return OutcomeCompleted, nil
			}

		case <-ticker.C:
			if err := flush(); err != nil {
				session.Close()
				return OutcomeCancelled, nil
			}
		}
	}
}
