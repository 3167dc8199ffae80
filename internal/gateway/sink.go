package gateway

import (
	"context"

	"github.com/gluk-w/claworc/sshgate/internal/protocol"
)

// wsSink adapts one connection's WebSocket into an sshrunner.OutputSink.
// If a write fails — the client went away mid-stream — it cancels the
// task's own context so the runner stops reading instead of streaming
// into the void (spec.md §4.6).
type wsSink struct {
	ctx    context.Context
	cancel context.CancelFunc
	c      *conn
}

func (s *wsSink) Write(chunk string) error {
	err := s.c.writeJSON(s.ctx, protocol.OutputFrame{Type: protocol.TypeOutput, Data: chunk})
	if err != nil {
		s.cancel()
	}
	return err
}
