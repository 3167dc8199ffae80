// Package protocol defines the JSON frame schemas exchanged over the
// gateway's WebSocket endpoint and the error code table (spec.md §6).
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound frame types.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeSSHCommand   = "ssh_command"
	TypeSCPTransfer  = "scp_transfer"
)

// Outbound frame types.
const (
	TypeWelcome        = "welcome"
	TypeOutput         = "output"
	TypeComplete       = "complete"
	TypeError          = "error"
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypeServerHealth   = "server_health"
	TypeLockStatus     = "lock_status"
)

// Envelope is the generic shape every inbound frame is first parsed into,
// so the dispatcher can branch on Type before decoding Data into the
// type-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SSHCommandData is the payload of an ssh_command frame.
type SSHCommandData struct {
	ServerName string `json:"server_name"`
	Command    string `json:"command"`
	StopPhrase string `json:"stop_phrase"`
}

// SCPTransferData is the payload of a scp_transfer frame.
type SCPTransferData struct {
	TransferName string `json:"transfer_name"`
}

// LockStatus reports the Session Lock's state for welcome/broadcast frames.
type LockStatus struct {
	Locked    bool   `json:"locked"`
	LockOwner string `json:"lock_owner,omitempty"`
}

// SessionStatus mirrors LockStatus under the name the welcome frame's
// session_status field uses.
type SessionStatus struct {
	Active bool   `json:"active"`
	Owner  string `json:"owner,omitempty"`
}

// HealthSnapshot is the wire shape of one host's health (spec.md §6).
type HealthSnapshot struct {
	ServerName           string    `json:"server_name"`
	Host                 string    `json:"host"`
	IsHealthy            bool      `json:"is_healthy"`
	LastChecked          time.Time `json:"last_checked"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
}

// WelcomeFrame is sent once, immediately after WebSocket accept.
type WelcomeFrame struct {
	Type          string                    `json:"type"`
	ConnectionID  string                    `json:"connection_id"`
	LockStatus    LockStatus                `json:"lock_status"`
	SessionStatus SessionStatus             `json:"session_status"`
	ServerHealth  map[string]HealthSnapshot `json:"server_health"`
}

// OutputFrame streams a chunk of accumulated shell or transfer output.
type OutputFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// CompleteFrame is the terminal frame for a task that ran to completion.
type CompleteFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorPayload is the nested body of an ErrorFrame.
type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorFrame is the terminal frame for a task or handler that failed.
type ErrorFrame struct {
	Type    string       `json:"type"`
	Success bool         `json:"success"`
	Error   ErrorPayload `json:"error"`
}

// NewErrorFrame builds an ErrorFrame from a protocol Error.
func NewErrorFrame(err *Error) ErrorFrame {
	return ErrorFrame{
		Type:    TypeError,
		Success: false,
		Error: ErrorPayload{
			Code:    err.Code,
			Message: err.Message,
			Detail:  err.Detail,
		},
	}
}

// SessionStartedFrame confirms a successful start_session.
type SessionStartedFrame struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	SessionOwner string `json:"session_owner"`
}

// SessionEndedFrame confirms a successful end_session.
type SessionEndedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// LockStatusFrame is sent on every session-lock acquire/release transition
// to every live connection except the one whose start_session, end_session
// or disconnect caused it, so UIs can enable or disable controls. The
// causing connection receives no lock_status frame for that transition;
// it gets session_started or session_ended instead, or is already gone.
type LockStatusFrame struct {
	Type      string `json:"type"`
	Locked    bool   `json:"locked"`
	LockOwner string `json:"lock_owner,omitempty"`
}

// ServerHealthFrame is broadcast on every host health transition.
type ServerHealthFrame struct {
	Type       string         `json:"type"`
	ServerName string         `json:"server_name"`
	IsHealthy  bool           `json:"is_healthy"`
	Status     HealthSnapshot `json:"status"`
}
