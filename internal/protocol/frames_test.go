package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeParsesSSHCommand(t *testing.T) {
	raw := `{"type":"ssh_command","data":{"server_name":"mdwap1p","command":"ls","stop_phrase":"PROMPT>"}}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypeSSHCommand {
		t.Fatalf("Type = %q, want %q", env.Type, TypeSSHCommand)
	}

	var data SSHCommandData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.ServerName != "mdwap1p" || data.Command != "ls" || data.StopPhrase != "PROMPT>" {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestNewErrorFrameRoundTrips(t *testing.T) {
	err := NewError(CodeSessionAlreadyActive, "session already active", "owner=abc")
	frame := NewErrorFrame(err)

	out, marshalErr := json.Marshal(frame)
	if marshalErr != nil {
		t.Fatalf("marshal: %v", marshalErr)
	}

	var decoded ErrorFrame
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Error.Code != CodeSessionAlreadyActive {
		t.Fatalf("Code = %v, want %v", decoded.Error.Code, CodeSessionAlreadyActive)
	}
	if decoded.Success {
		t.Fatal("Success should be false on an error frame")
	}
}

func TestStartSessionHasNoData(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"type":"start_session"}`), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != TypeStartSession {
		t.Fatalf("Type = %q, want %q", env.Type, TypeStartSession)
	}
	if len(env.Data) != 0 {
		t.Fatalf("expected empty Data, got %s", env.Data)
	}
}
