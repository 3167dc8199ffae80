package sshrunner

import (
	"context"
	"testing"

	"github.com/gluk-w/claworc/sshgate/internal/hostregistry"
)

func testRegistry(t *testing.T) *hostregistry.Registry {
	t.Helper()
	reg, err := hostregistry.New([]hostregistry.HostConfig{
		{Alias: "mdwap1p", Host: "127.0.0.1", Port: 1, Username: "u", Password: "p"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestNewRunnerStartsIdle(t *testing.T) {
	r := New(testRegistry(t))
	if r.Phase() != PhaseIdle {
		t.Fatalf("Phase = %s, want idle", r.Phase())
	}
}

func TestConnectUnknownAliasFails(t *testing.T) {
	r := New(testRegistry(t))
	err := r.Connect(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for unknown alias")
	}
	if r.Phase() != PhaseIdle {
		t.Fatalf("Phase after failed connect = %s, want idle", r.Phase())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New(testRegistry(t))
	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if r.Phase() != PhaseClosed {
		t.Fatalf("Phase = %s, want closed", r.Phase())
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	r := New(testRegistry(t))
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Connect(context.Background(), "mdwap1p"); err == nil {
		t.Fatal("expected connect to fail after close")
	}
}
