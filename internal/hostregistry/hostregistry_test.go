package hostregistry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.yaml")
	doc := `
hosts:
  - alias: web1
    host: 10.0.0.1
    port: 22
    username: deploy
    password: secret
  - alias: db1
    host: 10.0.0.2
    port: 22
    username: deploy
    password: secret
transfers:
  - name: nightly-backup
    source_alias: db1
    source_path_glob: /var/backups/*.sql
    destination_alias: web1
    destination_path: /srv/backups/
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	h, err := reg.ResolveHost("web1")
	if err != nil {
		t.Fatalf("ResolveHost: %v", err)
	}
	if h.Host != "10.0.0.1" || h.Port != 22 {
		t.Fatalf("unexpected host: %+v", h)
	}

	tr, err := reg.ResolveTransfer("nightly-backup")
	if err != nil {
		t.Fatalf("ResolveTransfer: %v", err)
	}
	if tr.SourceAlias != "db1" || tr.DestAlias != "web1" {
		t.Fatalf("unexpected transfer: %+v", tr)
	}

	if got := len(reg.AllHosts()); got != 2 {
		t.Fatalf("AllHosts len = %d, want 2", got)
	}
}

func TestResolveHostNotFound(t *testing.T) {
	reg, err := New([]HostConfig{{Alias: "web1", Host: "10.0.0.1", Port: 22}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.ResolveHost("missing")
	var nf *ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if nf.Kind != "host" {
		t.Fatalf("Kind = %q, want host", nf.Kind)
	}
}

func TestResolveTransferNotFound(t *testing.T) {
	reg, err := New([]HostConfig{{Alias: "web1", Host: "10.0.0.1", Port: 22}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.ResolveTransfer("missing")
	var nf *ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if nf.Kind != "transfer" {
		t.Fatalf("Kind = %q, want transfer", nf.Kind)
	}
}

func TestBuildRejectsDuplicateAlias(t *testing.T) {
	_, err := New([]HostConfig{
		{Alias: "web1", Host: "10.0.0.1", Port: 22},
		{Alias: "web1", Host: "10.0.0.2", Port: 22},
	}, nil)
	if err == nil {
		t.Fatal("expected error for duplicate alias")
	}
}

func TestBuildRejectsEmptyHost(t *testing.T) {
	_, err := New([]HostConfig{{Alias: "web1", Host: "", Port: 22}}, nil)
	if err == nil {
		t.Fatal("expected error for empty host")
	}
}

func TestBuildRejectsInvalidPort(t *testing.T) {
	cases := []int{0, -1, 65536, 100000}
	for _, port := range cases {
		_, err := New([]HostConfig{{Alias: "web1", Host: "10.0.0.1", Port: port}}, nil)
		if err == nil {
			t.Fatalf("port %d: expected error", port)
		}
	}
}

func TestBuildRejectsTransferWithUnknownAlias(t *testing.T) {
	hosts := []HostConfig{{Alias: "web1", Host: "10.0.0.1", Port: 22}}

	_, err := New(hosts, []TransferRecipe{
		{Name: "bad", SourceAlias: "ghost", DestAlias: "web1"},
	})
	if err == nil {
		t.Fatal("expected error for unknown source alias")
	}

	_, err = New(hosts, []TransferRecipe{
		{Name: "bad", SourceAlias: "web1", DestAlias: "ghost"},
	})
	if err == nil {
		t.Fatal("expected error for unknown destination alias")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
