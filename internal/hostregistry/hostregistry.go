// Package hostregistry is the read-mostly table of configured SSH hosts
// and file-transfer recipes (spec.md §4.1).
//
// A Registry is built once at startup from a YAML document and never
// mutated afterward. Lookups are O(1) map reads; a missing alias or
// recipe name is a domain error returned to the caller, never a panic.
package hostregistry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HostConfig describes a single registered SSH endpoint.
type HostConfig struct {
	Alias    string `yaml:"alias"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TransferRecipe describes a named server-to-server file copy.
type TransferRecipe struct {
	Name           string `yaml:"name"`
	SourceAlias    string `yaml:"source_alias"`
	SourcePathGlob string `yaml:"source_path_glob"`
	DestAlias      string `yaml:"destination_alias"`
	DestPath       string `yaml:"destination_path"`
}

// document is the on-disk shape of the YAML hosts file.
type document struct {
	Hosts     []HostConfig     `yaml:"hosts"`
	Transfers []TransferRecipe `yaml:"transfers"`
}

// ErrNotFound is returned by Resolve* when the alias or recipe name is
// not registered.
type ErrNotFound struct {
	Kind string // "host" or "transfer"
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Registry is the immutable, process-lifetime host/recipe table.
type Registry struct {
	hosts     map[string]HostConfig
	transfers map[string]TransferRecipe
	hostList  []HostConfig
}

// Load reads and validates a YAML hosts document from path. Invalid
// entries (duplicate alias, empty host, out-of-range port, a transfer
// recipe whose alias does not resolve) fail construction — invalid
// configuration is a startup failure, never a runtime surprise.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hosts file %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse hosts file %s: %w", path, err)
	}

	return build(doc.Hosts, doc.Transfers)
}

// New builds a Registry directly from in-memory slices, primarily for
// tests that don't want to round-trip through a YAML file.
func New(hosts []HostConfig, transfers []TransferRecipe) (*Registry, error) {
	return build(hosts, transfers)
}

func build(hosts []HostConfig, transfers []TransferRecipe) (*Registry, error) {
	r := &Registry{
		hosts:     make(map[string]HostConfig, len(hosts)),
		transfers: make(map[string]TransferRecipe, len(transfers)),
		hostList:  make([]HostConfig, 0, len(hosts)),
	}

	for _, h := range hosts {
		if h.Alias == "" {
			return nil, fmt.Errorf("host config with empty alias")
		}
		if _, dup := r.hosts[h.Alias]; dup {
			return nil, fmt.Errorf("duplicate host alias %q", h.Alias)
		}
		if h.Host == "" {
			return nil, fmt.Errorf("host %q: empty host", h.Alias)
		}
		if h.Port < 1 || h.Port > 65535 {
			return nil, fmt.Errorf("host %q: port %d out of range 1..65535", h.Alias, h.Port)
		}
		r.hosts[h.Alias] = h
		r.hostList = append(r.hostList, h)
	}

	for _, t := range transfers {
		if t.Name == "" {
			return nil, fmt.Errorf("transfer recipe with empty name")
		}
		if _, dup := r.transfers[t.Name]; dup {
			return nil, fmt.Errorf("duplicate transfer recipe %q", t.Name)
		}
		if _, ok := r.hosts[t.SourceAlias]; !ok {
			return nil, fmt.Errorf("transfer %q: source alias %q not registered", t.Name, t.SourceAlias)
		}
		if _, ok := r.hosts[t.DestAlias]; !ok {
			return nil, fmt.Errorf("transfer %q: destination alias %q not registered", t.Name, t.DestAlias)
		}
		r.transfers[t.Name] = t
	}

	return r, nil
}

// ResolveHost looks up a host by alias.
func (r *Registry) ResolveHost(alias string) (HostConfig, error) {
	h, ok := r.hosts[alias]
	if !ok {
		return HostConfig{}, &ErrNotFound{Kind: "host", Name: alias}
	}
	return h, nil
}

// ResolveTransfer looks up a transfer recipe by name.
func (r *Registry) ResolveTransfer(name string) (TransferRecipe, error) {
	t, ok := r.transfers[name]
	if !ok {
		return TransferRecipe{}, &ErrNotFound{Kind: "transfer", Name: name}
	}
	return t, nil
}

// AllHosts returns every registered host, in the order they were loaded.
func (r *Registry) AllHosts() []HostConfig {
	out := make([]HostConfig, len(r.hostList))
	copy(out, r.hostList)
	return out
}
