package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/parityleague/league/internal/log"
)

// ToolDescriptor is a discovered remote capability. The namespaced name
// ("server.tool") is the unique registry key; it cannot collide across
// servers by construction.
type ToolDescriptor struct {
	ServerName  string
	Name        string
	Namespaced  string
	Description string
	InputSchema *jsonschema.Schema
}

// Split breaks a possibly-qualified tool name into server and raw parts.
// An unqualified name returns an empty server.
func Split(name string) (server, tool string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// ToolRegistry is the catalog of namespaced tool descriptors discovered
// across servers. Updates are whole-value swaps under the write lock, so
// readers never observe a half-updated descriptor.
type ToolRegistry struct {
	logger log.Logger

	mu    sync.RWMutex
	tools map[string]ToolDescriptor // keyed by namespaced name
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry(logger log.Logger) *ToolRegistry {
	return &ToolRegistry{
		logger: logger,
		tools:  make(map[string]ToolDescriptor),
	}
}

// Register stores the descriptor under its namespaced name. Re-registering
// identical content is a no-op; differing content overwrites (a discovery
// refresh) and is logged.
func (r *ToolRegistry) Register(d ToolDescriptor) error {
	if d.ServerName == "" || d.Name == "" {
		return fmt.Errorf("%w: descriptor requires server and tool name", ErrToolNotFound)
	}
	d.Namespaced = d.ServerName + "." + d.Name

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[d.Namespaced]; ok {
		if sameDescriptor(existing, d) {
			return nil
		}
		r.logger.Info("tool descriptor refreshed", "tool", d.Namespaced)
	}
	r.tools[d.Namespaced] = d
	return nil
}

func sameDescriptor(a, b ToolDescriptor) bool {
	if a.Description != b.Description {
		return false
	}
	// Schemas compare by canonical JSON; the jsonschema type is not
	// directly comparable.
	as, errA := json.Marshal(a.InputSchema)
	bs, errB := json.Marshal(b.InputSchema)
	if errA != nil || errB != nil {
		return false
	}
	return string(as) == string(bs)
}

// Resolve maps a tool name to its descriptor. A qualified name
// ("server.tool") is looked up directly. An unqualified name is searched
// across all servers: exactly one match resolves; zero matches return
// ErrToolNotFound; several matches return ErrAmbiguousTool. The registry
// never silently picks a server.
func (r *ToolRegistry) Resolve(name string) (ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if server, _ := Split(name); server != "" {
		d, ok := r.tools[name]
		if !ok {
			return ToolDescriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		return d, nil
	}

	var matches []ToolDescriptor
	for _, d := range r.tools {
		if d.Name == name {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return ToolDescriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	case 1:
		return matches[0], nil
	default:
		servers := make([]string, len(matches))
		for i, d := range matches {
			servers[i] = d.ServerName
		}
		sort.Strings(servers)
		return ToolDescriptor{}, fmt.Errorf("%w: %q offered by %s",
			ErrAmbiguousTool, name, strings.Join(servers, ", "))
	}
}

// List returns all descriptors, optionally filtered by server name, sorted
// by namespaced name.
func (r *ToolRegistry) List(serverName string) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, d := range r.tools {
		if serverName == "" || d.ServerName == serverName {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespaced < out[j].Namespaced })
	return out
}

// DropServer removes every descriptor owned by the server. Called when its
// session closes.
func (r *ToolRegistry) DropServer(serverName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, d := range r.tools {
		if d.ServerName == serverName {
			delete(r.tools, key)
		}
	}
}
