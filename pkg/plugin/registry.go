package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"pwnrelay/internal/config"

	"go.uber.org/zap"
)

// Registration priorities. When two plugins register under one name the
// higher priority is kept; on a tie the later registration replaces the
// earlier one.
const (
	PriorityDefault  = 0
	PriorityOverride = 100
)

// DefaultOrder is the startup order of plugins that do not set one
const DefaultOrder = 50

// ErrInvalidPlugin wraps every registration rejected by Register
var ErrInvalidPlugin = errors.New("invalid plugin registration")

// PluginInfo describes a plugin to the registry
type PluginInfo struct {
	Name        string
	Description string
	Priority    int
	Factory     Factory

	// Enabled reports whether the plugin should be created for cfg. A nil
	// Enabled always creates the plugin.
	Enabled func(cfg *config.Config) bool

	// Order sorts startup, lower first; Host stops plugins in reverse.
	Order int
}

func (p PluginInfo) enabledFor(ctx *Context) bool {
	if p.Enabled == nil || ctx == nil || ctx.Config == nil {
		return true
	}
	return p.Enabled(ctx.Config)
}

// Registry holds plugin registrations. Plugins register from init() in
// their own package; cmd creates them once configuration is known.
type Registry struct {
	mu      sync.RWMutex
	entries []PluginInfo
	logger  *zap.Logger
}

// NewRegistry creates an empty registry that logs nowhere until SetLogger
func NewRegistry() *Registry {
	return &Registry{logger: zap.NewNop()}
}

// SetLogger sets the logger used by CreateAll
func (r *Registry) SetLogger(logger *zap.Logger) {
	r.mu.Lock()
	r.logger = logger.Named("plugins")
	r.mu.Unlock()
}

func (r *Registry) indexOf(name string) int {
	for i, e := range r.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Register adds info, or replaces a registration of the same name with
// equal or lower priority. A lower-priority duplicate is ignored.
func (r *Registry) Register(info PluginInfo) error {
	switch {
	case info.Name == "":
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidPlugin)
	case info.Factory == nil:
		return fmt.Errorf("%w: plugin %s: factory cannot be nil", ErrInvalidPlugin, info.Name)
	}
	if info.Order == 0 {
		info.Order = DefaultOrder
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(info.Name)
	switch {
	case i < 0:
		r.entries = append(r.entries, info)
	case info.Priority >= r.entries[i].Priority:
		r.entries[i] = info
	}
	return nil
}

// Get returns a copy of the registration for name, or nil
func (r *Registry) Get(name string) *PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(name); i >= 0 {
		info := r.entries[i]
		return &info
	}
	return nil
}

// List returns the registrations in startup order, ties broken by name
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	list := append([]PluginInfo(nil), r.entries...)
	r.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Clear drops every registration
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// CreateAll runs the factory of every plugin enabled for ctx.Config, in
// startup order. If a factory fails, the plugins already created are
// stopped in reverse order and the error is returned.
func (r *Registry) CreateAll(ctx *Context) ([]Plugin, error) {
	r.mu.RLock()
	logger := r.logger
	r.mu.RUnlock()

	var created []Plugin
	for _, info := range r.List() {
		if !info.enabledFor(ctx) {
			logger.Info("Plugin disabled by configuration", zap.String("plugin", info.Name))
			continue
		}

		p, err := info.Factory(ctx)
		if err != nil {
			for i := len(created) - 1; i >= 0; i-- {
				created[i].Stop()
			}
			return nil, fmt.Errorf("failed to create plugin %s: %w", info.Name, err)
		}

		logger.Info("Plugin created",
			zap.String("plugin", info.Name),
			zap.Int("order", info.Order),
			zap.Int("priority", info.Priority))
		created = append(created, p)
	}
	return created, nil
}

var global = NewRegistry()

// Register adds a plugin to the process-wide registry
func Register(info PluginInfo) error { return global.Register(info) }

// CreateAll creates the enabled plugins of the process-wide registry
func CreateAll(ctx *Context) ([]Plugin, error) { return global.CreateAll(ctx) }

// SetLogger sets the process-wide registry's logger
func SetLogger(logger *zap.Logger) { global.SetLogger(logger) }

// Registered returns the names in the process-wide registry
func Registered() []string { return global.Names() }

// ClearGlobal empties the process-wide registry
func ClearGlobal() { global.Clear() }
