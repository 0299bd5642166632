package plugin

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Args carries a plugin's configuration values, already parsed out of the
// chain configuration. Plugins validate their own keys.
type Args map[string]string

// Get returns the value for key, or def if the key is absent.
func (a Args) Get(key, def string) string {
	if v, ok := a[key]; ok {
		return v
	}
	return def
}

// Factory builds a plugin instance from its configuration. The returned
// value must implement the role it was registered under.
type Factory func(args Args, log *slog.Logger) (Plugin, error)

type registry struct {
	mu         sync.RWMutex
	inputs     map[string]Factory
	processors map[string]Factory
	outputs    map[string]Factory
}

var reg = &registry{
	inputs:     make(map[string]Factory),
	processors: make(map[string]Factory),
	outputs:    make(map[string]Factory),
}

// RegisterInput registers an input plugin factory under name.
// Typically called from a plugin package's init.
func RegisterInput(name string, f Factory) { reg.register(reg.inputs, name, f) }

// RegisterProcessor registers a processor plugin factory under name.
func RegisterProcessor(name string, f Factory) { reg.register(reg.processors, name, f) }

// RegisterOutput registers an output plugin factory under name.
func RegisterOutput(name string, f Factory) { reg.register(reg.outputs, name, f) }

func (r *registry) register(m map[string]Factory, name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := m[name]; dup {
		panic(fmt.Sprintf("plugin: duplicate registration of %q", name))
	}
	m[name] = f
}

// NewInput instantiates the input plugin registered under name.
func NewInput(name string, args Args, log *slog.Logger) (Input, error) {
	p, err := reg.build(reg.inputs, "input", name, args, log)
	if err != nil {
		return nil, err
	}
	in, ok := p.(Input)
	if !ok {
		return nil, fmt.Errorf("plugin: %q is not an input plugin", name)
	}
	return in, nil
}

// NewProcessor instantiates the processor plugin registered under name.
func NewProcessor(name string, args Args, log *slog.Logger) (Processor, error) {
	p, err := reg.build(reg.processors, "processor", name, args, log)
	if err != nil {
		return nil, err
	}
	proc, ok := p.(Processor)
	if !ok {
		return nil, fmt.Errorf("plugin: %q is not a processor plugin", name)
	}
	return proc, nil
}

// NewOutput instantiates the output plugin registered under name.
func NewOutput(name string, args Args, log *slog.Logger) (Output, error) {
	p, err := reg.build(reg.outputs, "output", name, args, log)
	if err != nil {
		return nil, err
	}
	out, ok := p.(Output)
	if !ok {
		return nil, fmt.Errorf("plugin: %q is not an output plugin", name)
	}
	return out, nil
}

func (r *registry) build(m map[string]Factory, role, name string, args Args, log *slog.Logger) (Plugin, error) {
	r.mu.RLock()
	f, ok := m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown %s plugin %q (registered: %v)", role, name, names(m))
	}
	if log == nil {
		log = slog.Default()
	}
	return f(args, log.With("plugin", name))
}

func names(m map[string]Factory) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
