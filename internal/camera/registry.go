package camera

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// PropertyHandler reads and writes property values on behalf of a registry.
// The registry validates names, kinds and access before calling it.
type PropertyHandler interface {
	GetProperty(name string) (Value, error)
	SetProperty(name string, v Value) error
}

// Registry maps property names to descriptors and forwards reads and writes
// to a handler. Discovered properties keep a cached value that is refreshed
// from the handler after every successful write.
type Registry struct {
	handler PropertyHandler

	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   []string
}

type registryEntry struct {
	desc   Descriptor
	cached bool
	value  Value
}

// NewRegistry returns a registry holding the common property table.
func NewRegistry(h PropertyHandler) *Registry {
	r := &Registry{
		handler: h,
		entries: make(map[string]*registryEntry, len(CommonProperties)),
	}
	for _, d := range CommonProperties {
		r.add(&registryEntry{desc: d})
	}
	return r
}

func (r *Registry) add(e *registryEntry) {
	r.entries[e.desc.Name] = e
	r.order = append(r.order, e.desc.Name)
}

// Register adds a backend-specific property.
func (r *Registry) Register(d Descriptor) error {
	return r.insert(&registryEntry{desc: d})
}

// RegisterDiscovered adds a property enumerated from hardware. Reads are
// served from the cached value.
func (r *Registry) RegisterDiscovered(p Discovered) error {
	if p.Value.Kind() != p.Kind {
		return fmt.Errorf("%w: %s initial value is %v, want %v", ErrInvalidProperty, p.Name, p.Value.Kind(), p.Kind)
	}
	return r.insert(&registryEntry{desc: p.Descriptor, cached: true, value: p.Value})
}

func (r *Registry) insert(e *registryEntry) error {
	if err := e.desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.desc.Name]; ok {
		return fmt.Errorf("%w: %s registered twice", ErrInvalidProperty, e.desc.Name)
	}
	r.add(e)
	return nil
}

// Describe returns the descriptor for name.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// List returns every descriptor in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

func (r *Registry) lookup(name string) (registryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return registryEntry{}, fmt.Errorf("%w: %q", ErrInvalidProperty, name)
	}
	return *e, nil
}

// Get reads a property.
func (r *Registry) Get(name string) (Value, error) {
	e, err := r.lookup(name)
	if err != nil {
		diagf("get: %v", err)
		return Value{}, err
	}
	if !e.desc.Access.Readable() {
		err := fmt.Errorf("%w: %s is write-only", ErrAccessViolation, name)
		diagf("get: %v", err)
		return Value{}, err
	}
	if e.cached {
		return e.value, nil
	}
	v, err := r.handler.GetProperty(name)
	if err != nil {
		diagf("get %s: %v", name, err)
		return Value{}, err
	}
	if v.Kind() != e.desc.Kind {
		err := fmt.Errorf("%w: %s returned %v, want %v", ErrInvalidProperty, name, v.Kind(), e.desc.Kind)
		diagf("get: %v", err)
		return Value{}, err
	}
	return v, nil
}

// Set writes a property. A discovered property is read back after the write
// and its cached value replaced by what the hardware reports.
func (r *Registry) Set(name string, v Value) error {
	e, err := r.lookup(name)
	if err != nil {
		diagf("set: %v", err)
		return err
	}
	if !e.desc.Access.Writable() {
		err := fmt.Errorf("%w: %s is read-only", ErrAccessViolation, name)
		diagf("set: %v", err)
		return err
	}
	if v.Kind() != e.desc.Kind {
		err := fmt.Errorf("%w: %s takes %v, got %v", ErrInvalidProperty, name, e.desc.Kind, v.Kind())
		diagf("set: %v", err)
		return err
	}
	if err := r.handler.SetProperty(name, v); err != nil {
		diagf("set %s=%v: %v", name, v, err)
		return err
	}
	if !e.cached {
		return nil
	}

	readBack, err := r.handler.GetProperty(name)
	if err != nil {
		diagf("read back %s: %v", name, err)
		return fmt.Errorf("read back %s: %w", name, err)
	}
	r.mu.Lock()
	r.entries[name].value = readBack
	r.mu.Unlock()
	return nil
}

// SetParsed converts raw to the property's kind and writes it.
func (r *Registry) SetParsed(name string, raw any) error {
	d, ok := r.Describe(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidProperty, name)
	}
	v, err := ParseValue(d.Kind, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return r.Set(name, v)
}

// Snapshot reads every readable property. Properties whose read fails are
// left out of the result.
func (r *Registry) Snapshot() map[string]Value {
	out := make(map[string]Value)
	for _, d := range r.List() {
		if !d.Access.Readable() {
			continue
		}
		v, err := r.Get(d.Name)
		if err != nil {
			continue
		}
		out[d.Name] = v
	}
	return out
}

// Apply writes a set of raw values in name order and reports every failure.
func (r *Registry) Apply(values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := r.SetParsed(name, values[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
