package scene

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/refract/engine/core"
)

var (
	ErrInvalidHandle = errors.New("invalid or released handle")
	ErrDuplicateName = errors.New("name already registered")
)

// Handle identifies a registry entry. The generation makes handles to a
// released slot invalid once the slot is reused.
type Handle struct {
	index      uint32
	generation uint32
}

// InvalidHandle is the zero Handle; no registry ever issues it.
var InvalidHandle = Handle{}

func (h Handle) Valid() bool {
	return h.generation != 0
}

func (h Handle) String() string {
	if !h.Valid() {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(%d:%d)", h.index, h.generation)
}

type entry[T any] struct {
	value      T
	name       string
	references uint32
	generation uint32
	live       bool
}

// Registry owns values shared between scene objects. Each value is
// destroyed when its last reference is released. A registry is not safe
// for concurrent use; the scene only touches it from the frame loop.
type Registry[T any] struct {
	kind    string
	entries []entry[T]
	free    []uint32
	lookup  map[string]Handle
	destroy func(T)
}

// NewRegistry creates a registry of kind values. destroy may be nil.
func NewRegistry[T any](kind string, destroy func(T)) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		lookup:  make(map[string]Handle),
		destroy: destroy,
	}
}

// Add stores value under name with one reference. An empty name gets a
// random one.
func (r *Registry[T]) Add(name string, value T) (Handle, error) {
	if name == "" {
		name = uuid.NewString()
	}
	if _, ok := r.lookup[name]; ok {
		err := fmt.Errorf("%s `%s`: %w", r.kind, name, ErrDuplicateName)
		core.LogWarn(err.Error())
		return InvalidHandle, err
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.entries))
		r.entries = append(r.entries, entry[T]{})
	}
	e := &r.entries[index]
	e.generation++
	e.value = value
	e.name = name
	e.references = 1
	e.live = true

	h := Handle{index: index, generation: e.generation}
	r.lookup[name] = h
	core.LogDebug("registered %s `%s` as %s", r.kind, name, h)
	return h, nil
}

func (r *Registry[T]) entry(h Handle) (*entry[T], error) {
	if !h.Valid() || int(h.index) >= len(r.entries) {
		return nil, fmt.Errorf("%s %s: %w", r.kind, h, ErrInvalidHandle)
	}
	e := &r.entries[h.index]
	if !e.live || e.generation != h.generation {
		return nil, fmt.Errorf("%s %s: %w", r.kind, h, ErrInvalidHandle)
	}
	return e, nil
}

// Get returns the value without taking a reference.
func (r *Registry[T]) Get(h Handle) (T, bool) {
	e, err := r.entry(h)
	if err != nil {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Acquire takes a reference to the value behind h.
func (r *Registry[T]) Acquire(h Handle) (T, error) {
	e, err := r.entry(h)
	if err != nil {
		core.LogWarn(err.Error())
		var zero T
		return zero, err
	}
	e.references++
	return e.value, nil
}

// AcquireByName takes a reference to the value registered as name.
func (r *Registry[T]) AcquireByName(name string) (Handle, T, error) {
	h, ok := r.lookup[name]
	if !ok {
		var zero T
		return InvalidHandle, zero, fmt.Errorf("%s `%s`: %w", r.kind, name, ErrInvalidHandle)
	}
	v, err := r.Acquire(h)
	return h, v, err
}

// Lookup finds the handle registered as name.
func (r *Registry[T]) Lookup(name string) (Handle, bool) {
	h, ok := r.lookup[name]
	return h, ok
}

func (r *Registry[T]) Name(h Handle) string {
	e, err := r.entry(h)
	if err != nil {
		return ""
	}
	return e.name
}

func (r *Registry[T]) References(h Handle) uint32 {
	e, err := r.entry(h)
	if err != nil {
		return 0
	}
	return e.references
}

// Release drops a reference. The last release destroys the value and
// frees its slot.
func (r *Registry[T]) Release(h Handle) error {
	e, err := r.entry(h)
	if err != nil {
		core.LogWarn("cannot release: %s", err)
		return err
	}
	e.references--
	if e.references > 0 {
		return nil
	}
	core.LogDebug("destroying %s `%s`", r.kind, e.name)
	r.drop(h.index)
	return nil
}

func (r *Registry[T]) drop(index uint32) {
	e := &r.entries[index]
	value := e.value
	delete(r.lookup, e.name)

	var zero T
	e.value = zero
	e.name = ""
	e.references = 0
	e.live = false
	r.free = append(r.free, index)

	if r.destroy != nil {
		r.destroy(value)
	}
}

func (r *Registry[T]) Len() int {
	return len(r.lookup)
}

// Clear destroys every live value regardless of its references.
func (r *Registry[T]) Clear() {
	for i := range r.entries {
		if r.entries[i].live {
			r.drop(uint32(i))
		}
	}
}
