// Package registry resolves the opaque shared-object identifiers carried
// by the controller/worker message channel. One registry instance is
// process scoped per side; ids are allocated on register and dead after
// unregister, never reused within a process lifetime.
package registry

import (
	"errors"
	"fmt"
)

// ErrUnknownObject reports a lookup for an id never registered (or
// already unregistered).
var ErrUnknownObject = errors.New("registry: unknown object id")

// Registry maps opaque uint64 ids to shared objects. Allocation happens
// on the registering side; the receiving side resolves ids it is sent.
// Single goroutine per side, matching the channel's delivery model.
type Registry struct {
	next    uint64
	objects map[uint64]any
}

func New() *Registry {
	return &Registry{next: 1, objects: map[uint64]any{}}
}

// Register stores obj and returns its new id.
func (r *Registry) Register(obj any) uint64 {
	id := r.next
	r.next++
	r.objects[id] = obj
	return id
}

// Lookup resolves an id. Unknown ids are a protocol error, not a panic.
func (r *Registry) Lookup(id uint64) (any, error) {
	obj, ok := r.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownObject, id)
	}
	return obj, nil
}

// Unregister removes an id on object disposal.
func (r *Registry) Unregister(id uint64) {
	delete(r.objects, id)
}

// Len reports the number of registered objects.
func (r *Registry) Len() int {
	return len(r.objects)
}
