package migration

import (
	"fmt"
	"slices"
)

// Registry is the ordered list of steps for one storage domain. Later
// steps may assume that earlier steps have run.
type Registry struct {
	domain string
	steps  []Step
	index  map[string]int
}

// NewRegistry builds a registry. It panics on an unnamed step, a step
// without an action, or a duplicate name, since those are programming
// errors in the step tables.
func NewRegistry(domain string, steps ...Step) *Registry {
	r := &Registry{
		domain: domain,
		index:  make(map[string]int, len(steps)),
	}
	for _, step := range steps {
		r.register(step)
	}
	return r
}

func (r *Registry) register(step Step) {
	if step.Name == "" {
		panic(fmt.Sprintf("migration: unnamed step in domain %s", r.domain))
	}
	if step.Up == nil {
		panic(fmt.Sprintf("migration: step %s/%s has no action", r.domain, step.Name))
	}
	if _, dup := r.index[step.Name]; dup {
		panic(fmt.Sprintf("migration: duplicate step %s/%s", r.domain, step.Name))
	}
	r.index[step.Name] = len(r.steps)
	r.steps = append(r.steps, step)
}

// Domain returns the storage domain the steps belong to.
func (r *Registry) Domain() string {
	return r.domain
}

// Steps returns the steps in registration order.
func (r *Registry) Steps() []Step {
	return slices.Clone(r.steps)
}

// Lookup finds a step by name.
func (r *Registry) Lookup(name string) (Step, bool) {
	i, ok := r.index[name]
	if !ok {
		return Step{}, false
	}
	return r.steps[i], true
}
