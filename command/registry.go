package command

import "strings"

// Registry is the name-keyed table of command descriptors. Registration
// happens once at startup; after Seal the table is read-only and lookup
// is allocation-free.
type Registry struct {
	table  map[string]*Descriptor
	sealed bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{table: make(map[string]*Descriptor)}
}

// Register adds a descriptor. It panics when called after Seal or when
// the name is already taken; both are startup programming errors.
func (r *Registry) Register(d *Descriptor) *Registry {
	if r.sealed {
		panic("command registry is sealed")
	}
	name := strings.ToUpper(d.name)
	if _, ok := r.table[name]; ok {
		panic("duplicate command registration: " + name)
	}
	r.table[name] = d
	return r
}

// Seal freezes the table
func (r *Registry) Seal() {
	r.sealed = true
}

// Find returns the descriptor for an upper-case command name, or nil
func (r *Registry) Find(name string) *Descriptor {
	return r.table[name]
}

// Traverse visits every descriptor in unspecified order
func (r *Registry) Traverse(fn func(name string, d *Descriptor)) {
	for name, d := range r.table {
		fn(name, d)
	}
}
