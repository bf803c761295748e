package script

import "sync"

// Registry is the process-wide digest-to-body table. EVAL inserts on
// successful compile; EVALSHA misses in the interpreter picked from the
// pool fall back to it. Insert-only in normal operation; SCRIPT FLUSH clears
// it.
type Registry struct {
	scripts sync.Map // sha -> body
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Insert stores a body under its digest
func (r *Registry) Insert(sha, body string) {
	r.scripts.Store(sha, body)
}

// Find resolves a digest to its body
func (r *Registry) Find(sha string) (string, bool) {
	v, ok := r.scripts.Load(sha)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Exists reports whether the digest is known
func (r *Registry) Exists(sha string) bool {
	_, ok := r.scripts.Load(sha)
	return ok
}

// Flush removes every stored script
func (r *Registry) Flush() {
	r.scripts.Range(func(key, _ interface{}) bool {
		r.scripts.Delete(key)
		return true
	})
}
