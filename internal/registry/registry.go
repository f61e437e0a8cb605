package registry

import "sync"

// Registry is the single, process-wide owner of every Global and
// Interface, threaded through dispatch as a context handle (spec.md §9
// Global mutable state: "model it as a single owner holding all such
// tables and threading a context handle through all calls"). Mutated only
// from the main loop (spec.md §5).
type Registry struct {
	mu      sync.Mutex
	globals map[uint32]*Global
	nextID  uint32

	ifaces map[string]*Interface
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		globals: make(map[uint32]*Global),
		ifaces:  make(map[string]*Interface),
	}
}

// RegisterInterface installs a named, versioned vtable, looked up once at
// bind time (spec.md §9 Global dispatch tables).
func (r *Registry) RegisterInterface(iface *Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ifaces[iface.Name] = iface
}

// Interface looks up a previously registered interface by name.
func (r *Registry) Interface(name string) (*Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.ifaces[name]
	return i, ok
}

// AddGlobal allocates a fresh process-wide id and registers a new global
// of the given type/version.
func (r *Registry) AddGlobal(typ string, version uint32) *Global {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	g := NewGlobal(r.nextID, typ, version)
	r.globals[g.ID] = g
	return g
}

// Global looks up a global by its process-wide id.
func (r *Registry) Global(id uint32) (*Global, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.globals[id]
	return g, ok
}

// RemoveGlobal drops a global from the registry (e.g. when its owning
// module unloads). Existing bound resources are left for their owning
// clients to clean up on disconnect.
func (r *Registry) RemoveGlobal(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.globals, id)
}

// Bind creates a resource on client against global g's interface iface,
// with the given permissions — spec.md §3 Resource: "created by bind on a
// global object". If snapshot is non-nil it is called with the new
// resource, so the caller can hand it g's current state (SPEC_FULL.md §4
// bind-time property carry-over); Bind itself copies no params or
// properties onto the resource.
func (r *Registry) Bind(client *Client, g *Global, iface *Interface, perms Permission, snapshot func(*Resource)) *Resource {
	res := client.NewResource(iface, perms, g.ID)
	g.Bind(res)
	if snapshot != nil {
		snapshot(res)
	}
	return res
}
