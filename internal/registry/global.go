package registry

import (
	"reflect"
	"sync"
)

// Param is one indexed parameter object a Global advertises, addressed by
// an owning object id (spec.md §4.7 Enum/subscribe params). The payload is
// left as an opaque value — encoding it onto the wire is internal/wire's
// job.
type Param struct {
	ObjectID uint32
	Index    uint32
	Data     any
}

// Global is a process-wide registry entry representing a domain object
// (core, module, client, factory, endpoint, session — spec.md §3 Global).
// Multiple clients may hold Resources bound to one Global; Bind creates
// such a resource.
type Global struct {
	ID      uint32
	Type    string
	Version uint32

	mu         sync.Mutex
	params     []Param
	boundTo    []*Resource // resources bound against this global, for notification fan-out
	changeMask uint64
}

// NewGlobal constructs an empty global of the given type/version.
func NewGlobal(id uint32, typ string, version uint32) *Global {
	return &Global{ID: id, Type: typ, Version: version}
}

// Bind records that res is now bound to g, so future param/info updates
// fan out to it (spec.md §3 Bind).
func (g *Global) Bind(res *Resource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.boundTo = append(g.boundTo, res)
}

// Unbind removes res from the global's notification fan-out list.
// Client.Destroy and Client.Free do not call it; a resource stays on the
// list until Unbind is called for it.
func (g *Global) Unbind(res *Resource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, r := range g.boundTo {
		if r == res {
			g.boundTo = append(g.boundTo[:i], g.boundTo[i+1:]...)
			return
		}
	}
}

// ParamFilter decides whether an enumerated Param should be emitted.
type ParamFilter func(Param) bool

// EnumParams implements spec.md §4.7 enum_params(id, start, num, filter):
// walks params[start:], keeps entries whose ObjectID equals id and which
// pass filter, and calls emit for up to num of them. Returns the number
// emitted. A nil filter passes everything, matching the §8 round-trip law
// "Param enumerate with filter=nil visits every stored param exactly once
// in index order."
func (g *Global) EnumParams(objectID uint32, start, num int, filter ParamFilter, emit func(Param)) int {
	g.mu.Lock()
	params := append([]Param(nil), g.params...)
	g.mu.Unlock()

	emitted := 0
	for i := start; i < len(params) && emitted < num; i++ {
		p := params[i]
		if p.ObjectID != objectID {
			continue
		}
		if filter != nil && !filter(p) {
			continue
		}
		emit(p)
		emitted++
	}
	return emitted
}

// UpdateParams replaces the global's param list and notifies every bound
// resource subscribed to a changed param's object id (spec.md §4.7 Update
// semantics: "the old params are freed, the new list is installed, and
// every changed index triggers notification").
func (g *Global) UpdateParams(newParams []Param, notify func(res *Resource, p Param)) {
	g.mu.Lock()
	old := g.params
	g.params = append([]Param(nil), newParams...)
	boundTo := append([]*Resource(nil), g.boundTo...)
	g.mu.Unlock()

	changedIdx := changedIndices(old, g.params)
	for _, idx := range changedIdx {
		p := g.params[idx]
		for _, res := range boundTo {
			if res.subscribedTo(p.ObjectID) {
				notify(res, p)
			}
		}
	}
}

func changedIndices(old, new []Param) []int {
	n := len(old)
	if len(new) > n {
		n = len(new)
	}
	var out []int
	for i := 0; i < n; i++ {
		var o, nw Param
		if i < len(old) {
			o = old[i]
		}
		if i < len(new) {
			nw = new[i]
		}
		if !reflect.DeepEqual(o, nw) {
			out = append(out, i)
		}
	}
	return out
}

// SetChangeMask ORs bits into the global's pending info-change mask
// (spec.md §4.7 Update semantics: "For info updates, fields change only
// when their individual change-bit is set").
func (g *Global) SetChangeMask(bits uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.changeMask |= bits
}

// ChangeMask returns the pending info-change mask.
func (g *Global) ChangeMask() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changeMask
}

// EmitInfo calls emit once per bound resource with the current change
// mask, then clears it — "change_mask immediately cleared on the owner
// after emission to avoid accidental re-emission on later bind" (spec.md
// §4.7).
func (g *Global) EmitInfo(emit func(res *Resource, changeMask uint64)) {
	g.mu.Lock()
	mask := g.changeMask
	boundTo := append([]*Resource(nil), g.boundTo...)
	g.changeMask = 0
	g.mu.Unlock()

	for _, res := range boundTo {
		emit(res, mask)
	}
}
