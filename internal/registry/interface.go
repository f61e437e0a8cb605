// Package registry implements the per-client resource table and the
// process-wide global-object table the protocol server dispatches
// against: interface vtables, permission enforcement, and param
// enumeration/subscription/update notification. See spec.md §3
// (Resource, Global), §4.7.
package registry

import "fmt"

// Permission is a bitmask over the three permission bits a resource can
// carry (spec.md §3 Resource).
type Permission uint32

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExecute
)

// Has reports whether p grants every bit set in want.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// MethodDef describes one callable method slot in an interface's vtable:
// the permission bits a caller must hold (execute is always additionally
// required, spec.md §4.6 Dispatch) and the function that demarshals a
// frame's payload and invokes the domain handler.
type MethodDef struct {
	RequiredPermissions Permission
	Demarshal           func(res *Resource, payload []byte, fds []int) error
}

// EventDef describes one emittable event slot: the marshaller builds a
// frame for proxies subscribed to it, the demarshaller is used on the
// (rare) resource-as-proxy side (spec.md §4.7).
type EventDef struct {
	Name string
}

// Interface is a static, name-keyed vtable: a fixed set of methods and
// events, shared by every resource bound against it (spec.md §9 Global
// dispatch tables: "prefer a sum type keyed by interface id with
// per-variant method/event tables, looked up once at bind time").
type Interface struct {
	Name    string
	Version uint32
	Methods []MethodDef
	Events  []EventDef
}

// MethodCount returns the number of callable methods, used by dispatch to
// bounds-check an incoming opcode (spec.md §4.6).
func (i *Interface) MethodCount() int { return len(i.Methods) }

// Method returns the MethodDef for opcode, or an error if opcode is out of
// range — spec.md §4.6: "If opcode exceeds the resource's interface's
// method count, emit INVAL ... and destroy the client (protocol-fatal)."
func (i *Interface) Method(opcode uint32) (MethodDef, error) {
	if int(opcode) >= len(i.Methods) {
		return MethodDef{}, fmt.Errorf("registry: opcode %d exceeds %s method count %d", opcode, i.Name, len(i.Methods))
	}
	return i.Methods[opcode], nil
}
