package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissionDenial(t *testing.T) {
	// spec.md §8 scenario 5: resource has R|X, method requires W -> denied.
	client := NewClient()
	iface := &Interface{Name: "test", Methods: []MethodDef{{RequiredPermissions: PermWrite}}}
	res := client.NewResource(iface, PermRead|PermExecute, 1)

	method, err := iface.Method(0)
	require.NoError(t, err)

	err = CheckPermission(res, method)
	require.Error(t, err)
}

func TestPermissionGrantedWithExecuteImplied(t *testing.T) {
	client := NewClient()
	iface := &Interface{Name: "test", Methods: []MethodDef{{RequiredPermissions: PermRead}}}
	res := client.NewResource(iface, PermRead|PermExecute, 1)

	method, _ := iface.Method(0)
	require.NoError(t, CheckPermission(res, method))
}

func TestOpcodeOutOfRangeIsProtocolFatal(t *testing.T) {
	iface := &Interface{Name: "test", Methods: []MethodDef{{}}}
	_, err := iface.Method(5)
	require.Error(t, err)
}

func TestEnumParamsVisitsEachOnceInOrderWithNilFilter(t *testing.T) {
	g := NewGlobal(1, "node", 1)
	g.UpdateParams([]Param{
		{ObjectID: 1, Index: 0, Data: "a"},
		{ObjectID: 1, Index: 1, Data: "b"},
		{ObjectID: 2, Index: 2, Data: "other-object"},
		{ObjectID: 1, Index: 3, Data: "c"},
	}, func(*Resource, Param) {})

	var seen []Param
	n := g.EnumParams(1, 0, 100, nil, func(p Param) { seen = append(seen, p) })
	require.Equal(t, 3, n)
	require.Equal(t, []uint32{0, 1, 3}, []uint32{seen[0].Index, seen[1].Index, seen[2].Index})
}

func TestUpdateParamsNotifiesOnlySubscribedResources(t *testing.T) {
	g := NewGlobal(1, "node", 1)
	client := NewClient()
	iface := &Interface{Name: "node"}
	subscribed := client.NewResource(iface, PermRead|PermExecute, g.ID)
	unsubscribed := client.NewResource(iface, PermRead|PermExecute, g.ID)

	g.Bind(subscribed)
	g.Bind(unsubscribed)
	subscribed.SubscribeParams([]uint32{1})

	var notified []uint32
	g.UpdateParams([]Param{{ObjectID: 1, Index: 0, Data: "x"}}, func(res *Resource, p Param) {
		notified = append(notified, res.ID)
	})

	require.Equal(t, []uint32{subscribed.ID}, notified)
}

func TestEmitInfoClearsChangeMask(t *testing.T) {
	g := NewGlobal(1, "node", 1)
	g.SetChangeMask(0b101)
	require.Equal(t, uint64(0b101), g.ChangeMask())

	g.EmitInfo(func(*Resource, uint64) {})
	require.Equal(t, uint64(0), g.ChangeMask())
}
