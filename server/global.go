package server

import (
	"github.com/bnema/wayrt/protocol"
)

// Binder instantiates an advertisement for one peer. It receives the
// freshly created resource (session, id and negotiated version already
// set), attaches its domain object and sends the initial state burst.
type Binder interface {
	Bind(r *Resource) error
}

// BindFunc adapts a function to Binder.
type BindFunc func(r *Resource) error

func (f BindFunc) Bind(r *Resource) error {
	return f(r)
}

// GlobalHandle is a generation-checked reference to a Global. A handle
// outlives the global it names: once the global is finally removed the
// handle simply stops resolving.
type GlobalHandle struct {
	index      uint32
	generation uint32
}

// IsZero reports whether the handle was never assigned.
func (h GlobalHandle) IsZero() bool {
	return h.generation == 0
}

// Global is an advertised capability.
type Global struct {
	display   *Display
	handle    GlobalHandle
	name      uint32
	iface     protocol.Interface
	binder    Binder
	published bool
	resources []*Resource
}

// Handle returns the global's weak handle.
func (g *Global) Handle() GlobalHandle {
	return g.handle
}

// Name returns the numeric name announced in wl_registry.global.
func (g *Global) Name() uint32 {
	return g.name
}

// Interface returns the interface and the advertised version ceiling.
func (g *Global) Interface() protocol.Interface {
	return g.iface
}

// Published reports whether the global is still discoverable. An
// unpublished global stays bindable until its grace window expires.
func (g *Global) Published() bool {
	return g.published
}

// Resources returns a snapshot of the resources bound from this global.
func (g *Global) Resources() []*Resource {
	out := make([]*Resource, len(g.resources))
	copy(out, g.resources)
	return out
}

// ForEachResource calls fn for every bound resource. fn may destroy
// resources; iteration runs over a snapshot.
func (g *Global) ForEachResource(fn func(*Resource)) {
	for _, r := range g.Resources() {
		if !r.Destroyed() {
			fn(r)
		}
	}
}

func (g *Global) addResource(r *Resource) {
	g.resources = append(g.resources, r)
}

func (g *Global) removeResource(r *Resource) {
	for i, res := range g.resources {
		if res == r {
			g.resources = append(g.resources[:i], g.resources[i+1:]...)
			return
		}
	}
}

type globalSlot struct {
	generation uint32
	global     *Global
}

// globalArena owns every Global. Slots are reused; the generation of a
// slot is bumped on reuse so stale handles never resolve to a newcomer.
type globalArena struct {
	slots []globalSlot
	free  []uint32
}

func (a *globalArena) insert(g *Global) GlobalHandle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, globalSlot{})
	}

	slot := &a.slots[index]
	slot.generation++
	slot.global = g
	return GlobalHandle{index: index, generation: slot.generation}
}

func (a *globalArena) get(h GlobalHandle) (*Global, bool) {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil, false
	}
	slot := a.slots[h.index]
	if slot.generation != h.generation || slot.global == nil {
		return nil, false
	}
	return slot.global, true
}

func (a *globalArena) remove(h GlobalHandle) (*Global, bool) {
	g, ok := a.get(h)
	if !ok {
		return nil, false
	}
	a.slots[h.index].global = nil
	a.free = append(a.free, h.index)
	return g, true
}

func (a *globalArena) all() []*Global {
	var out []*Global
	for _, slot := range a.slots {
		if slot.global != nil {
			out = append(out, slot.global)
		}
	}
	return out
}
