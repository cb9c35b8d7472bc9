package server

import (
	"sort"

	"github.com/bnema/wayrt/protocol"
)

// Advertise publishes a capability. version is the highest version peers
// may bind; binder instantiates it per peer.
func (d *Display) Advertise(iface string, version uint32, binder Binder) GlobalHandle {
	d.nextGlobalName++
	g := &Global{
		display:   d,
		name:      d.nextGlobalName,
		iface:     protocol.Interface{Name: iface, Version: version},
		binder:    binder,
		published: true,
	}
	g.handle = d.globals.insert(g)
	d.globalsByName[g.name] = g.handle

	d.log.Debug("Global advertised", "name", g.name, "interface", g.iface.String())
	d.observer.GlobalAdvertised(g)

	for _, reg := range d.liveRegistries() {
		if d.visible(reg.session, g) {
			sendGlobal(reg, g)
			reg.session.Flush()
		}
	}
	return g.handle
}

// Unadvertise withdraws a capability. The global disappears from
// discovery at once but stays bindable for the grace window, so bind
// requests already on the wire still succeed. Resources bound from it keep
// working. Calling it twice, or with a stale handle, does nothing.
func (d *Display) Unadvertise(h GlobalHandle) {
	g, ok := d.globals.get(h)
	if !ok || !g.published {
		return
	}
	g.published = false

	d.log.Debug("Global unpublished", "name", g.name, "interface", g.iface.Name, "grace", d.graceWindow)
	d.observer.GlobalWithdrawn(g)
	for _, reg := range d.liveRegistries() {
		if d.visible(reg.session, g) {
			reg.PostEvent(protocol.RegistryEventGlobalRemove, g.name)
			reg.session.Flush()
		}
	}

	// Capture the handle only: if the global is already gone when the
	// timer fires, freeGlobal finds nothing.
	timer := d.loop.NewTimer(func() { d.freeGlobal(h) })
	timer.Start(d.graceWindow)
}

// Global resolves a handle.
func (d *Display) Global(h GlobalHandle) (*Global, bool) {
	return d.globals.get(h)
}

// Globals returns every global not yet freed, published or not, ordered
// by name.
func (d *Display) Globals() []*Global {
	out := d.globals.all()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (d *Display) freeGlobal(h GlobalHandle) {
	g, ok := d.globals.remove(h)
	if !ok {
		return
	}
	delete(d.globalsByName, g.name)
	g.resources = nil
	d.log.Debug("Global freed", "name", g.name, "interface", g.iface.Name)
	d.observer.GlobalRemoved(g)
}

func (d *Display) visible(s *Session, g *Global) bool {
	return d.filter == nil || d.filter(s, g)
}

func (d *Display) liveRegistries() []*Resource {
	out := make([]*Resource, 0, len(d.registries))
	for _, r := range d.registries {
		if !r.destroyed && !r.session.destroyed {
			out = append(out, r)
		}
	}
	return out
}

func (d *Display) removeRegistry(r *Resource) {
	for i, reg := range d.registries {
		if reg == r {
			d.registries = append(d.registries[:i], d.registries[i+1:]...)
			return
		}
	}
}

func sendGlobal(reg *Resource, g *Global) {
	reg.PostEvent(protocol.RegistryEventGlobal, g.name, g.iface.Name, g.iface.Version)
}

// displayHandler implements wl_display.
type displayHandler struct {
	display *Display
}

func (h displayHandler) HandleRequest(r *Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case protocol.DisplaySync:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		cb, err := r.session.NewChild(r, id, protocol.CallbackInterface.Name, nil)
		if err != nil {
			return err
		}
		cb.PostEvent(protocol.CallbackEventDone, h.display.NextSerial())
		cb.Destroy()
		return nil

	case protocol.DisplayGetRegistry:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		reg, err := r.session.NewChild(r, id, protocol.RegistryInterface.Name, &registryHandler{display: h.display})
		if err != nil {
			return err
		}
		h.display.registries = append(h.display.registries, reg)
		for _, g := range h.display.Globals() {
			if g.published && h.display.visible(r.session, g) {
				sendGlobal(reg, g)
			}
		}
		return nil

	default:
		return UnknownOpcode(r, msg.Opcode)
	}
}

// registryHandler implements wl_registry.
type registryHandler struct {
	display *Display
}

func (h *registryHandler) HandleRequest(r *Resource, msg protocol.Message) error {
	if msg.Opcode != protocol.RegistryBind {
		return UnknownOpcode(r, msg.Opcode)
	}

	args := msg.Args.Reader()
	name := args.Uint()
	id := args.NewID()
	if err := args.Err(); err != nil {
		return err
	}
	return h.display.bind(r, name, id)
}

func (h *registryHandler) ResourceDestroyed(r *Resource) {
	h.display.removeRegistry(r)
}

// bind instantiates global name for the registry's session.
func (d *Display) bind(reg *Resource, name uint32, id protocol.NewID) error {
	s := reg.session

	handle, known := d.globalsByName[name]
	g, live := d.globals.get(handle)
	if !known || !live || !d.visible(s, g) {
		// The global was removed and its grace window has passed; the
		// peer raced the removal. Not an error.
		d.log.Debug("Dropping bind to unknown global", "session", s.id, "name", name, "interface", id.Interface)
		return nil
	}

	if id.Interface != g.iface.Name {
		return InvalidObject(reg, "invalid interface for global %d: have %s, wanted %s", name, id.Interface, g.iface.Name)
	}
	if id.Version == 0 || id.Version > g.iface.Version {
		return InvalidObject(reg, "invalid version for global %s (%d): have %d, wanted %d",
			g.iface.Name, name, g.iface.Version, id.Version)
	}

	r, err := s.NewResource(id.ID, g.iface.Name, id.Version, nil)
	if err != nil {
		return InvalidObject(reg, "invalid new id %d: %v", id.ID, err)
	}
	r.global = g.handle
	g.addResource(r)

	if !g.published {
		d.log.Debug("Bind completed during grace window", "session", s.id, "name", name, "interface", g.iface.Name)
	}

	if err := g.binder.Bind(r); err != nil {
		r.Destroy()
		return err
	}
	return nil
}
