package seat

import (
	"fmt"
	"slices"

	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/server"
)

// TextInputVersion selects one of the two text-input protocols.
type TextInputVersion int

const (
	TextInputV2 TextInputVersion = 2
	TextInputV3 TextInputVersion = 3
)

func (v TextInputVersion) String() string {
	switch v {
	case TextInputV2:
		return "v2"
	case TextInputV3:
		return "v3"
	default:
		return fmt.Sprintf("TextInputVersion(%d)", int(v))
	}
}

// TextInput is a text-input device registered with a seat.
type TextInput interface {
	Session() *server.Session
	Enter(surface *compositor.Surface)
	Leave(surface *compositor.Surface)
}

// FocusedTextInput is the arbiter state reported after every change.
type FocusedTextInput struct {
	Surface *compositor.Surface
	V2      TextInput
	V3      TextInput
}

// slot is the per-version half of the arbiter.
type slot struct {
	version    TextInputVersion
	active     TextInput
	registered []TextInput
}

// lookup returns the first device of s registered for this version.
func (sl *slot) lookup(s *server.Session) TextInput {
	for _, ti := range sl.registered {
		if ti.Session() == s {
			return ti
		}
	}
	return nil
}

func (st *Seat) slot(v TextInputVersion) (*slot, error) {
	for _, sl := range st.slots {
		if sl.version == v {
			return sl, nil
		}
	}
	return nil, fmt.Errorf("unsupported text-input version %d", int(v))
}

// FocusedTextInputSurface returns the surface with text-input focus.
func (st *Seat) FocusedTextInputSurface() *compositor.Surface {
	return st.focused
}

// FocusedTextInput returns the active device of version v, or nil.
func (st *Seat) FocusedTextInput(v TextInputVersion) TextInput {
	sl, err := st.slot(v)
	if err != nil {
		return nil
	}
	return sl.active
}

// OnFocusedTextInputChanged subscribes to changes of the active device of
// either version. One notification is emitted per change of focus,
// however many versions were affected.
func (st *Seat) OnFocusedTextInputChanged(fn func(FocusedTextInput)) (cancel func()) {
	return st.onFocusedTextInputChanged.Subscribe(fn)
}

func (st *Seat) state() FocusedTextInput {
	return FocusedTextInput{Surface: st.focused, V2: st.slots[0].active, V3: st.slots[1].active}
}

// SetFocusedTextInputSurface moves text-input focus to surface, or clears
// it when surface is nil. Each version leaves its active device on the old
// surface and enters the new session's device, if it registered one.
// A destroyed surface clears focus.
func (st *Seat) SetFocusedTextInputSurface(surface *compositor.Surface) {
	if surface != nil && surface.Destroyed() {
		surface = nil
	}
	if surface == st.focused {
		return
	}

	before := make([]TextInput, len(st.slots))
	for i, sl := range st.slots {
		before[i] = sl.active
		if st.focused != nil && sl.active != nil && !st.focused.Destroyed() {
			sl.active.Leave(st.focused)
		}
		sl.active = nil
	}

	if st.cancelFocusGone != nil {
		st.cancelFocusGone()
		st.cancelFocusGone = nil
	}
	st.focused = surface
	if surface != nil {
		st.cancelFocusGone = surface.OnDestroyed(st.focusedSurfaceDestroyed)
	}

	changed := false
	for i, sl := range st.slots {
		if surface != nil {
			if ti := sl.lookup(surface.Session()); ti != nil {
				sl.active = ti
				ti.Enter(surface)
			}
		}
		if sl.active != before[i] {
			changed = true
		}
	}

	st.log.Debug("Text-input focus changed", "surface", describe(surface), "changed", changed)
	if changed {
		st.onFocusedTextInputChanged.Emit(st.state())
	}
}

func (st *Seat) focusedSurfaceDestroyed(s *compositor.Surface) {
	if st.focused == s {
		st.SetFocusedTextInputSurface(nil)
	}
}

// RegisterTextInput adds a device of version v. Registering a device twice
// has no effect. A device whose session owns the focused surface is
// entered at once if its version has no active device yet.
func (st *Seat) RegisterTextInput(v TextInputVersion, ti TextInput) error {
	sl, err := st.slot(v)
	if err != nil {
		return err
	}
	if slices.Contains(sl.registered, ti) {
		return nil
	}
	sl.registered = append(sl.registered, ti)

	if st.focused != nil && sl.active == nil && st.focused.Session() == ti.Session() {
		sl.active = ti
		ti.Enter(st.focused)
		st.onFocusedTextInputChanged.Emit(st.state())
	}
	return nil
}

// UnregisterTextInput removes a device. If it was active for its version
// the slot is cleared and the change is notified.
func (st *Seat) UnregisterTextInput(v TextInputVersion, ti TextInput) {
	sl, err := st.slot(v)
	if err != nil {
		return
	}
	i := slices.Index(sl.registered, ti)
	if i < 0 {
		return
	}
	sl.registered = slices.Delete(sl.registered, i, i+1)

	if sl.active == ti {
		sl.active = nil
		st.onFocusedTextInputChanged.Emit(st.state())
	}
}

// TextInputs returns the registered devices of version v.
func (st *Seat) TextInputs(v TextInputVersion) []TextInput {
	sl, err := st.slot(v)
	if err != nil {
		return nil
	}
	return slices.Clone(sl.registered)
}

func describe(s *compositor.Surface) string {
	if s == nil {
		return "none"
	}
	return s.Resource().String()
}
