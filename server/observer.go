package server

// Observer receives lifecycle notifications from a Display. It is the hook
// used to feed metrics; all methods run on the dispatch goroutine.
type Observer interface {
	SessionCreated(s *Session)
	SessionDestroyed(s *Session)
	ResourceCreated(r *Resource)
	ResourceDestroyed(r *Resource)
	GlobalAdvertised(g *Global)
	// GlobalWithdrawn fires on Unadvertise; GlobalRemoved fires when the
	// grace window expires.
	GlobalWithdrawn(g *Global)
	GlobalRemoved(g *Global)
	SerialIssued(serial uint32)
	ProtocolError(r *Resource, code uint32)
}

// NopObserver ignores every notification. Embed it to implement only a
// subset of Observer.
type NopObserver struct{}

func (NopObserver) SessionCreated(*Session)         {}
func (NopObserver) SessionDestroyed(*Session)       {}
func (NopObserver) ResourceCreated(*Resource)       {}
func (NopObserver) ResourceDestroyed(*Resource)     {}
func (NopObserver) GlobalAdvertised(*Global)        {}
func (NopObserver) GlobalWithdrawn(*Global)         {}
func (NopObserver) GlobalRemoved(*Global)           {}
func (NopObserver) SerialIssued(uint32)             {}
func (NopObserver) ProtocolError(*Resource, uint32) {}
