// Package metrics exports display lifecycle counters to Prometheus and
// keeps a snapshot of sessions and globals for the debug endpoints.
package metrics

import (
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bnema/wayrt/liveness"
	"github.com/bnema/wayrt/server"
)

// Namespace prefixes every exported metric.
const Namespace = "wayrt"

// Collector implements server.Observer. Observer callbacks run on the
// dispatch goroutine; the snapshot accessors may be called from any
// goroutine.
type Collector struct {
	sessions       prometheus.Gauge
	resources      *prometheus.GaugeVec
	globals        prometheus.Gauge
	serials        prometheus.Counter
	lastSerial     prometheus.Gauge
	protocolErrors *prometheus.CounterVec
	pings          *prometheus.CounterVec

	mu          sync.Mutex
	sessionInfo map[uint64]*SessionInfo
	globalInfo  map[uint32]GlobalInfo
}

var _ server.Observer = (*Collector)(nil)

// SessionInfo describes one live session.
type SessionInfo struct {
	ID         uint64 `json:"id"`
	PID        int32  `json:"pid"`
	UID        uint32 `json:"uid"`
	Executable string `json:"executable,omitempty"`
	Resources  int    `json:"resources"`
	Errored    bool   `json:"errored"`
}

// GlobalInfo describes one advertised global.
type GlobalInfo struct {
	Name      uint32 `json:"name"`
	Interface string `json:"interface"`
	Version   uint32 `json:"version"`
	Published bool   `json:"published"`
}

// New registers the collector's metrics on reg. A nil reg selects
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions",
			Help:      "Number of connected sessions",
		}),
		resources: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "resources",
			Help:      "Number of live resources by interface",
		}, []string{"interface"}),
		globals: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "globals",
			Help:      "Number of globals, including ones inside their removal grace window",
		}),
		serials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "serials_issued_total",
			Help:      "Total number of serials drawn from the display counter",
		}),
		lastSerial: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_serial",
			Help:      "Most recently issued serial",
		}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "protocol_errors_total",
			Help:      "Protocol errors posted to peers by interface and code",
		}, []string{"interface", "code"}),
		pings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pings_total",
			Help:      "Liveness check outcomes",
		}, []string{"outcome"}),

		sessionInfo: make(map[uint64]*SessionInfo),
		globalInfo:  make(map[uint32]GlobalInfo),
	}
}

// WatchLiveness counts watchdog escalations and pongs.
func (c *Collector) WatchLiveness(w *liveness.Watchdog) (cancel func()) {
	cancels := []func(){
		w.OnPong(func(liveness.Ticket) { c.pings.WithLabelValues("pong").Inc() }),
		w.OnDelayed(func(liveness.Ticket) { c.pings.WithLabelValues("delayed").Inc() }),
		w.OnTimeout(func(liveness.Ticket) { c.pings.WithLabelValues("timeout").Inc() }),
	}
	return func() {
		for _, fn := range cancels {
			fn()
		}
	}
}

func (c *Collector) SessionCreated(s *server.Session) {
	c.sessions.Inc()
	creds := s.Credentials()

	c.mu.Lock()
	defer c.mu.Unlock()
	// wl_display exists before the session is announced.
	c.sessionInfo[s.ID()] = &SessionInfo{
		ID:         s.ID(),
		PID:        creds.PID,
		UID:        creds.UID,
		Executable: creds.Executable,
		Resources:  len(s.Resources()),
	}
}

func (c *Collector) SessionDestroyed(s *server.Session) {
	c.sessions.Dec()

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessionInfo, s.ID())
}

func (c *Collector) ResourceCreated(r *server.Resource) {
	c.resources.WithLabelValues(r.Interface().Name).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.sessionInfo[r.Session().ID()]; ok {
		info.Resources++
	}
}

func (c *Collector) ResourceDestroyed(r *server.Resource) {
	c.resources.WithLabelValues(r.Interface().Name).Dec()

	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.sessionInfo[r.Session().ID()]; ok && info.Resources > 0 {
		info.Resources--
	}
}

func (c *Collector) GlobalAdvertised(g *server.Global) {
	c.globals.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalInfo[g.Name()] = GlobalInfo{
		Name:      g.Name(),
		Interface: g.Interface().Name,
		Version:   g.Interface().Version,
		Published: true,
	}
}

// GlobalRemoved is called once the grace window has expired and the
// global is gone for good.
func (c *Collector) GlobalRemoved(g *server.Global) {
	c.globals.Dec()

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.globalInfo, g.Name())
}

// GlobalWithdrawn marks a global as no longer discoverable while it is
// still inside its grace window.
func (c *Collector) GlobalWithdrawn(g *server.Global) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.globalInfo[g.Name()]; ok {
		info.Published = false
		c.globalInfo[g.Name()] = info
	}
}

func (c *Collector) SerialIssued(serial uint32) {
	c.serials.Inc()
	c.lastSerial.Set(float64(serial))
}

func (c *Collector) ProtocolError(r *server.Resource, code uint32) {
	c.protocolErrors.WithLabelValues(r.Interface().Name, strconv.FormatUint(uint64(code), 10)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.sessionInfo[r.Session().ID()]; ok {
		info.Errored = true
	}
}

// Sessions returns a snapshot of the live sessions ordered by id.
func (c *Collector) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionInfo, 0, len(c.sessionInfo))
	for _, info := range c.sessionInfo {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Globals returns a snapshot of the globals ordered by name.
func (c *Collector) Globals() []GlobalInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]GlobalInfo, 0, len(c.globalInfo))
	for _, info := range c.globalInfo {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
