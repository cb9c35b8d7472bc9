// Package app assembles a runnable wayrt server from configuration: the
// event loop, the display with its globals, the socket transport and the
// optional metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/eventloop"
	"github.com/bnema/wayrt/internal/config"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/internal/metrics"
	"github.com/bnema/wayrt/internal/transport"
	"github.com/bnema/wayrt/liveness"
	"github.com/bnema/wayrt/output"
	"github.com/bnema/wayrt/seat"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/textinput"
	"github.com/bnema/wayrt/xdgshell"
)

// App owns every long-lived object of a running server. Once Run started,
// the protocol objects must only be touched from the dispatch goroutine.
type App struct {
	cfg *config.Config
	log *log.Logger

	Queue      *eventloop.Queue
	Display    *server.Display
	Compositor *compositor.Compositor
	Output     *output.Output
	Seat       *seat.Seat
	Shell      *xdgshell.Shell
	Watchdog   *liveness.Watchdog
	TextInput2 *textinput.ManagerV2
	TextInput3 *textinput.ManagerV3

	Metrics  *metrics.Collector
	registry *prometheus.Registry

	pingTimer eventloop.Timer
}

// New builds the display and its globals. Nothing listens until Run.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:      cfg,
		log:      logger.With("component", "app"),
		Queue:    eventloop.NewQueue(),
		registry: prometheus.NewRegistry(),
	}
	a.Metrics = metrics.New(a.registry)

	a.Display = server.NewDisplay(a.Queue,
		server.WithGraceWindow(cfg.Display.GraceWindow),
		server.WithObserver(a.Metrics),
		server.WithLogger(logger.With("component", "display")),
	)
	a.Compositor = compositor.New(a.Display)
	a.Watchdog = liveness.New(a.Display, cfg.Display.PingInterval)
	a.Metrics.WatchLiveness(a.Watchdog)
	a.Shell = xdgshell.New(a.Display, a.Watchdog)
	a.Seat = seat.New(a.Display, cfg.Seat.Name)
	a.Seat.SetCapabilities(seat.CapabilityPointer | seat.CapabilityKeyboard)
	a.TextInput2 = textinput.NewManagerV2(a.Display)
	a.TextInput3 = textinput.NewManagerV3(a.Display)
	a.Output = newOutput(a.Display, cfg.Output)

	a.Watchdog.OnTimeout(func(t liveness.Ticket) {
		a.log.Warn("Peer is not responding", "session", t.Session.ID(), "pid", t.Session.Credentials().PID, "serial", t.Serial)
	})

	// Text-input focus follows the most recently mapped toplevel.
	a.Shell.OnToplevelCreated(func(t *xdgshell.Toplevel) {
		t.OnMap(func(t *xdgshell.Toplevel) {
			a.Seat.SetFocusedTextInputSurface(t.XdgSurface().Surface())
		})
	})

	a.pingTimer = a.Queue.NewTimer(a.pingAll)
	return a, nil
}

// newOutput creates the configured output and publishes it.
func newOutput(d *server.Display, cfg config.OutputConfig) *output.Output {
	o := output.New(d)
	o.SetGeometry(output.Position{X: cfg.X, Y: cfg.Y}, output.Size{}, output.SubpixelUnknown, cfg.Make, cfg.Model, output.TransformNormal)
	modes := make([]output.Mode, 0, len(cfg.Modes))
	for i, m := range cfg.Modes {
		modes = append(modes, output.Mode{
			ID:        i,
			Size:      output.Size{Width: m.Width, Height: m.Height},
			Refresh:   m.Refresh,
			Preferred: m.Preferred,
		})
	}
	o.SetModes(modes)
	if len(modes) > 0 {
		if _, ok := o.Pending().Current(); !ok {
			o.SetMode(modes[0].ID)
		}
	}
	o.SetLogicalSize(output.Size{Width: cfg.LogicalWidth, Height: cfg.LogicalHeight})
	o.SetScale(cfg.Scale)
	o.SetName(cfg.Name)
	o.SetDescription(cfg.Description)
	o.SetEnabled(cfg.Enabled)
	o.Commit()
	return o
}

// pingAll checks every shell client that has no ping outstanding.
func (a *App) pingAll() {
	for _, s := range a.Display.Sessions() {
		if _, busy := a.Watchdog.Outstanding(s); busy {
			continue
		}
		if _, ok := a.Shell.Ping(s); ok {
			s.Flush()
		}
	}
}

// Run serves until ctx is cancelled. It returns the first component error.
func (a *App) Run(ctx context.Context) error {
	path, err := a.cfg.SocketPath()
	if err != nil {
		return err
	}
	ln, err := transport.Listen(a.Display, path, transport.WithMaxSessions(a.cfg.Display.MaxSessions))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Queue.Run(ctx)
	})
	g.Go(func() error {
		return ln.Serve(ctx)
	})
	if a.cfg.Metrics.Enabled {
		srv := metrics.NewServer(a.cfg.Metrics.Address, metrics.NewRouter(a.Metrics, a.registry))
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}

	a.Queue.Post(func() {
		a.pingTimer.StartRepeating(a.PingInterval())
	})
	a.log.Info("Server running", "socket", path, "metrics", a.cfg.Metrics.Enabled)

	err = g.Wait()
	if cerr := ln.Close(); cerr != nil {
		a.log.Warn("Failed to close socket", "err", cerr)
	}
	a.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown tears the display down after the loop stopped, so it runs
// on the calling goroutine without racing the dispatcher.
func (a *App) shutdown() {
	a.pingTimer.Stop()
	a.Output.Destroy()
	a.Display.Destroy()
	a.log.Info("Server stopped")
}

// PingInterval is how often idle shell clients are pinged.
func (a *App) PingInterval() time.Duration {
	return a.cfg.Display.PingInterval * 3
}
