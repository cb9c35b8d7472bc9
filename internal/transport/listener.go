// Package transport is the bundled Unix-socket transport. It accepts peer
// connections, reads their requests on one goroutine per peer and hands
// every request to the display through its event loop.
//
// Frames are length-delimited protobuf records, see AppendMessage.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/bnema/wayrt/eventloop"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
)

// ErrSocketInUse is returned when another server holds the socket lock.
var ErrSocketInUse = errors.New("socket already in use")

// Option configures a Listener.
type Option func(*Listener)

// WithMaxSessions rejects connections once n sessions are live. Zero
// means unlimited.
func WithMaxSessions(n int) Option {
	return func(l *Listener) {
		l.maxSessions = n
	}
}

// Listener serves one display on a Unix socket.
type Listener struct {
	display     *server.Display
	loop        eventloop.Loop
	path        string
	lockPath    string
	maxSessions int
	log         *log.Logger

	ln   *net.UnixListener
	lock *os.File

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Listen binds path for display. A stale socket left by a dead server is
// replaced; a live one makes Listen fail with ErrSocketInUse.
func Listen(display *server.Display, path string, opts ...Option) (*Listener, error) {
	l := &Listener{
		display:  display,
		loop:     display.Loop(),
		path:     path,
		lockPath: path + ".lock",
		log:      logger.With("component", "transport", "socket", path),
		conns:    make(map[*conn]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	lock, err := acquireLock(l.lockPath)
	if err != nil {
		return nil, err
	}

	// We hold the lock, so any socket file left behind is stale.
	if err := os.RemoveAll(path); err != nil {
		lock.Close()
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("failed to create socket listener: %w", err)
	}
	ln.SetUnlinkOnClose(false)

	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		lock.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	l.ln = ln
	l.lock = lock
	return l, nil
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.done:
		}
	}()

	l.log.Info("Listening for peers")
	for {
		nc, err := l.ln.AcceptUnix()
		if err != nil {
			select {
			case <-l.done:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		creds, err := peerCredentials(nc)
		if err != nil {
			l.log.Warn("Rejecting peer without credentials", "err", err)
			nc.Close()
			continue
		}

		c := newConn(nc, creds)
		if !l.track(c) {
			c.Close()
			return nil
		}
		go l.handle(c)
	}
}

// track registers c unless the listener is closing.
func (l *Listener) track(c *conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
		return false
	default:
	}
	l.conns[c] = struct{}{}
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(c *conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
}

// handle registers c with the display and pumps its requests into the
// loop until the stream ends.
func (l *Listener) handle(c *conn) {
	defer l.wg.Done()
	defer l.untrack(c)

	ready := make(chan *server.Session, 1)
	l.loop.Post(func() {
		if l.maxSessions > 0 && len(l.display.Sessions()) >= l.maxSessions {
			l.log.Warn("Session limit reached, rejecting peer", "pid", c.creds.PID, "limit", l.maxSessions)
			c.Close()
			ready <- nil
			return
		}
		s, err := l.display.CreateSession(c)
		if err != nil {
			l.log.Warn("Failed to create session", "pid", c.creds.PID, "err", err)
			c.Close()
			ready <- nil
			return
		}
		ready <- s
	})

	var s *server.Session
	select {
	case s = <-ready:
	case <-l.done:
		c.Close()
		return
	}
	if s == nil {
		return
	}

	dec := NewDecoder(c.nc)
	for {
		msg, err := dec.Decode()
		if err != nil {
			l.readFailed(s, err)
			return
		}
		l.loop.Post(func() { l.display.Dispatch(s, msg) })
	}
}

// readFailed ends a session whose stream can no longer be read. A peer
// that sent garbage is told why before it is dropped.
func (l *Listener) readFailed(s *server.Session, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		l.log.Debug("Peer disconnected", "session", s.ID())
		l.loop.Post(s.Destroy)
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, ErrFrameTooLarge):
		l.log.Warn("Malformed request stream", "session", s.ID(), "err", err)
		l.loop.Post(func() {
			if r, ok := s.Resource(protocol.DisplayID); ok {
				r.PostError(protocol.ErrorInvalidMethod, "%v", err)
			}
			s.Destroy()
		})
	default:
		l.log.Debug("Read failed", "session", s.ID(), "err", err)
		l.loop.Post(s.Destroy)
	}
}

// Close stops accepting, closes every peer connection and removes the
// socket and its lock file. It returns every error met on the way.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		err := l.ln.Close()

		l.mu.Lock()
		for c := range l.conns {
			err = multierr.Append(err, c.Close())
		}
		l.mu.Unlock()
		l.wg.Wait()

		err = multierr.Append(err, removeIfExists(l.path))
		err = multierr.Append(err, removeIfExists(l.lockPath))
		err = multierr.Append(err, l.lock.Close())
		l.closeErr = err
		l.log.Info("Socket closed")
	})
	return l.closeErr
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
