// Package proxyserver implements the Unix domain socket listener: it
// accepts connections, hands each to the dispatcher on its own goroutine,
// and runs the background refresh loop alongside the accept loop. Either
// task may fail fatally; the first such failure tears the whole server
// down and is re-raised from Start.
package proxyserver

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/dispatcher"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/protocol"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/refresher"
)

// SocketTimeout bounds how long a per-connection read may block, per
// spec.md §4.8.
const SocketTimeout = 1 * time.Second

// refreshRunner is the subset of *refresher.Refresher Server depends on.
type refreshRunner interface {
	RunOnce(ctx context.Context) error
	Run(ctx context.Context, done <-chan struct{}) error
}

// Server listens on a Unix domain socket and serves the accounts line
// protocol. The zero value is not usable; construct with New.
type Server struct {
	socketPath string
	dispatcher *dispatcher.Dispatcher
	refresher  refreshRunner
	log        *logrus.Entry

	mu         sync.Mutex
	serving    bool
	listener   net.Listener
	refreshCh  chan struct{}
	wg         sync.WaitGroup

	fatalOnce sync.Once
	fatalCh   chan error
}

// New creates a Server that will listen on socketPath once Start is
// called.
func New(socketPath string, d *dispatcher.Dispatcher, r *refresher.Refresher, log *logrus.Entry) *Server {
	return &Server{
		socketPath: socketPath,
		dispatcher: d,
		refresher:  r,
		log:        log,
	}
}

// Start unlinks any stale socket at socketPath, binds a new one, performs a
// synchronous initial cache refresh, then launches the background refresh
// loop and accepts connections until Shutdown is called or a fatal error
// occurs. If the initial refresh returns an error, Start returns that error
// without ever accepting a connection; the refresher's RunOnce returns only
// non-domain errors, so a domain lookup failure during the initial refresh
// is logged and the server starts with the cache as it was. Otherwise it
// returns the first fatal error
// seen by either the accept loop or the background refresh loop, or nil on
// a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return lookuperr.AlreadyServingf("already serving")
	}

	s.unlinkSocket()
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return lookuperr.WrapBackend(err, "binding unix socket [%s]", s.socketPath)
	}
	s.listener = ln
	s.refreshCh = make(chan struct{})
	s.fatalOnce = sync.Once{}
	s.fatalCh = make(chan error, 1)
	s.serving = true
	s.mu.Unlock()

	s.log.WithField("socket", s.socketPath).Info("starting compute accounts proxy server")

	// The initial cache refresh runs synchronously before the server ever
	// accepts a connection, matching the original daemon's start() calling
	// _refresh_cache() before spawning the refresh thread and entering
	// serve_forever().
	if err := s.refresher.RunOnce(ctx); err != nil {
		s.log.WithError(err).Error("unrecoverable error during initial refresh")
		s.mu.Lock()
		s.serving = false
		s.mu.Unlock()
		ln.Close()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.refresher.Run(ctx, s.refreshCh); err != nil {
			s.log.WithError(err).Error("unrecoverable error during refresh")
			s.escalate(err)
		}
	}()

	s.acceptLoop(ctx, ln)

	s.mu.Lock()
	s.serving = false
	s.mu.Unlock()

	close(s.refreshCh)
	s.wg.Wait()

	select {
	case err := <-s.fatalCh:
		return err
	default:
		return nil
	}
}

// Shutdown stops the accept loop, causing Start to return once any
// in-flight connections finish.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.serving {
		return lookuperr.NotServingf("not serving")
	}
	s.log.Info("shutting down compute accounts proxy server")
	return s.listener.Close()
}

// IsServing reports whether the server is currently accepting
// connections.
func (s *Server) IsServing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serving
}

func (s *Server) unlinkSocket() {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("failed to remove stale socket")
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Error("accept failed")
			s.escalate(err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("unrecoverable error during request handling")
			s.escalate(panicError{r})
		}
	}()

	start := time.Now()
	conn.SetReadDeadline(time.Now().Add(SocketTimeout))

	buf := make([]byte, protocol.MaxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil {
		s.log.WithError(err).Error("error while reading command")
		s.writeResponse(conn, []byte("400"))
		return
	}

	line := string(buf[:n])
	s.log.WithField("command", line).Debug("command received")

	result := s.dispatcher.Dispatch(ctx, line)
	s.writeResponse(conn, protocol.EncodeResponse(result.Status, result.Lines))

	s.log.WithField("duration_sec", time.Since(start).Seconds()).Debug("request handled")
}

func (s *Server) writeResponse(conn net.Conn, data []byte) {
	if _, err := conn.Write(data); err != nil {
		s.log.WithError(err).Error("error while writing to socket")
	}
}

// escalate records the first fatal error and triggers shutdown, mirroring
// the original daemon's one-shot worker exception queue.
func (s *Server) escalate(err error) {
	s.fatalOnce.Do(func() {
		s.fatalCh <- err
	})
	s.mu.Lock()
	serving := s.serving
	ln := s.listener
	s.mu.Unlock()
	if serving && ln != nil {
		ln.Close()
	}
}

// panicError wraps a recovered panic value as an error.
type panicError struct{ value interface{} }

func (p panicError) Error() string {
	return "panic: " + errorString(p.value)
}

func errorString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "recovered non-error panic value"
}
