// Package sable is an in-memory, Redis-wire-compatible key-value store
// running on a fixed set of shard executors. The facade in this package
// wires the dispatch core to its TCP listeners; the heavy lifting lives
// in the server, engine, txn and script packages.
package sable

import (
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/sablekv/sable/internal/logging"
	"github.com/sablekv/sable/server"
)

// Version is the library version
const Version = server.Version

// Server owns the dispatch service and its listeners
type Server struct {
	cfg *config
	svc *server.Service

	mu      sync.Mutex
	started bool
	closed  bool

	respLn net.Listener
	mcLn   net.Listener
	wg     sync.WaitGroup
}

// New creates a server from the given options
func New(opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	svc := server.NewService(server.Config{
		Threads:     cfg.threads,
		RequirePass: cfg.requirePass,
		ReadOnly:    cfg.readOnly,
		Logger:      cfg.logger,
		Registerer:  cfg.registerer,
	})

	return &Server{cfg: cfg, svc: svc}, nil
}

// Start initializes the shard executors and begins accepting
// connections on the configured listeners.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	threads := s.cfg.threads
	if threads == 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	if err := s.svc.Init(threads); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.bindAddr, s.cfg.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.svc.Shutdown()
		return &ListenError{Addr: addr, Err: err}
	}
	s.respLn = ln

	if s.cfg.memcacheEnabled {
		mcAddr := fmt.Sprintf("%s:%d", s.cfg.bindAddr, s.cfg.memcachePort)
		mcLn, err := net.Listen("tcp", mcAddr)
		if err != nil {
			ln.Close()
			s.svc.Shutdown()
			return &ListenError{Addr: mcAddr, Err: err}
		}
		s.mcLn = mcLn
	}

	s.svc.SetShutdownHandler(func() {
		_ = s.Shutdown()
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		server.AcceptLoop(s.respLn, s.cfg.logger, s.svc.ServeRESPConn)
	}()

	if s.mcLn != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			server.AcceptLoop(s.mcLn, s.cfg.logger, s.svc.ServeMCConn)
		}()
	}

	s.cfg.logger.Info("listening",
		logging.F("addr", s.respLn.Addr().String()),
		logging.F("memcache", s.mcLn != nil))

	s.started = true
	return nil
}

// Addr returns the Redis listener address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.respLn != nil {
		return s.respLn.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.cfg.bindAddr, s.cfg.port)
}

// MemcacheAddr returns the memcached listener address, empty when
// disabled
func (s *Server) MemcacheAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mcLn != nil {
		return s.mcLn.Addr().String()
	}
	return ""
}

// Service exposes the dispatch core, mainly for tests and tooling
func (s *Server) Service() *server.Service {
	return s.svc
}

// Shutdown stops accepting connections and tears the service down. It
// may be called once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if s.respLn != nil {
		s.respLn.Close()
	}
	if s.mcLn != nil {
		s.mcLn.Close()
	}
	s.wg.Wait()

	if started {
		s.svc.Shutdown()
	}
	return nil
}
