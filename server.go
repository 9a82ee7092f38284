package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/jonboulle/clockwork"
)

type serverConfig struct {
	HeartbeatPeriod      time.Duration
	PushPeriod           time.Duration
	WriteWait            time.Duration // per frame; 0 uses the default
	PongWait             time.Duration // read deadline; 0 uses the default
	ConnectionsPerSecond float64
	ConnectionBurst      int
	StopTimeout          time.Duration
	KillTimeout          time.Duration
	Clock                clockwork.Clock
}

// broadcastServer accepts websocket clients on /locdata, runs one session per
// client and serves the bootstrap page everywhere else.
type broadcastServer struct {
	cell   *stateCell
	secret secretSource
	page   *pageTemplate // nil when the template failed to load
	cfg    serverConfig
	log    *slog.Logger
	nextID atomic.Uint64

	mu        sync.Mutex // protects the fields below
	started   bool
	stopped   bool
	listener  net.Listener
	hd        httpdown.Server
	admission *admission
	sessions  map[*session]struct{}
}

func newBroadcastServer(cell *stateCell, secret secretSource, page *pageTemplate, cfg serverConfig, logger *slog.Logger) *broadcastServer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &broadcastServer{
		cell:     cell,
		secret:   secret,
		page:     page,
		cfg:      cfg,
		log:      logger,
		sessions: make(map[*session]struct{}),
	}
}

// Start binds host:port and begins serving in the background. A port of 0
// picks a free port; see Addr.
func (s *broadcastServer) Start(host string, port int, maxConcurrentConnections int) error {
	if maxConcurrentConnections < 1 {
		return fmt.Errorf("max concurrent connections must be >= 1, got %d", maxConcurrentConnections)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	s.admission = newAdmission(maxConcurrentConnections, s.cfg.ConnectionsPerSecond, s.cfg.ConnectionBurst)
	hd := &httpdown.HTTP{
		StopTimeout: s.cfg.StopTimeout,
		KillTimeout: s.cfg.KillTimeout,
	}
	server := &http.Server{
		Handler:           newHandler(s),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.hd = hd.Serve(server, l)
	s.listener = l
	s.started = true

	s.log.Info("server_started", "addr", l.Addr().String(), "max_connections", maxConcurrentConnections)
	return nil
}

// Addr is the bound address, or nil before Start.
func (s *broadcastServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, then every live session. Safe to call more than
// once; only the first call does anything.
func (s *broadcastServer) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	hd := s.hd
	s.mu.Unlock()

	err := hd.Stop()

	s.mu.Lock()
	live := make([]*session, 0, len(s.sessions))
	for c := range s.sessions {
		live = append(live, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range live {
		wg.Add(1)
		go func(c *session) {
			defer wg.Done()
			c.close()
		}(c)
	}
	wg.Wait()

	s.log.Info("server_stopped", "sessions_closed", len(live))
	return err
}

// Sessions is the number of live sessions.
func (s *broadcastServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// track registers a session. It reports false once Stop has begun.
func (s *broadcastServer) track(c *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.sessions[c] = struct{}{}
	return true
}

func (s *broadcastServer) untrack(c *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, c)
}

func (s *broadcastServer) sessionConfig() sessionConfig {
	return sessionConfig{
		heartbeatPeriod: s.cfg.HeartbeatPeriod,
		pushPeriod:      s.cfg.PushPeriod,
		clock:           s.cfg.Clock,
		logger:          s.log,
	}
}
