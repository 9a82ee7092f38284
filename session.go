package main

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type sessionConfig struct {
	heartbeatPeriod time.Duration
	pushPeriod      time.Duration
	clock           clockwork.Clock
	logger          *slog.Logger
}

// session is one websocket client. It owns a heartbeat task, a data-push task
// and the transport both of them write to.
type session struct {
	id   uint64
	w    websocketManager
	cell *stateCell
	cfg  sessionConfig
	log  *slog.Logger

	state   atomic.Int32
	writeMu sync.Mutex // one frame in flight per transport

	done      chan struct{} // closed when Closing begins
	closed    chan struct{} // closed once Closed
	closeOnce sync.Once
	goingAway atomic.Bool
	tasks     sync.WaitGroup
}

func newSession(id uint64, w websocketManager, cell *stateCell, cfg sessionConfig) *session {
	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}
	if cfg.heartbeatPeriod <= 0 {
		cfg.heartbeatPeriod = defaultHeartbeatPeriod
	}
	if cfg.pushPeriod <= 0 {
		cfg.pushPeriod = defaultPushPeriod
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &session{
		id:     id,
		w:      w,
		cell:   cell,
		cfg:    cfg,
		log:    cfg.logger.With("session", id),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *session) State() sessionState {
	return sessionState(s.state.Load())
}

// run serves the session until it closes. It blocks, like an http handler.
func (s *session) run() {
	if s.state.CompareAndSwap(int32(stateConnecting), int32(stateOpen)) {
		incr("websockets", 1)
		defer decr("websockets", 1)
		s.log.Info("session_open", "remote", s.w.wsRemoteAddr())

		s.w.wsSetReadLimit()
		s.w.wsSetReadDeadline()
		s.w.wsSetPongHandler()

		heartbeat := s.cfg.clock.NewTicker(s.cfg.heartbeatPeriod)
		push := s.cfg.clock.NewTicker(s.cfg.pushPeriod)
		s.tasks.Add(2)
		go s.heartbeat(heartbeat)
		go s.push(push)

		readerDone := make(chan struct{})
		go s.reader(readerDone)

		<-s.done
		s.tasks.Wait()
		s.release()
		<-readerDone
	} else {
		// Closed before it ever opened.
		s.release()
	}
	s.state.Store(int32(stateClosed))
	close(s.closed)
	s.log.Info("session_closed")
}

// release hands the transport back once both tasks have stopped.
func (s *session) release() {
	if s.goingAway.Load() {
		s.writeMu.Lock()
		s.w.wsSetWriteDeadline()
		_ = s.w.wsWriteClose(websocket.CloseGoingAway, "server shutting down")
		s.writeMu.Unlock()
	}
	s.w.wsClose()
}

// cancel moves the session to Closing. Only the first call has an effect.
func (s *session) cancel(reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(stateClosing))
		s.log.Debug("session_closing", "reason", reason)
		close(s.done)
	})
}

// close is the server-initiated shutdown. It returns once the session is Closed.
func (s *session) close() {
	s.goingAway.Store(true)
	s.cancel("server shutdown")
	<-s.closed
}

// abandon closes a session that was never run.
func (s *session) abandon() {
	s.goingAway.Store(true)
	s.cancel("server shutdown")
	s.run()
}

// write runs fn under the transport lock, unless the session is closing.
func (s *session) write(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	s.w.wsSetWriteDeadline()
	return fn()
}

func (s *session) heartbeat(t clockwork.Ticker) {
	defer s.tasks.Done()
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.Chan():
			err := s.write(func() error { return s.w.wsWritePing(pingPayload) })
			if errors.Is(err, errSessionClosed) {
				return
			}
			if err != nil {
				mark("conn.ping.errors", 1)
				s.log.Warn("heartbeat_failed", "error", &HeartbeatWriteError{Session: s.id, Err: err})
				s.cancel("heartbeat failed")
				return
			}
			incr("conn.ping", 1)
		}
	}
}

func (s *session) push(t clockwork.Ticker) {
	defer s.tasks.Done()
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.Chan():
			if !s.pushSample() {
				return
			}
		}
	}
}

// pushSample writes the current sample. It reports whether the task should
// keep running.
func (s *session) pushSample() bool {
	payload, err := s.cell.Get().MarshalJSON()
	if err != nil {
		// Non-finite coordinates; skip this tick.
		mark("drops", 1)
		s.log.Error("sample_encode_failed", "error", err)
		return true
	}
	err = s.write(func() error { return s.w.wsWriteMessage(websocket.TextMessage, payload) })
	if errors.Is(err, errSessionClosed) {
		return false
	}
	if err != nil {
		derr := &DataWriteError{Session: s.id, Err: err}
		mark("conn.send.errors", 1)
		s.log.Warn("push_failed", "error", derr)
		// Tell the client why, if it can still hear us.
		_ = s.write(func() error {
			return s.w.wsWriteMessage(websocket.TextMessage, []byte(derr.Error()))
		})
		s.cancel("push failed")
		return false
	}
	incr("conn.send", 1)
	return true
}

func (s *session) reader(done chan<- struct{}) {
	defer close(done)
	for {
		if err := s.readMessage(); err != nil {
			s.logReadError(err)
			s.cancel("read failed")
			return
		}
	}
}

// readMessage reads one frame. Text frames are logged, nothing is sent back.
func (s *session) readMessage() error {
	messageType, message, err := s.w.wsReadMessage()
	if err != nil {
		return err
	}
	incr("conn.recv", 1)
	if messageType == websocket.TextMessage {
		s.log.Debug("message_received", "text", string(message))
	}
	return nil
}

func (s *session) logReadError(err error) {
	select {
	case <-s.done:
		// We closed the transport ourselves.
		return
	default:
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Warn("session_read_failed", "error", err)
		return
	}
	s.log.Info("session_client_closed", "reason", err)
}
