package main

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// secretSource is the read-only view of the configured token.
type secretSource interface {
	Secret() string
}

var upgrader = &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

type wsHandler struct {
	s *broadcastServer
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ok, reason := wsh.s.admission.acquire()
	if !ok {
		mark("refused", 1)
		wsh.s.log.Warn("upgrade_refused", "remote", r.RemoteAddr, "reason", reason)
		if reason == refusedRate {
			sendError(w, http.StatusTooManyRequests, "Too many new connections, try again shortly.")
		} else {
			sendError(w, http.StatusServiceUnavailable, "Connection limit reached.")
		}
		return
	}
	defer wsh.s.admission.release()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		wsh.s.log.Warn("upgrade_failed", "error", &UpgradeError{Remote: r.RemoteAddr, Err: err})
		return
	}
	t := newWsTransport(ws, wsh.s.cfg.WriteWait, wsh.s.cfg.PongWait)
	c := newSession(wsh.s.nextID.Add(1), t, wsh.s.cell, wsh.s.sessionConfig())
	if !wsh.s.track(c) {
		// Stop has begun; this one never opens.
		c.abandon()
		return
	}
	defer wsh.s.untrack(c)
	c.run()
}

type pageHandler struct {
	page   *pageTemplate
	secret secretSource
	log    *slog.Logger
}

func (ph pageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ph.page == nil {
		sendError(w, http.StatusServiceUnavailable, "Page unavailable: the template could not be loaded.")
		return
	}
	body := ph.page.render(ph.secret.Secret())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, body); err != nil {
		ph.log.Debug("page_write_failed", "remote", r.RemoteAddr, "error", err)
	}
}

func sendError(w http.ResponseWriter, status int, str string) {
	http.Error(w, "Error: "+str, status)
}
