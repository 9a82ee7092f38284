package main

import (
	"errors"
	"fmt"
)

var errSessionClosed = errors.New("session closed")

// BindError means the listener could not acquire its address. Fatal to startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// UpgradeError is a failed websocket handshake. The server keeps accepting.
type UpgradeError struct {
	Remote string
	Err    error
}

func (e *UpgradeError) Error() string {
	return fmt.Sprintf("upgrade from %s: %v", e.Remote, e.Err)
}

func (e *UpgradeError) Unwrap() error { return e.Err }

// HeartbeatWriteError is a failed ping. Fatal to its session only.
type HeartbeatWriteError struct {
	Session uint64
	Err     error
}

func (e *HeartbeatWriteError) Error() string {
	return fmt.Sprintf("session %d: heartbeat write: %v", e.Session, e.Err)
}

func (e *HeartbeatWriteError) Unwrap() error { return e.Err }

// DataWriteError is a failed sample push. Fatal to its session only.
type DataWriteError struct {
	Session uint64
	Err     error
}

func (e *DataWriteError) Error() string {
	return fmt.Sprintf("session %d: data write: %v", e.Session, e.Err)
}

func (e *DataWriteError) Unwrap() error { return e.Err }

// TemplateLoadError means the bootstrap page could not be read. Only the page
// is lost; the websocket route keeps working.
type TemplateLoadError struct {
	Path string
	Err  error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("load page template %s: %v", e.Path, e.Err)
}

func (e *TemplateLoadError) Unwrap() error { return e.Err }
