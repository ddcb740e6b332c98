// Package kernel owns the long-lived Python interpreter behind the notebook API.
//
// LAYERS (leaves first):
//
//	Classify    pure mapping from one interpreter Event to at most one OutputRecord
//	Guard       non-reentrant exclusive access to the interpreter
//	Session     the per-request execution protocol against one Handle
//	Controller  start / restart / status, implicit restart on exit()
//
// The interpreter process itself is a collaborator reached through the Launcher
// and Handle interfaces below. internal/kernel/subprocess runs it as a local
// child process, internal/kernel/docker runs it inside a container. Both speak
// the wire protocol in internal/kernel/driver.
package kernel

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoEvent is returned by Handle.NextEvent when the poll timeout
	// elapsed without an event. It is not a failure.
	ErrNoEvent = errors.New("kernel: no event")

	// ErrHandleClosed is returned once the interpreter's event stream has
	// ended, either because the process exited or because it was shut down.
	ErrHandleClosed = errors.New("kernel: interpreter handle closed")

	// ErrNotStarted is returned when an operation needs a live handle and
	// the controller has none.
	ErrNotStarted = errors.New("kernel: interpreter not started")
)

// Event is one message from the interpreter's outbound stream.
//
// Only the fields relevant to Type are populated:
//
//	stream                       Name, Text
//	execute_result, display_data Data (mime type → value)
//	error                        EName, EValue, Traceback
//	status                       State ("busy", "idle")
type Event struct {
	Type      string            `json:"msg_type"`
	ParentID  string            `json:"parent_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Text      string            `json:"text,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	EName     string            `json:"ename,omitempty"`
	EValue    string            `json:"evalue,omitempty"`
	Traceback []string          `json:"traceback,omitempty"`
	State     string            `json:"execution_state,omitempty"`
}

// Event types emitted by the interpreter.
const (
	EventStream        = "stream"
	EventExecuteResult = "execute_result"
	EventDisplayData   = "display_data"
	EventError         = "error"
	EventStatus        = "status"
	EventReady         = "ready"
)

// StateIdle marks the end of one submission's event stream.
const StateIdle = "idle"

// Handle is a live interpreter instance. A Handle is never reused after
// Shutdown; restarts obtain a fresh one from the Launcher.
type Handle interface {
	// Submit queues source for execution and returns the correlation id that
	// the resulting events carry in Event.ParentID.
	Submit(ctx context.Context, source string) (string, error)

	// NextEvent waits up to timeout for the next event. It returns ErrNoEvent
	// when the timeout elapses and ErrHandleClosed when the stream has ended.
	NextEvent(timeout time.Duration) (Event, error)

	// Alive reports whether the interpreter process is still running.
	// It must not block on interpreter work.
	Alive() bool

	// Shutdown stops the interpreter and releases its channels. It is safe
	// to call more than once.
	Shutdown(ctx context.Context) error
}

// Killer is implemented by handles that can stop the interpreter at once,
// without waiting for a busy interpreter to notice its input has closed.
// Shutdown is still called afterwards to release the handle.
type Killer interface {
	Kill() error
}

// Launcher starts interpreter instances. Start blocks until the interpreter
// has reported ready or ctx expires.
type Launcher interface {
	Start(ctx context.Context) (Handle, error)
}
