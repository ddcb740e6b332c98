// Package driver speaks the newline-delimited JSON protocol of the embedded
// Python driver program. Launchers run Source with the interpreter and wrap
// its stdin and stdout in a Conn.
package driver

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/notebook-server/internal/kernel"
)

// Source is the driver program, run as `python3 -u -c Source`.
//
//go:embed driver.py
var Source string

// eventBuffer is how many decoded events may wait for a reader before the
// read loop applies back-pressure to the interpreter.
const eventBuffer = 256

// Args returns the interpreter arguments that run the driver.
func Args() []string {
	return []string{"-u", "-c", Source}
}

type request struct {
	MsgID string `json:"msg_id"`
	Code  string `json:"code"`
}

// Conn is one connection to a running driver. It implements the event side
// of kernel.Handle; launchers add Alive and Shutdown on top.
type Conn struct {
	w      io.WriteCloser
	logger *slog.Logger

	events chan kernel.Event
	done   chan struct{} // closed when the read loop ends
	closed chan struct{} // closed by Close
	err    error         // read error, valid after done is closed

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewConn starts reading events from r. w receives requests; closing it
// ends the driver.
func NewConn(w io.WriteCloser, r io.Reader, logger *slog.Logger) *Conn {
	c := &Conn{
		w:      w,
		logger: logger,
		events: make(chan kernel.Event, eventBuffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// readLoop uses ReadBytes rather than a Scanner because a single event can
// carry a multi-megabyte base64 image.
func (c *Conn) readLoop(r io.Reader) {
	defer close(c.done)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var ev kernel.Event
			if jerr := json.Unmarshal(trimmed, &ev); jerr != nil {
				c.logger.Warn("discarding undecodable driver output",
					slog.String("error", jerr.Error()),
					slog.Int("bytes", len(trimmed)),
				)
			} else {
				select {
				case c.events <- ev:
				case <-c.closed:
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.err = err
			}
			return
		}
	}
}

// WaitReady blocks until the driver announces itself.
func (c *Conn) WaitReady(ctx context.Context) error {
	for {
		select {
		case ev := <-c.events:
			if ev.Type == kernel.EventReady {
				return nil
			}
			c.logger.Debug("ignoring event before ready", slog.String("msg_type", ev.Type))
		case <-c.done:
			return fmt.Errorf("driver: exited before ready: %w", c.exitErr())
		case <-ctx.Done():
			return fmt.Errorf("driver: waiting for ready: %w", ctx.Err())
		}
	}
}

// Submit writes one request and returns its msg id. The driver reads the
// next request only after finishing the current one, so a large request may
// block until then; ctx bounds that wait.
func (c *Conn) Submit(ctx context.Context, source string) (string, error) {
	select {
	case <-c.closed:
		return "", kernel.ErrHandleClosed
	case <-c.done:
		return "", kernel.ErrHandleClosed
	default:
	}

	msgID := uuid.NewString()
	payload, err := json.Marshal(request{MsgID: msgID, Code: source})
	if err != nil {
		return "", fmt.Errorf("driver: encoding request: %w", err)
	}
	payload = append(payload, '\n')

	written := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_, err := c.w.Write(payload)
		written <- err
	}()

	select {
	case err := <-written:
		if err != nil {
			return "", fmt.Errorf("driver: writing request: %w", err)
		}
		return msgID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("driver: writing request: %w", ctx.Err())
	}
}

// NextEvent implements kernel.Handle.
func (c *Conn) NextEvent(timeout time.Duration) (kernel.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		select {
		case ev := <-c.events:
			return ev, nil
		default:
		}
		return kernel.Event{}, kernel.ErrHandleClosed
	case <-c.closed:
		return kernel.Event{}, kernel.ErrHandleClosed
	case <-timer.C:
		return kernel.Event{}, kernel.ErrNoEvent
	}
}

// Open reports whether the event stream is still flowing.
func (c *Conn) Open() bool {
	select {
	case <-c.done:
		return false
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Close closes the request stream, which makes the driver exit. It is safe
// to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.w.Close()
	})
	return err
}

func (c *Conn) exitErr() error {
	if c.err != nil {
		return c.err
	}
	return kernel.ErrHandleClosed
}
