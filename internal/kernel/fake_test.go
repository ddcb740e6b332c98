package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =========================================================================
// FAKE INTERPRETER
// =========================================================================
//
// fakeHandle stands in for a real python3 process. Every Submit is answered
// by a responder that turns the submitted source into the events the real
// driver would emit, tagged with the submission's msg id. Events sit in a
// buffered channel until the session reads them, which is exactly how the
// real driver's reader goroutine behaves.

type responder func(source string) []Event

type fakeHandle struct {
	respond responder
	events  chan Event
	closed  chan struct{}
	once    sync.Once
	seq     atomic.Int64

	mu        sync.Mutex
	submitted []string
	shutdowns int
	kills     int
	submitErr error
}

func newFakeHandle(respond responder) *fakeHandle {
	if respond == nil {
		respond = scripted
	}
	return &fakeHandle{
		respond: respond,
		events:  make(chan Event, 1024),
		closed:  make(chan struct{}),
	}
}

func (h *fakeHandle) Submit(_ context.Context, source string) (string, error) {
	select {
	case <-h.closed:
		return "", ErrHandleClosed
	default:
	}

	h.mu.Lock()
	h.submitted = append(h.submitted, source)
	err := h.submitErr
	h.mu.Unlock()
	if err != nil {
		return "", err
	}

	msgID := fmt.Sprintf("msg-%d", h.seq.Add(1))
	for _, ev := range h.respond(source) {
		ev.ParentID = msgID
		h.events <- ev
	}
	return msgID, nil
}

func (h *fakeHandle) NextEvent(timeout time.Duration) (Event, error) {
	select {
	case <-h.closed:
		return Event{}, ErrHandleClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-h.events:
		return ev, nil
	case <-h.closed:
		return Event{}, ErrHandleClosed
	case <-timer.C:
		return Event{}, ErrNoEvent
	}
}

func (h *fakeHandle) Alive() bool {
	select {
	case <-h.closed:
		return false
	default:
		return true
	}
}

func (h *fakeHandle) Shutdown(context.Context) error {
	h.mu.Lock()
	h.shutdowns++
	h.mu.Unlock()
	h.once.Do(func() { close(h.closed) })
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.kills++
	h.mu.Unlock()
	h.once.Do(func() { close(h.closed) })
	return nil
}

func (h *fakeHandle) killCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills
}

// inject queues an event as if an earlier submission had produced it late.
func (h *fakeHandle) inject(ev Event) {
	h.events <- ev
}

// userCode returns the submitted sources that were neither setup code nor preamble.
func (h *fakeHandle) userCode() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, s := range h.submitted {
		if s == overridePreamble || s == SetupCode {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (h *fakeHandle) shutdownCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdowns
}

// scripted understands a handful of snippets used throughout the tests.
func scripted(source string) []Event {
	idle := Event{Type: EventStatus, State: StateIdle}
	busy := Event{Type: EventStatus, State: "busy"}

	switch {
	case source == overridePreamble, source == SetupCode:
		return []Event{busy, idle}
	case strings.Contains(source, "while True"):
		return []Event{busy}
	case strings.Contains(source, "1/0"):
		return []Event{busy, {
			Type:      EventError,
			EName:     "ZeroDivisionError",
			EValue:    "division by zero",
			Traceback: []string{"Traceback (most recent call last):", "ZeroDivisionError: division by zero"},
		}, idle}
	case strings.Contains(source, "exit()"):
		return []Event{busy, {
			Type:   EventError,
			EName:  RestartSignal,
			EValue: "exit() was called: the kernel is being restarted.",
		}, idle}
	case strings.HasPrefix(strings.TrimSpace(lastLine(source)), "print("):
		arg := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(lastLine(source)), "print("), ")")
		return []Event{busy, {Type: EventStream, Name: "stdout", Text: strings.Trim(arg, `"'`) + "\n"}, idle}
	case strings.Contains(source, "plot"):
		return []Event{busy, {Type: EventDisplayData, Data: map[string]string{
			"image/png":  "iVBORw0KGgo=",
			"text/plain": "<Figure size 640x480 with 1 Axes>",
		}}, idle}
	default:
		return []Event{busy, idle}
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}

// fakeLauncher hands out fakeHandles and records how many it started.
type fakeLauncher struct {
	mu      sync.Mutex
	handles []*fakeHandle
	respond responder
	// failFrom makes every Start from the n-th (1-based) on fail. Zero never fails.
	failFrom int
}

var errLaunch = errors.New("python3: executable file not found")

func (l *fakeLauncher) Start(context.Context) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failFrom > 0 && len(l.handles)+1 >= l.failFrom {
		return nil, errLaunch
	}
	h := newFakeHandle(l.respond)
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) started() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *fakeLauncher) handle(i int) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i]
}

// =========================================================================
// TEST HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig shrinks every timing so the suite runs in milliseconds.
func testConfig() Config {
	return Config{
		ExecutionTimeout: 2 * time.Second,
		PollInterval:     20 * time.Millisecond,
		DrainWindow:      100 * time.Millisecond,
		DrainPoll:        5 * time.Millisecond,
		PreambleTimeout:  200 * time.Millisecond,
		RestartDelay:     0,
		StartupTimeout:   time.Second,
		ShutdownTimeout:  time.Second,
		SetupCode:        SetupCode,
	}
}

func newTestController(t *testing.T, l *fakeLauncher) *Controller {
	t.Helper()
	c := NewController(l, testConfig(), testLogger())
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func intPtr(n int) *int { return &n }
