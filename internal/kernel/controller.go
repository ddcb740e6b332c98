package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/notebook-server/internal/observability"
)

// State is the lifecycle state of the Controller.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateRunning       State = "running"
	StateRestarting    State = "restarting"
	StateStopped       State = "stopped"
	StateError         State = "error"
)

// Restart triggers, used as a metric label.
const (
	triggerExplicit = "explicit"
	triggerImplicit = "implicit"
)

// Informational records appended after an implicit restart.
var restartNotice = []OutputRecord{
	StreamRecord("stdout", "Kernel restarted: all variables, imports and definitions were cleared.\n"),
	StreamRecord("stdout", "Re-run the earlier cells you still need before continuing.\n"),
}

// RestartResult is the outcome of a restart.
type RestartResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Restart statuses.
const (
	RestartStatusRestarted = "restarted"
	RestartStatusError     = "error"
)

// StatusResult is the outcome of a liveness probe.
type StatusResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Liveness statuses.
const (
	LivenessRunning = "running"
	LivenessStopped = "stopped"
	LivenessError   = "error"
)

// pendingRestart is an explicit restart that has already severed the old
// interpreter and is waiting for the guard. Whoever takes the guard first
// completes it, so executions queued behind it run on the new interpreter.
type pendingRestart struct {
	done   chan struct{}
	result RestartResult
}

// Controller owns the interpreter lifecycle. All methods are safe for
// concurrent use and none of them panics or returns a transport error for an
// execution: failures come back as result values.
//
// CONCURRENCY:
//   - guard serializes executions, starts and restarts against the handle.
//   - mu protects the fields below for cheap reads (Status) that must not
//     wait behind a running execution.
type Controller struct {
	launcher Launcher
	cfg      Config
	logger   *slog.Logger
	guard    *Guard

	mu      sync.RWMutex
	session *Session
	state   State
	lastErr error
	pending *pendingRestart
}

// NewController creates a Controller in the uninitialized state. Call Start
// before executing code.
func NewController(launcher Launcher, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		launcher: launcher,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		guard:    NewGuard(),
		state:    StateUninitialized,
	}
}

// Start launches the interpreter and runs the setup code. A failure leaves
// the controller in the error state and is returned to the caller.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	c.guard.Do(func() {
		if c.State() == StateRunning {
			return
		}
		err = c.startLocked(ctx)
	})
	return err
}

// Execute runs one request. A restart request from the executed code is
// handled here: the interpreter is replaced before returning and the result
// is reported as ok with an informational notice.
func (c *Controller) Execute(ctx context.Context, req Request) Result {
	start := time.Now()

	var res Result
	err := c.guard.DoContext(ctx, func() {
		if p := c.currentPending(); p != nil {
			c.completePending(ctx, p)
		}

		sess := c.currentSession()
		if sess == nil {
			res = executionErrorResult(c.notRunningError(), "")
			return
		}

		res = sess.Run(ctx, req)
		if res.Status == StatusRestartNeeded {
			res = c.finishImplicitRestart(ctx, res)
		}
	})
	if err != nil {
		res = executionErrorResult(fmt.Errorf("waiting for kernel: %w", err), "")
	}

	observability.ExecutionsTotal.WithLabelValues(string(res.Status)).Inc()
	observability.ExecutionDuration.Observe(time.Since(start).Seconds())
	return res
}

// Restart replaces the interpreter. The current interpreter is killed
// immediately, which also ends any execution still waiting on it, and the new
// one is started once the guard is free.
func (c *Controller) Restart(ctx context.Context) RestartResult {
	p := c.beginRestart(ctx)
	c.guard.Do(func() {
		c.completePending(ctx, p)
	})
	<-p.done
	return p.result
}

// Status probes the current interpreter without waiting for executions.
func (c *Controller) Status() StatusResult {
	c.mu.RLock()
	state, sess, lastErr := c.state, c.session, c.lastErr
	c.mu.RUnlock()

	switch {
	case state == StateError:
		msg := "kernel is in an error state"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		return StatusResult{Status: LivenessError, Message: msg}
	case state == StateRunning && sess != nil && sess.Alive():
		return StatusResult{Status: LivenessRunning, SessionID: sess.ID()}
	default:
		return StatusResult{Status: LivenessStopped}
	}
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close shuts the interpreter down for good.
func (c *Controller) Close(ctx context.Context) error {
	if sess := c.currentSession(); sess != nil {
		c.shutdown(ctx, sess)
	}

	var err error
	c.guard.Do(func() {
		c.mu.Lock()
		sess := c.session
		c.session = nil
		c.state = StateStopped
		c.mu.Unlock()

		if sess != nil {
			err = c.shutdown(ctx, sess)
		}
		observability.KernelUp.Set(0)
	})
	return err
}

// startLocked launches a fresh interpreter. The guard must be held.
func (c *Controller) startLocked(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
	defer cancel()

	h, err := c.launcher.Start(startCtx)
	if err != nil {
		return c.fail(fmt.Errorf("kernel: starting interpreter: %w", err))
	}

	id := xid.New().String()
	sess := NewSession(h, id, c.cfg, c.logger.With(slog.String("session_id", id)))

	res := sess.Run(startCtx, Request{Code: c.cfg.SetupCode})
	if res.Status != StatusOK {
		c.shutdown(ctx, sess)
		return c.fail(fmt.Errorf("kernel: setup code failed: %s", describe(res)))
	}

	c.mu.Lock()
	c.session = sess
	c.state = StateRunning
	c.lastErr = nil
	c.mu.Unlock()

	observability.KernelUp.Set(1)
	c.logger.Info("kernel started", slog.String("session_id", id))
	return nil
}

// restartLocked stops the current interpreter and starts a new one. The
// guard must be held.
// A caller that goes away mid-restart must not leave the kernel half started,
// so ctx only contributes its values, not its cancellation.
func (c *Controller) restartLocked(ctx context.Context, trigger string) RestartResult {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	old := c.session
	c.session = nil
	c.state = StateRestarting
	c.mu.Unlock()

	oldID := ""
	if old != nil {
		oldID = old.ID()
		c.terminate(ctx, old)
	}
	observability.KernelUp.Set(0)

	c.logger.Info("restarting kernel",
		slog.String("trigger", trigger),
		slog.String("previous_session_id", oldID),
	)

	time.Sleep(c.cfg.RestartDelay)

	if err := c.startLocked(ctx); err != nil {
		c.logger.Error("kernel restart failed", slog.String("error", err.Error()))
		observability.KernelRestartsTotal.WithLabelValues(trigger, "error").Inc()
		return RestartResult{Status: RestartStatusError, Message: err.Error()}
	}

	observability.KernelRestartsTotal.WithLabelValues(trigger, "ok").Inc()
	return RestartResult{Status: RestartStatusRestarted}
}

// finishImplicitRestart turns a restart-needed result into the result the
// caller sees. The session id stays that of the interpreter that ran the code.
func (c *Controller) finishImplicitRestart(ctx context.Context, res Result) Result {
	out := c.restartLocked(ctx, triggerImplicit)
	if out.Status != RestartStatusRestarted {
		res.Status = StatusError
		res.Outputs = append(res.Outputs, ErrorRecord("RestartError", out.Message, nil))
		return res
	}
	res.Status = StatusOK
	res.Outputs = append(res.Outputs, restartNotice...)
	return res
}

// beginRestart severs the current interpreter and registers a pending
// restart, or joins the one already pending.
func (c *Controller) beginRestart(ctx context.Context) *pendingRestart {
	c.mu.Lock()
	if c.pending != nil {
		p := c.pending
		c.mu.Unlock()
		return p
	}
	p := &pendingRestart{done: make(chan struct{})}
	c.pending = p
	sess := c.session
	c.state = StateRestarting
	c.mu.Unlock()

	if sess != nil {
		c.terminate(ctx, sess)
	}
	return p
}

// completePending runs a pending restart unless someone already did. The
// guard must be held.
func (c *Controller) completePending(ctx context.Context, p *pendingRestart) {
	select {
	case <-p.done:
		return
	default:
	}

	p.result = c.restartLocked(ctx, triggerExplicit)

	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
	close(p.done)
}

func (c *Controller) currentPending() *pendingRestart {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending
}

func (c *Controller) currentSession() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// terminate stops an interpreter that is being replaced. A busy interpreter
// is killed rather than given ShutdownTimeout to finish.
func (c *Controller) terminate(ctx context.Context, sess *Session) error {
	if k, ok := sess.handle.(Killer); ok {
		if err := k.Kill(); err != nil {
			c.logger.Warn("failed to kill interpreter",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
	return c.shutdown(ctx, sess)
}

// shutdown stops an interpreter, logging but otherwise ignoring failures.
func (c *Controller) shutdown(ctx context.Context, sess *Session) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
	defer cancel()

	err := sess.handle.Shutdown(shutdownCtx)
	if err != nil {
		c.logger.Warn("failed to shut down interpreter",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// fail records err as the reason for the error state and returns it.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state = StateError
	c.lastErr = err
	c.mu.Unlock()
	observability.KernelUp.Set(0)
	return err
}

func (c *Controller) notRunningError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateError && c.lastErr != nil {
		return fmt.Errorf("%w: %v", ErrNotStarted, c.lastErr)
	}
	return ErrNotStarted
}

// describe summarizes a failed result for an error message.
func describe(res Result) string {
	var parts []string
	for _, out := range res.Outputs {
		if out.Type == OutputError {
			parts = append(parts, fmt.Sprintf("%s: %s", out.EName, out.EValue))
		}
	}
	if len(parts) == 0 {
		return string(res.Status)
	}
	return strings.Join(parts, "; ")
}

