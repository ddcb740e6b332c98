package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config holds the timing knobs of the execution protocol. They are plain
// values so tests can shrink them.
type Config struct {
	// ExecutionTimeout is the wall-clock ceiling of one submission.
	ExecutionTimeout time.Duration
	// PollInterval bounds each wait for the next interpreter event.
	PollInterval time.Duration
	// DrainWindow caps how long stale events from an earlier submission are drained.
	DrainWindow time.Duration
	// DrainPoll is the per-event wait while draining stale events.
	DrainPoll time.Duration
	// PreambleTimeout caps the wait for the override preamble to finish.
	PreambleTimeout time.Duration
	// RestartDelay is the pause between stopping the old interpreter and starting a new one.
	RestartDelay time.Duration
	// StartupTimeout bounds launching the interpreter and running SetupCode.
	StartupTimeout time.Duration
	// ShutdownTimeout bounds stopping an interpreter.
	ShutdownTimeout time.Duration
	// SetupCode runs silently after every start. Empty means the package SetupCode.
	SetupCode string
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ExecutionTimeout: 300 * time.Second,
		PollInterval:     time.Second,
		DrainWindow:      2 * time.Second,
		DrainPoll:        100 * time.Millisecond,
		PreambleTimeout:  10 * time.Second,
		RestartDelay:     time.Second,
		StartupTimeout:   30 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		SetupCode:        SetupCode,
	}
}

// withDefaults fills zero durations from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = d.ExecutionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DrainWindow <= 0 {
		c.DrainWindow = d.DrainWindow
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = d.DrainPoll
	}
	if c.PreambleTimeout <= 0 {
		c.PreambleTimeout = d.PreambleTimeout
	}
	if c.RestartDelay < 0 {
		c.RestartDelay = 0
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = d.StartupTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.SetupCode == "" {
		c.SetupCode = d.SetupCode
	}
	return c
}

// Session runs submissions against one interpreter Handle. It does no
// locking of its own; callers serialize Run through a Guard.
type Session struct {
	handle Handle
	id     string
	cfg    Config
	logger *slog.Logger
}

// NewSession wraps a started handle. id is the opaque session id reported
// to clients for this interpreter instance.
func NewSession(h Handle, id string, cfg Config, logger *slog.Logger) *Session {
	return &Session{
		handle: h,
		id:     id,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// ID returns the session id of this interpreter instance.
func (s *Session) ID() string { return s.id }

// Alive reports whether the underlying interpreter is still running.
func (s *Session) Alive() bool { return s.handle.Alive() }

// Run executes one request to completion:
//
//  1. drain stale events left by an earlier (possibly timed out) submission
//  2. apply the show/exit override preamble, waiting briefly for it
//  3. submit the source, tagged with "# Cell N" when a nonzero sequence id is given
//  4. collect this submission's events until idle, restart request or ceiling
//
// Failures talking to the interpreter become a single ExecutionError record.
func (s *Session) Run(ctx context.Context, req Request) Result {
	if err := s.drainStale(); err != nil {
		return executionErrorResult(fmt.Errorf("draining stale events: %w", err), s.id)
	}

	if err := s.applyPreamble(ctx); err != nil {
		return executionErrorResult(fmt.Errorf("applying preamble: %w", err), s.id)
	}

	source := req.Code
	if req.SequenceID != nil && *req.SequenceID != 0 {
		source = fmt.Sprintf("# Cell %d\n%s", *req.SequenceID, req.Code)
	}

	msgID, err := s.handle.Submit(ctx, source)
	if err != nil {
		return executionErrorResult(fmt.Errorf("submitting code: %w", err), s.id)
	}

	res, err := s.collect(msgID)
	if err != nil {
		return executionErrorResult(fmt.Errorf("reading interpreter output: %w", err), s.id)
	}
	return res
}

// drainStale discards whatever is already queued on the event stream.
func (s *Session) drainStale() error {
	deadline := time.Now().Add(s.cfg.DrainWindow)
	discarded := 0
	for time.Now().Before(deadline) {
		_, err := s.handle.NextEvent(s.cfg.DrainPoll)
		if errors.Is(err, ErrNoEvent) {
			break
		}
		if err != nil {
			return err
		}
		discarded++
	}
	if discarded > 0 {
		s.logger.Debug("discarded stale interpreter events", slog.Int("count", discarded))
	}
	return nil
}

// applyPreamble submits overridePreamble and waits for its idle marker.
// Running out of events or time is not an error: the wait is best effort.
func (s *Session) applyPreamble(ctx context.Context) error {
	msgID, err := s.handle.Submit(ctx, overridePreamble)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.PreambleTimeout)
	for time.Now().Before(deadline) {
		ev, err := s.handle.NextEvent(s.cfg.PollInterval)
		if errors.Is(err, ErrNoEvent) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.ParentID != msgID {
			continue
		}
		if ev.Type == EventError {
			s.logger.Warn("override preamble raised",
				slog.String("ename", ev.EName),
				slog.String("evalue", ev.EValue),
			)
		}
		if ev.Type == EventStatus && ev.State == StateIdle {
			return nil
		}
	}
	return nil
}

// collect drains events for msgID. It returns an error only when the event
// stream itself failed.
func (s *Session) collect(msgID string) (Result, error) {
	res := Result{
		Outputs:   []OutputRecord{},
		Status:    StatusOK,
		SessionID: s.id,
	}

	start := time.Now()
	for {
		remaining := s.cfg.ExecutionTimeout - time.Since(start)
		if remaining <= 0 {
			s.logger.Warn("execution exceeded ceiling",
				slog.Duration("ceiling", s.cfg.ExecutionTimeout),
			)
			res.Status = StatusTimeout
			res.Outputs = append(res.Outputs, timeoutRecord(s.cfg.ExecutionTimeout))
			return res, nil
		}

		ev, err := s.handle.NextEvent(min(s.cfg.PollInterval, remaining))
		if errors.Is(err, ErrNoEvent) {
			continue
		}
		if err != nil {
			return Result{}, err
		}

		// Late events of an earlier submission, or of the preamble.
		if ev.ParentID != msgID {
			continue
		}

		rec, outcome := Classify(ev)
		if rec != nil {
			res.Outputs = append(res.Outputs, *rec)
		}

		switch outcome {
		case OutcomeError:
			res.Status = StatusError
		case OutcomeRestart:
			res.Status = StatusRestartNeeded
			return res, nil
		case OutcomeIdle:
			return res, nil
		}
	}
}
