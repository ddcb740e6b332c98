// Package subprocess runs the interpreter as a local child process.
package subprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sakif/notebook-server/internal/kernel"
	"github.com/sakif/notebook-server/internal/kernel/driver"
)

// Config configures the local launcher.
type Config struct {
	// Python is the interpreter executable, looked up in PATH.
	Python string
	// Dir is the working directory of the interpreter. Empty means the
	// server's own working directory.
	Dir string
	// Env is appended to the server's environment.
	Env []string
}

// DefaultConfig returns a Config that runs python3 from PATH.
func DefaultConfig() Config {
	return Config{
		Python: "python3",
		Env:    []string{"MPLBACKEND=Agg", "PYTHONUNBUFFERED=1"},
	}
}

// Launcher starts interpreters as child processes.
type Launcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Launcher. It does not check that the interpreter exists;
// that surfaces from Start.
func New(cfg Config, logger *slog.Logger) *Launcher {
	if cfg.Python == "" {
		cfg.Python = DefaultConfig().Python
	}
	return &Launcher{cfg: cfg, logger: logger}
}

// Start implements kernel.Launcher. The process is not tied to ctx: ctx
// only bounds the wait for the driver's ready event.
func (l *Launcher) Start(ctx context.Context) (kernel.Handle, error) {
	cmd := exec.Command(l.cfg.Python, driver.Args()...)
	cmd.Dir = l.cfg.Dir
	cmd.Env = append(os.Environ(), l.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: stdin pipe: %w", err)
	}
	// os.Pipe instead of StdoutPipe: Wait closes StdoutPipe readers as soon
	// as the process exits, which would drop events still in the pipe.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("subprocess: stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("subprocess: starting %s: %w", l.cfg.Python, err)
	}

	logger := l.logger.With(slog.Int("pid", cmd.Process.Pid))
	p := &Process{
		cmd:    cmd,
		conn:   driver.NewConn(stdin, stdout, logger),
		stdout: stdout,
		exited: make(chan struct{}),
		logger: logger,
	}
	go relayStderr(stderr, logger)
	go p.wait()

	if err := p.conn.WaitReady(ctx); err != nil {
		_ = p.Shutdown(context.Background())
		return nil, fmt.Errorf("subprocess: %w", err)
	}

	logger.Debug("interpreter process ready")
	return p, nil
}

// Process is a running interpreter child process.
type Process struct {
	cmd    *exec.Cmd
	conn   *driver.Conn
	stdout *os.File
	logger *slog.Logger

	exited  chan struct{}
	waitErr error

	shutdownOnce sync.Once
	shutdownErr  error
}

// wait reaps the process.
func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
	p.logger.Debug("interpreter process exited", slog.Any("status", p.waitErr))
}

// Submit implements kernel.Handle.
func (p *Process) Submit(ctx context.Context, source string) (string, error) {
	return p.conn.Submit(ctx, source)
}

// NextEvent implements kernel.Handle.
func (p *Process) NextEvent(timeout time.Duration) (kernel.Event, error) {
	return p.conn.NextEvent(timeout)
}

// Alive implements kernel.Handle.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return p.conn.Open()
	}
}

// Kill implements kernel.Killer. It stops the process without waiting for
// the running submission.
func (p *Process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("subprocess: killing interpreter: %w", err)
	}
	return nil
}

// Shutdown closes stdin so the driver exits on its own, and kills the
// process if it has not exited when ctx ends.
func (p *Process) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		_ = p.conn.Close()
		defer p.stdout.Close()

		select {
		case <-p.exited:
			return
		case <-ctx.Done():
		}

		p.logger.Warn("interpreter did not exit, killing it")
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.shutdownErr = fmt.Errorf("subprocess: killing interpreter: %w", err)
			return
		}
		<-p.exited
	})
	return p.shutdownErr
}

// relayStderr forwards interpreter stderr to the log, one line at a time.
func relayStderr(r io.ReadCloser, logger *slog.Logger) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		logger.Debug("interpreter stderr", slog.String("line", sc.Text()))
	}
}
