// Package docker runs the interpreter inside a docker container: one
// pre-warmed container per interpreter instance, with the driver program
// started through an attached exec.
package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/notebook-server/internal/kernel"
	"github.com/sakif/notebook-server/internal/kernel/driver"
)

// Launcher implements kernel.Launcher using docker.
type Launcher struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New connects to the docker daemon, makes sure the image is present and
// starts warming the container pool.
func New(cfg Config, logger *slog.Logger) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PullTimeout)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	// Read everything to block until the pull is complete
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()
	logger.Info("docker image is ready")

	l := &Launcher{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
	l.pool.Start()
	return l, nil
}

// Close stops the pool and the docker client. Interpreters already handed
// out are removed by their own Shutdown.
func (l *Launcher) Close() error {
	l.pool.Stop()
	return l.cli.Close()
}

// Start implements kernel.Launcher.
func (l *Launcher) Start(ctx context.Context) (kernel.Handle, error) {
	containerID, err := l.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}
	logger := l.logger.With(slog.String("container_id", shortID(containerID)))

	c := &Container{
		cli:    l.cli,
		id:     containerID,
		logger: logger,
	}

	if err := c.attach(ctx, l.config.Python); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}

	if err := c.conn.WaitReady(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, fmt.Errorf("docker: %w", err)
	}

	logger.Debug("interpreter container ready")
	return c, nil
}

// Container is an interpreter running in its own container.
type Container struct {
	cli    *client.Client
	id     string
	execID string
	logger *slog.Logger

	hijacked *types.HijackedResponse
	conn     *driver.Conn

	shutdownOnce sync.Once
	shutdownErr  error
}

// attach starts the driver in the container with stdin attached and splits
// the multiplexed output into the event stream and the stderr log.
func (c *Container) attach(ctx context.Context, python string) error {
	execResp, err := c.cli.ContainerExecCreate(ctx, c.id, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          append([]string{python}, driver.Args()...),
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}
	c.execID = execResp.ID

	resp, err := c.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach to exec: %w", err)
	}
	c.hijacked = &resp

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, err := stdcopy.StdCopy(stdoutW, stderrW, resp.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()
	go relayStderr(stderrR, c.logger)

	c.conn = driver.NewConn(stdinWriter{resp: c.hijacked}, stdoutR, c.logger)
	return nil
}

// Submit implements kernel.Handle.
func (c *Container) Submit(ctx context.Context, source string) (string, error) {
	return c.conn.Submit(ctx, source)
}

// NextEvent implements kernel.Handle.
func (c *Container) NextEvent(timeout time.Duration) (kernel.Event, error) {
	return c.conn.NextEvent(timeout)
}

// Alive implements kernel.Handle by asking the daemon whether the exec is
// still running.
func (c *Container) Alive() bool {
	if c.conn == nil || !c.conn.Open() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	inspect, err := c.cli.ContainerExecInspect(ctx, c.execID)
	if err != nil {
		return false
	}
	return inspect.Running
}

// Shutdown closes the attached streams and force removes the container.
func (c *Container) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		if c.hijacked != nil {
			c.hijacked.Close()
		}

		err := c.cli.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true})
		if err != nil {
			c.logger.Error("failed to remove container", slog.String("error", err.Error()))
			c.shutdownErr = fmt.Errorf("docker: removing container: %w", err)
		}
	})
	return c.shutdownErr
}

// stdinWriter half-closes the hijacked connection on Close so the driver
// sees end of input while its output can still be read.
type stdinWriter struct {
	resp *types.HijackedResponse
}

func (w stdinWriter) Write(p []byte) (int, error) { return w.resp.Conn.Write(p) }
func (w stdinWriter) Close() error                { return w.resp.CloseWrite() }

func relayStderr(r io.ReadCloser, logger *slog.Logger) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		logger.Debug("interpreter stderr", slog.String("line", sc.Text()))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
