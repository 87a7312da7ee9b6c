package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/evilpsycho42/mem-cli/internal/lock"
)

// Client forwards CLI invocations to the daemon, spawning one when none
// is reachable.
type Client struct {
	cfg Config
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the daemon socket with the handshake timeout.
func (c *Client) Connect() (net.Conn, error) {
	return net.DialTimeout("unix", c.cfg.SocketPath(), c.cfg.HandshakeTimeout)
}

// Ping sends a ping request and returns the decoded response.
func (c *Client) Ping(ctx context.Context) (*Response, error) {
	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return c.roundTrip(ctx, conn, Request{Type: TypePing, ProtocolVersion: ProtocolVersion, ClientVersion: c.cfg.BuildVersion}, c.cfg.HandshakeTimeout)
}

// Shutdown sends a shutdown request and returns once the daemon has
// acknowledged it.
func (c *Client) Shutdown(ctx context.Context) (*Response, error) {
	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return c.roundTrip(ctx, conn, Request{Type: TypeShutdown, ProtocolVersion: ProtocolVersion, ClientVersion: c.cfg.BuildVersion}, c.cfg.HandshakeTimeout)
}

// Run forwards one CLI invocation to the daemon. If the response indicates
// restartRequired, it shuts the daemon down and retries exactly once.
func (c *Client) Run(ctx context.Context, argv []string, stdin string) (*Response, error) {
	resp, err := c.run(ctx, argv, stdin)
	if err != nil {
		return nil, err
	}
	if !resp.RestartRequired {
		return resp, nil
	}

	if _, serr := c.Shutdown(ctx); serr != nil {
		return nil, fmt.Errorf("daemon: shutdown after version mismatch: %w", serr)
	}
	if _, err := c.EnsureRunning(ctx); err != nil {
		return nil, err
	}
	return c.run(ctx, argv, stdin)
}

func (c *Client) run(ctx context.Context, argv []string, stdin string) (*Response, error) {
	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := Request{
		Type:            TypeRun,
		ProtocolVersion: ProtocolVersion,
		ClientVersion:   c.cfg.BuildVersion,
		Argv:            argv,
		Stdin:           stdin,
	}
	return c.roundTrip(ctx, conn, req, c.cfg.RunTimeout)
}

func (c *Client) roundTrip(ctx context.Context, conn net.Conn, req Request, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("daemon: set deadline: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	body = append(body, '\n')
	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("daemon: send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("daemon: read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("daemon: decode response: %w", err)
	}
	return &resp, nil
}

// EnsureRunning pings the daemon, and on failure acquires a start-lock
// distinct from the workspace index lock, re-pings
// (another client may have won the race), and otherwise spawn a detached
// daemon and wait for it to become reachable.
func (c *Client) EnsureRunning(ctx context.Context) (*Response, error) {
	if resp, err := c.Ping(ctx); err == nil {
		return resp, nil
	}

	if err := c.cfg.EnsureDir(); err != nil {
		return nil, err
	}

	handle, err := lock.Acquire(c.cfg.StartLockPath(), lock.Options{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("daemon: acquire start-lock: %w", err)
	}
	defer handle.Release()

	if resp, err := c.Ping(ctx); err == nil {
		return resp, nil
	}

	if err := c.spawn(); err != nil {
		return nil, fmt.Errorf("daemon: spawn: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := c.Ping(ctx); err == nil {
			return resp, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("daemon: timed out waiting for spawned daemon to become ready")
}

// spawn launches a detached child running this executable with
// `__daemon --serve`.
func (c *Client) spawn() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "__daemon", "--serve")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
