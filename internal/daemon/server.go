package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// CommandRunner executes one forwarded CLI invocation in-process and
// captures its output. cmd/mem supplies the
// implementation; daemon has no knowledge of the CLI's command tree.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, stdin string) (exitCode int, stdout string, stderr string)
}

type job struct {
	req  Request
	conn net.Conn
}

// Server accepts daemon connections and drains them through a single FIFO
// worker. Strict serialization keeps the embedding model's compute stream
// sequential and means the shared index store is never touched from two
// requests at once.
type Server struct {
	cfg       Config
	runner    CommandRunner
	providers *ProviderCache
	startedAt time.Time

	queue chan job

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates a Server that will listen per cfg and dispatch `run`
// requests to runner.
func NewServer(cfg Config, runner CommandRunner, providers *ProviderCache) *Server {
	return &Server{
		cfg:       cfg,
		runner:    runner,
		providers: providers,
		queue:     make(chan job, 32),
	}
}

// ListenAndServe binds the socket and blocks until ctx is cancelled, an
// idle timeout fires, or a client sends shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.cfg.EnsureDir(); err != nil {
		return fmt.Errorf("daemon: prepare socket dir: %w", err)
	}
	socketPath := s.cfg.SocketPath()
	_ = os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("daemon: chmod socket: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
		_ = os.Remove(s.cfg.StartLockPath())
		// Best-effort: the directory only goes away once it is empty.
		_ = os.Remove(s.cfg.SocketDir)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownRequested := make(chan struct{}, 1)
	go s.worker(ctx, shutdownRequested)

	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	accepted := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, aerr := listener.Accept()
			if aerr != nil {
				acceptErr <- aerr
				return
			}
			accepted <- conn
		}
	}()

	slog.Info("daemon listening", slog.String("socket", socketPath))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-shutdownRequested:
			return nil
		case <-idle.C:
			slog.Info("daemon idle timeout; exiting")
			return nil
		case conn := <-accepted:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.IdleTimeout)
			s.acceptOne(ctx, conn)
		case aerr := <-acceptErr:
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("daemon: accept: %w", aerr)
		}
	}
}

// acceptOne reads exactly one request from conn and enqueues it; the
// connection is closed by the worker once a response has been written.
func (s *Server) acceptOne(ctx context.Context, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout + s.cfg.RunTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		_ = conn.Close()
		return
	}
	var req Request
	if jerr := json.Unmarshal(line, &req); jerr != nil {
		writeResponse(conn, Response{Ok: false, ProtocolVersion: ProtocolVersion, Error: "malformed request"})
		_ = conn.Close()
		return
	}

	select {
	case s.queue <- job{req: req, conn: conn}:
	case <-ctx.Done():
		_ = conn.Close()
	}
}

// worker drains the FIFO queue strictly in order, one request at a time.
func (s *Server) worker(ctx context.Context, shutdownRequested chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			resp := s.handle(ctx, j.req)
			writeResponse(j.conn, resp)
			_ = j.conn.Close()
			if j.req.Type == TypeShutdown && resp.Ok {
				select {
				case shutdownRequested <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	// Shutdown is honored across versions: it is how a mismatched client
	// replaces a stale daemon.
	if mismatch := s.versionMismatch(req); mismatch != nil && req.Type != TypeShutdown {
		return *mismatch
	}

	switch req.Type {
	case TypePing:
		return s.handlePing()
	case TypeShutdown:
		return s.handlePing()
	case TypeRun:
		return s.handleRun(ctx, req)
	default:
		return Response{Ok: false, ProtocolVersion: ProtocolVersion, Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

func (s *Server) versionMismatch(req Request) *Response {
	if req.ProtocolVersion != 0 && req.ProtocolVersion != ProtocolVersion {
		return &Response{Ok: false, ProtocolVersion: ProtocolVersion, RestartRequired: true}
	}
	if req.ClientVersion != "" && s.cfg.BuildVersion != "" && req.ClientVersion != s.cfg.BuildVersion {
		return &Response{Ok: false, ProtocolVersion: ProtocolVersion, RestartRequired: true}
	}
	return nil
}

func (s *Server) handlePing() Response {
	return Response{
		Ok:              true,
		ProtocolVersion: ProtocolVersion,
		DaemonVersion:   s.cfg.BuildVersion,
		PID:             os.Getpid(),
		StartedAt:       s.startedAt.UnixMilli(),
		Embeddings:      s.providers.Stats(),
	}
}

func (s *Server) handleRun(ctx context.Context, req Request) Response {
	if s.runner == nil {
		return Response{Ok: false, ProtocolVersion: ProtocolVersion, Error: "no command runner configured"}
	}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	code, stdout, stderr := s.runner.Run(runCtx, req.Argv, req.Stdin)
	return Response{
		Ok:              true,
		ProtocolVersion: ProtocolVersion,
		ExitCode:        code,
		Stdout:          stdout,
		Stderr:          stderr,
	}
}

func writeResponse(conn net.Conn, resp Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	body = append(body, '\n')
	_, _ = conn.Write(body)
}

// Close stops the server and unblocks ListenAndServe.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		return l.Close()
	}
	return nil
}
