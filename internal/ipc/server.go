package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"kactivitymanagerd/internal/logging"
)

// drainTimeout bounds how long Close waits for replies already being
// computed, so a Quit caller still receives its acknowledgement.
const drainTimeout = time.Second

// Controller is the daemon side of the control surface.
type Controller interface {
	Version() string
	RequestQuit()
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server
	svc       *service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	closeOnce sync.Once
	inflight  atomic.Int64
}

// NewServer creates the socket at path with owner-only permissions and
// registers the ActivityManager service. Any stale socket file is replaced;
// callers must hold the daemon claim.
func NewServer(ctx context.Context, path string, controller Controller, logger *slog.Logger) (*Server, error) {
	if controller == nil {
		return nil, errors.New("ipc server requires controller")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{controller: controller, logger: logger}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	previous := unix.Umask(0o077)
	listener, err := net.Listen("unix", path)
	unix.Umask(previous)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		svc:       svc,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// BeginShutdown makes ServiceVersion fail from now on. Quit calls it
// implicitly; the daemon calls it when shutting down for other reasons.
func (s *Server) BeginShutdown() {
	s.svc.quitting.Store(true)
}

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check runtime directory permissions"),
				)
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(&countingCodec{ServerCodec: jsonrpc.NewServerCodec(c), inflight: &s.inflight})
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Close stops accepting, closes live client connections and removes the
// socket file. It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.BeginShutdown()
		s.cancel()
		_ = s.listener.Close()
		s.drain()

		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.conns = nil
		s.mu.Unlock()

		s.wg.Wait()
		if err := os.RemoveAll(s.path); err != nil {
			logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
				logging.String("socket", s.path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "clients may report a stale endpoint"),
				logging.String(logging.FieldErrorHint, "remove the socket file manually"),
			)
		}
	})
}

func (s *Server) drain() {
	deadline := time.Now().Add(drainTimeout)
	for s.inflight.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// countingCodec tracks requests whose response has not been written yet.
type countingCodec struct {
	rpc.ServerCodec
	inflight *atomic.Int64
}

func (c *countingCodec) ReadRequestHeader(r *rpc.Request) error {
	if err := c.ServerCodec.ReadRequestHeader(r); err != nil {
		return err
	}
	c.inflight.Add(1)
	return nil
}

func (c *countingCodec) WriteResponse(r *rpc.Response, body any) error {
	defer c.inflight.Add(-1)
	return c.ServerCodec.WriteResponse(r, body)
}

type service struct {
	controller Controller
	logger     *slog.Logger
	quitting   atomic.Bool
}

func (s *service) Quit(_ QuitRequest, resp *QuitResponse) error {
	if s.quitting.Swap(true) {
		resp.Accepted = true
		return nil
	}
	s.logger.Info("quit requested",
		logging.String(logging.FieldEventType, "daemon_quit_requested"))
	resp.Accepted = true
	s.controller.RequestQuit()
	return nil
}

func (s *service) ServiceVersion(_ ServiceVersionRequest, resp *ServiceVersionResponse) error {
	if s.quitting.Load() {
		return ErrShuttingDown
	}
	resp.Version = s.controller.Version()
	return nil
}
