package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/javanstorm/vmhost/internal/console"
	"github.com/javanstorm/vmhost/internal/disk"
	"github.com/javanstorm/vmhost/internal/vm"
)

// Lifecycle is the state machine the server dispatches to.
type Lifecycle interface {
	Status(name string) vm.State
	Start(ctx context.Context, req vm.StartRequest) (*vm.Instance, error)
	Stop(ctx context.Context, name string) (*vm.StopResult, error)
	Kill(ctx context.Context, name string) (*vm.StopResult, error)
	List(ctx context.Context) []string
	Address(ctx context.Context, name string) (netip.Addr, error)
	Available() ([]string, error)
}

// RequestObserver records finished requests.
type RequestObserver interface {
	ObserveRequest(action, outcome string, d time.Duration)
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// ReadTimeout bounds how long a client may take to send its request.
	// Zero disables the deadline.
	ReadTimeout time.Duration

	// Observer is optional.
	Observer RequestObserver

	Logger *slog.Logger
}

// Server accepts one request per connection and dispatches it to a Lifecycle.
type Server struct {
	lifecycle Lifecycle
	opts      ServerOptions
	logger    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
}

// NewServer creates a server for lifecycle.
func NewServer(lifecycle Lifecycle, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		lifecycle: lifecycle,
		opts:      opts,
		logger:    logger.With("component", "rpc"),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// waits for in-flight requests to finish. Requests are dispatched with a
// context that is not cancelled by shutdown or by the client going away.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.InfoContext(ctx, "serving", "address", ln.Addr().String())
	base := context.WithoutCancel(ctx)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.conns.Wait()
				s.logger.InfoContext(ctx, "listener closed", "address", ln.Addr().String())
				return nil
			}

			// EMFILE, ECONNABORTED and the like are transient.
			backoff = nextAcceptBackoff(backoff)
			s.logger.WarnContext(ctx, "accept failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handle(base, conn)
		}()
	}
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// nextAcceptBackoff doubles d from minAcceptBackoff up to maxAcceptBackoff.
func nextAcceptBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	return min(2*d, maxAcceptBackoff)
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// response collects the lines written back to the client.
type response struct {
	w       *bufio.Writer
	outcome string
}

func (r *response) line(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
	r.w.WriteByte('\n')
}

func (r *response) fail(outcome, format string, args ...any) {
	r.outcome = outcome
	r.line(format, args...)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	began := time.Now()
	remote := conn.RemoteAddr().String()
	resp := &response{w: bufio.NewWriter(conn), outcome: "ok"}
	action := "unknown"
	logger := s.logger.With("remote", remote)

	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "request handler panicked", "panic", p, "stack", string(debug.Stack()))
			resp.fail("internal", msgInternal)
		}
		if err := resp.w.Flush(); err != nil {
			logger.WarnContext(ctx, "write response", "error", err)
		}
		conn.Close()

		elapsed := time.Since(began)
		if s.opts.Observer != nil {
			s.opts.Observer.ObserveRequest(action, resp.outcome, elapsed)
		}
		logger.InfoContext(ctx, "request handled", "action", action, "outcome", resp.outcome, "duration", elapsed)
	}()

	payload, err := s.read(conn)
	if err != nil {
		if errors.Is(err, ErrRequestTooLarge) {
			resp.fail("rejected", msgRequestTooLarge)
			return
		}
		// The client is gone or too slow; nobody reads a reply.
		logger.WarnContext(ctx, "read request", "error", err)
		resp.outcome = "read_error"
		return
	}

	req, err := DecodeRequest(payload)
	switch {
	case errors.Is(err, ErrUnknownAction):
		resp.fail("rejected", msgUnknownAction, req.Action)
		return
	case err != nil:
		logger.DebugContext(ctx, "malformed request", "payload", string(payload), "error", err)
		resp.fail("rejected", msgNoAction)
		return
	}
	action = req.Action
	logger = logger.With("action", action, "vm", req.VMName)
	logger.DebugContext(ctx, "request received")

	s.dispatch(ctx, logger, req, resp)
}

func (s *Server) read(conn net.Conn) ([]byte, error) {
	if s.opts.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	payload, err := io.ReadAll(io.LimitReader(conn, MaxRequestSize+1))
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxRequestSize {
		return nil, ErrRequestTooLarge
	}
	return payload, nil
}

// dispatch validates the target name, runs the pre-check and hands the
// request to the lifecycle. The pre-check is a hint only; the lifecycle
// repeats it under the name's lock.
func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, req *Request, resp *response) {
	var name string
	if NeedsName(req.Action) {
		n, err := vm.NormalizeName(req.VMName)
		switch {
		case errors.Is(err, vm.ErrNoName):
			resp.fail("rejected", msgNoName)
			return
		case err != nil:
			resp.fail("rejected", msgInvalidName, strings.TrimSpace(req.VMName))
			return
		}
		name = n

		state := s.lifecycle.Status(name)
		if req.Action == ActionStart {
			if state != vm.StateAbsent && state != vm.StateFailed {
				resp.fail("rejected", msgAlreadyStarted, name)
				return
			}
		} else if state == vm.StateAbsent {
			resp.fail("rejected", msgNotRunning, name)
			return
		}
	}

	switch req.Action {
	case ActionStart:
		s.start(ctx, logger, name, req, resp)
	case ActionStop, ActionKill:
		s.stop(ctx, logger, name, req.Action, resp)
	case ActionList:
		s.list(ctx, resp)
	case ActionAddress:
		s.address(ctx, logger, name, resp)
	case ActionAvailable:
		s.available(ctx, logger, resp)
	}
}

func (s *Server) start(ctx context.Context, logger *slog.Logger, name string, req *Request, resp *response) {
	resp.line(msgStarting, name)

	_, err := s.lifecycle.Start(ctx, vm.StartRequest{Name: name, Memory: req.Memory, CPUs: req.CPU})
	switch {
	case err == nil:
		resp.line(msgStarted, name)
	case errors.Is(err, vm.ErrAlreadyStarted):
		resp.fail("rejected", msgAlreadyStarted, name)
	case errors.Is(err, vm.ErrInvalidResources):
		reason := strings.TrimPrefix(err.Error(), vm.ErrInvalidResources.Error()+": ")
		resp.fail("rejected", msgInvalidResources, name, reason)
	case errors.Is(err, disk.ErrAttach):
		logger.ErrorContext(ctx, "start failed", "error", err)
		resp.fail("error", msgAttachFailed)
	case errors.Is(err, vm.ErrSpawn):
		logger.ErrorContext(ctx, "start failed", "error", err)
		resp.fail("error", msgSpawnFailed, name)
	default:
		logger.ErrorContext(ctx, "start failed", "error", err)
		resp.fail("internal", msgInternal)
	}
}

func (s *Server) stop(ctx context.Context, logger *slog.Logger, name, action string, resp *response) {
	transition := s.lifecycle.Stop
	if action == ActionKill {
		transition = s.lifecycle.Kill
	}

	res, err := transition(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, vm.ErrAlreadyStopped):
		resp.fail("already_stopped", msgAlreadyStopped, name)
		return
	case errors.Is(err, vm.ErrNotRunning):
		resp.fail("rejected", msgNotRunning, name)
		return
	default:
		logger.ErrorContext(ctx, action+" failed", "error", err)
		resp.fail("internal", msgInternal)
		return
	}

	resp.line(msgAttempting, action, name)
	if res.DetachErr != nil {
		resp.outcome = "detach_error"
		resp.line(msgDetachFailed, name)
		resp.line(msgCheckLogs)
	}
	resp.line(msgStopped, name)
}

func (s *Server) list(ctx context.Context, resp *response) {
	names := s.lifecycle.List(ctx)
	if len(names) == 0 {
		resp.line(msgNoRunning)
		return
	}
	resp.line(msgRunningHeader)
	for _, n := range names {
		resp.line("\t%s", n)
	}
}

func (s *Server) address(ctx context.Context, logger *slog.Logger, name string, resp *response) {
	addr, err := s.lifecycle.Address(ctx, name)
	switch {
	case err == nil:
		resp.line(msgAddress, name, addr)
	case errors.Is(err, console.ErrAddressUnavailable):
		resp.fail("unavailable", msgNoAddress)
	case errors.Is(err, vm.ErrNotRunning):
		resp.fail("rejected", msgNotRunning, name)
	default:
		logger.ErrorContext(ctx, "address discovery failed", "error", err)
		resp.fail("internal", msgInternal)
	}
}

func (s *Server) available(ctx context.Context, logger *slog.Logger, resp *response) {
	names, err := s.lifecycle.Available()
	if err != nil {
		logger.ErrorContext(ctx, "list images", "error", err)
		resp.fail("internal", msgInternal)
		return
	}
	resp.line(msgAvailableHeader)
	for _, n := range names {
		resp.line("\t%s", n)
	}
}
