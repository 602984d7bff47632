package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/postal/internal/observability"
	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/codec"
	"github.com/danmuck/postal/internal/protocol/frame"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrHandlerExists rejects a second handler for one kind.
var ErrHandlerExists = errors.New("session: handler already registered")

// Handler serves one request kind. The returned values are encoded as the
// response when the kind declares one and ignored otherwise.
type Handler func(ctx context.Context, req codec.Values) (codec.Values, error)

// DispatchError reports a failed ProcessOne step. ReplyOwed is set when the
// peer may be blocked waiting for a response that was never written.
// Unaligned is set when the request frame was not read completely, so the
// stream position is unknown.
type DispatchError struct {
	Kind      string
	Tag       protocol.Tag
	ReplyOwed bool
	Unaligned bool
	Err       error
}

func (e *DispatchError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("session: dispatch tag %d: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("session: dispatch %s (tag %d): %v", e.Kind, e.Tag, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Server dispatches request frames to registered handlers. One stream is
// served strictly sequentially; separate streams are independent.
type Server struct {
	reg    *schema.Registry
	limits frame.Limits
	read   time.Duration
	write  time.Duration
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

type ServerOption func(*Server)

func WithServerLimits(l frame.Limits) ServerOption {
	return func(s *Server) { s.limits = l }
}

func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithTimeouts arms per-operation deadlines on connections accepted by
// ListenAndServe. A read timeout doubles as an idle timeout.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.read = read
		s.write = write
	}
}

func NewServer(reg *schema.Registry, opts ...ServerOption) *Server {
	s := &Server{
		reg:      reg,
		limits:   frame.DefaultLimits(),
		logger:   log.Logger.With().Str("component", "session.server").Logger(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Registry() *schema.Registry { return s.reg }

// Handle registers h for kind. The kind must declare a request section.
func (s *Server) Handle(kind string, h Handler) error {
	m, ok := s.reg.Message(kind)
	if !ok {
		return fmt.Errorf("%w: kind %q", protocol.ErrUnknownMessage, kind)
	}
	if m.Request == nil {
		return fmt.Errorf("%w: kind %q declares no request", protocol.ErrUnknownMessage, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.handlers[kind]; dup {
		return fmt.Errorf("%w: %s", ErrHandlerExists, kind)
	}
	s.handlers[kind] = h
	s.logger.Debug().Str("kind", kind).Uint32("tag", uint32(m.Tag)).Msg("handler registered")
	return nil
}

// CheckHandlers reports every request kind that has no handler, so a
// missing registration fails at startup rather than on first use.
func (s *Server) CheckHandlers() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, m := range s.reg.Messages() {
		if m.Request == nil {
			continue
		}
		if _, ok := s.handlers[m.Name]; !ok {
			missing = append(missing, m.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", protocol.ErrNoHandler, missing)
	}
	return nil
}

func (s *Server) handler(kind string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[kind]
	return h, ok
}

// ProcessOne reads one request frame from stream, invokes its handler and
// writes the response frame when the kind declares one. Failures are
// returned as *DispatchError.
func (s *Server) ProcessOne(ctx context.Context, stream io.ReadWriter) error {
	req, err := frame.ReadFrame(stream, s.limits)
	observability.RecordFrame(observability.DirectionIn, len(req.Payload), err)
	if err != nil {
		return &DispatchError{Unaligned: true, Err: err}
	}
	start := time.Now()

	m, ok := s.reg.Lookup(req.Tag)
	if !ok || m.Request == nil {
		// The sender may be waiting on a reply this unit cannot produce.
		return &DispatchError{Tag: req.Tag, ReplyOwed: true, Err: protocol.ErrUnknownMessage}
	}
	err = s.dispatch(ctx, stream, m, req)
	observability.RecordDispatch("server", m.Name, err, time.Since(start))
	if err != nil {
		return &DispatchError{Kind: m.Name, Tag: m.Tag, ReplyOwed: m.Response != nil, Err: err}
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, stream io.Writer, m *schema.MessageShape, req frame.Frame) error {
	values, err := codec.DecodeFrame(req, m.Request)
	if err != nil {
		return err
	}
	h, ok := s.handler(m.Name)
	if !ok {
		return protocol.ErrNoHandler
	}
	out, err := h(ctx, values)
	if err != nil {
		return fmt.Errorf("handler: %w", err)
	}
	if m.Response == nil {
		return nil
	}
	resp, err := codec.EncodeFrame(m.Tag, m.Response, out)
	if err != nil {
		return err
	}
	err = frame.WriteFrame(stream, resp, s.limits)
	observability.RecordFrame(observability.DirectionOut, len(resp.Payload), err)
	return err
}

// Serve runs ProcessOne until the peer disconnects or an error leaves the
// exchange unrecoverable. A clean disconnect returns nil. Any read failure,
// including a deadline, ends the loop. Failures after a whole frame was
// read on request-only kinds are logged and skipped.
func (s *Server) Serve(ctx context.Context, stream io.ReadWriter) error {
	rw := &bufferedStream{Reader: bufio.NewReader(stream), w: stream}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.ProcessOne(ctx, rw)
		if err == nil {
			continue
		}
		if errors.Is(err, protocol.ErrTransportClosed) {
			return nil
		}
		var de *DispatchError
		if errors.As(err, &de) && recoverable(de) {
			s.logger.Warn().Err(err).Str("kind", de.Kind).Msg("request dropped")
			continue
		}
		return err
	}
}

// bufferedStream reads through a buffer owned by one Serve loop and writes
// straight to the stream.
type bufferedStream struct {
	*bufio.Reader
	w io.Writer
}

func (b *bufferedStream) Write(p []byte) (int, error) { return b.w.Write(p) }

func (b *bufferedStream) Flush() error {
	if f, ok := b.w.(frame.Flusher); ok {
		return f.Flush()
	}
	return nil
}

// recoverable failures leave the stream aligned and nobody waiting.
func recoverable(de *DispatchError) bool {
	if de.ReplyOwed || de.Unaligned {
		return false
	}
	return !errors.Is(de.Err, protocol.ErrMalformedFrame)
}

// ListenAndServe accepts connections until ctx ends or ln fails, serving
// each on its own goroutine. Cancelling ctx closes the listener and every
// open connection.
func (s *Server) ListenAndServe(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu    sync.Mutex
		conns = make(map[string]net.Conn)
	)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			id := uuid.NewString()
			mu.Lock()
			conns[id] = conn
			mu.Unlock()

			g.Go(func() error {
				s.serveConn(gctx, id, conn)
				mu.Lock()
				delete(conns, id)
				mu.Unlock()
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *Server) serveConn(ctx context.Context, id string, conn net.Conn) {
	observability.ConnectionOpened()
	defer observability.ConnectionClosed()
	defer conn.Close()

	logger := s.logger.With().Str("conn", id).Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("connection opened")

	var stream net.Conn = conn
	if s.read > 0 || s.write > 0 {
		stream = &deadlineConn{Conn: conn, read: s.read, write: s.write}
	}
	if err := s.Serve(ctx, stream); err != nil && ctx.Err() == nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			logger.Info().Err(err).Msg("connection timed out")
			return
		}
		logger.Warn().Err(err).Msg("connection closed with error")
		return
	}
	logger.Info().Msg("connection closed")
}
