package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/postal/internal/observability"
	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/codec"
	"github.com/danmuck/postal/internal/protocol/frame"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Client sends requests for one registry over one stream. Exchanges are
// serialized: a call holds the stream from its write through its paired
// read.
type Client struct {
	reg    *schema.Registry
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer
	sem    *semaphore.Weighted
	limits frame.Limits
	logger zerolog.Logger
}

type ClientOption func(*Client)

func WithClientLimits(l frame.Limits) ClientOption {
	return func(c *Client) { c.limits = l }
}

func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient takes ownership of stream; nothing else may read from it.
func NewClient(stream io.ReadWriter, reg *schema.Registry, opts ...ClientOption) *Client {
	c := &Client{
		reg:    reg,
		r:      bufio.NewReader(stream),
		w:      stream,
		sem:    semaphore.NewWeighted(1),
		limits: frame.DefaultLimits(),
		logger: log.Logger.With().Str("component", "session.client").Logger(),
	}
	if cl, ok := stream.(io.Closer); ok {
		c.closer = cl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs one exchange. For a kind without a response section it
// returns (nil, nil) once the request is written. ctx bounds the wait for
// the stream; once the request is written the call runs to completion.
func (c *Client) Send(ctx context.Context, kind string, v codec.Values) (codec.Values, error) {
	start := time.Now()
	out, err := c.send(ctx, kind, v)
	observability.RecordDispatch("client", c.kindLabel(kind), err, time.Since(start))
	if err != nil {
		c.logger.Debug().Err(err).Str("kind", kind).Msg("send failed")
	}
	return out, err
}

// kindLabel keeps caller-supplied strings out of metric labels.
func (c *Client) kindLabel(kind string) string {
	if _, ok := c.reg.Message(kind); ok {
		return kind
	}
	return observability.KindUnknown
}

// SendAsync runs Send on a new goroutine.
func (c *Client) SendAsync(ctx context.Context, kind string, v codec.Values) *Future {
	return newFuture(func() (codec.Values, error) {
		return c.Send(ctx, kind, v)
	})
}

func (c *Client) send(ctx context.Context, kind string, v codec.Values) (codec.Values, error) {
	m, ok := c.reg.Message(kind)
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", protocol.ErrUnknownMessage, kind)
	}
	if m.Request == nil {
		return nil, fmt.Errorf("%w: kind %q declares no request", protocol.ErrUnknownMessage, kind)
	}
	req, err := codec.EncodeFrame(m.Tag, m.Request, v)
	if err != nil {
		return nil, err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	err = frame.WriteFrame(c.w, req, c.limits)
	observability.RecordFrame(observability.DirectionOut, len(req.Payload), err)
	if err != nil {
		return nil, err
	}
	if m.Response == nil {
		return nil, nil
	}

	resp, err := frame.ReadFrame(c.r, c.limits)
	observability.RecordFrame(observability.DirectionIn, len(resp.Payload), err)
	if err != nil {
		return nil, err
	}
	shape, ok := c.reg.Response(resp.Tag)
	if !ok {
		return nil, fmt.Errorf("%w: response tag %d", protocol.ErrUnknownMessage, resp.Tag)
	}
	if resp.Tag != m.Tag {
		got, _ := c.reg.Lookup(resp.Tag)
		return nil, fmt.Errorf("%w: sent %s, received %s", protocol.ErrUnexpectedResponse, m.Name, got.Name)
	}
	return codec.DecodeFrame(resp, shape)
}

// Close closes the underlying stream when it is closable.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
