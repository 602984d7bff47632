package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/postal/internal/idl"
	"github.com/danmuck/postal/internal/observability"
	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/codec"
	"github.com/danmuck/postal/internal/protocol/frame"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/danmuck/postal/internal/testutil/testlog"
	"github.com/danmuck/postal/internal/testutil/tlstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sessionSource = `namespace Postal.Test;

enum Result { UnknownError; Success; CouldNotFindKey = 0x10; }

message GetStrings {
	request { mandatory string[] Names; }
	response {
		mandatory Result Result;
		string Message;
		string[] Values;
	}
}

message SetStrings {
	request { mandatory string Key; }
	response { mandatory Result Result; }
}

message Notify {
	request { mandatory string Text; }
}
`

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	def, err := idl.Parse(sessionSource)
	require.NoError(t, err)
	reg, err := schema.Build(def, "Messages")
	require.NoError(t, err)
	return reg
}

func tagOf(t *testing.T, reg *schema.Registry, kind string) protocol.Tag {
	t.Helper()
	tag, ok := reg.Tag(kind)
	require.True(t, ok, kind)
	return tag
}

// echoStrings answers GetStrings with the requested names upper-cased by
// prefix, so each reply is traceable to its request.
func echoStrings(_ context.Context, req codec.Values) (codec.Values, error) {
	names, _ := codec.Get[[]string](req, "Names")
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "v:" + n
	}
	return codec.Values{"Result": int64(1), "Values": out}, nil
}

// loopback feeds ProcessOne and Serve from a prepared input buffer and
// collects what they write.
type loopback struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func newLoopback() *loopback {
	return &loopback{in: new(bytes.Buffer), out: new(bytes.Buffer)}
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func (l *loopback) push(t *testing.T, reg *schema.Registry, kind string, v codec.Values) {
	t.Helper()
	m, ok := reg.Message(kind)
	require.True(t, ok)
	f, err := codec.EncodeFrame(m.Tag, m.Request, v)
	require.NoError(t, err)
	require.NoError(t, frame.WriteFrame(l.in, f, frame.DefaultLimits()))
}

func (l *loopback) pushRaw(t *testing.T, f frame.Frame) {
	t.Helper()
	require.NoError(t, frame.WriteFrame(l.in, f, frame.DefaultLimits()))
}

// pipeSession serves reg on one end of a net.Pipe and returns a client on
// the other. The returned wait blocks until Serve has returned.
func pipeSession(t *testing.T, srv *Server) (*Client, func() error) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), serverConn)
		_ = serverConn.Close()
	}()
	client := NewClient(clientConn, srv.Registry(), WithClientLogger(testlog.Logger(t)))
	return client, func() error {
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("serve did not return")
		}
	}
}

func TestSendReceivesHandlerValues(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	require.NoError(t, srv.Handle("GetStrings", echoStrings))
	require.NoError(t, srv.Handle("SetStrings", func(context.Context, codec.Values) (codec.Values, error) {
		return codec.Values{"Result": "CouldNotFindKey"}, nil
	}))

	client, wait := pipeSession(t, srv)
	got, err := client.Send(context.Background(), "GetStrings", codec.Values{"Names": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, codec.Values{"Result": int64(1), "Values": []string{"v:a", "v:b"}}, got)

	got, err = client.Send(context.Background(), "SetStrings", codec.Values{"Key": "k"})
	require.NoError(t, err)
	assert.Equal(t, codec.Values{"Result": int64(0x10)}, got)

	require.NoError(t, client.Close())
	assert.NoError(t, wait(), "a clean disconnect ends Serve without error")
}

func TestSendOneWayReturnsAfterWrite(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	seen := make(chan string, 1)
	require.NoError(t, srv.Handle("Notify", func(_ context.Context, req codec.Values) (codec.Values, error) {
		text, _ := codec.Get[string](req, "Text")
		seen <- text
		return codec.Values{"ignored": true}, nil
	}))

	client, wait := pipeSession(t, srv)
	got, err := client.Send(context.Background(), "Notify", codec.Values{"Text": "hello"})
	require.NoError(t, err)
	assert.Nil(t, got)

	select {
	case text := <-seen:
		assert.Equal(t, "hello", text)
	case <-time.After(5 * time.Second):
		t.Fatalf("notify handler never ran")
	}
	require.NoError(t, client.Close())
	assert.NoError(t, wait())
}

func TestSendRejectsBeforeWriting(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	lb := newLoopback()
	client := NewClient(lb, reg)

	_, err := client.Send(context.Background(), "Missing", nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)

	_, err = client.Send(context.Background(), "GetStrings", codec.Values{})
	assert.ErrorIs(t, err, protocol.ErrSchemaViolation)
	assert.Zero(t, lb.out.Len(), "nothing reaches the wire on a local violation")
	assert.NoError(t, client.Close())
}

func TestSendUnknownKindUsesFixedMetricLabel(t *testing.T) {
	testlog.Start(t)
	client := NewClient(newLoopback(), testRegistry(t))
	const bogus = "kind-that-never-existed-7f3a"
	_, err := client.Send(context.Background(), bogus, nil)
	require.ErrorIs(t, err, protocol.ErrUnknownMessage)
	assert.Equal(t, "GetStrings", client.kindLabel("GetStrings"))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var sawUnknown bool
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				require.NotEqual(t, bogus, lp.GetValue(), mf.GetName())
				if mf.GetName() == "postal_dispatch_requests_total" && lp.GetName() == "kind" && lp.GetValue() == observability.KindUnknown {
					sawUnknown = true
				}
			}
		}
	}
	assert.True(t, sawUnknown)
}

func TestSendSurfacesServerRejection(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	client := NewClient(clientConn, reg)
	defer client.Close()

	// Fake peer answering every request with the given frame.
	answer := func(reply frame.Frame) {
		go func() {
			if _, err := frame.ReadFrame(serverConn, frame.DefaultLimits()); err != nil {
				return
			}
			_ = frame.WriteFrame(serverConn, reply, frame.DefaultLimits())
		}()
	}

	setTag := tagOf(t, reg, "SetStrings")
	set, _ := reg.Response(setTag)
	wrong, err := codec.EncodeFrame(setTag, set, codec.Values{"Result": int64(1)})
	require.NoError(t, err)
	answer(wrong)
	_, err = client.Send(context.Background(), "GetStrings", codec.Values{"Names": []string{"x"}})
	assert.ErrorIs(t, err, protocol.ErrUnexpectedResponse)

	answer(frame.Frame{Tag: 4242})
	_, err = client.Send(context.Background(), "GetStrings", codec.Values{"Names": []string{"x"}})
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)

	answer(frame.Frame{Tag: tagOf(t, reg, "GetStrings")})
	_, err = client.Send(context.Background(), "GetStrings", codec.Values{"Names": []string{"x"}})
	assert.ErrorIs(t, err, protocol.ErrSchemaViolation, "response missing its mandatory Result")
}

func TestSendAsyncSerializesExchanges(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	require.NoError(t, srv.Handle("GetStrings", echoStrings))
	client, wait := pipeSession(t, srv)

	const n = 16
	futures := make([]*Future, n)
	for i := range futures {
		futures[i] = client.SendAsync(context.Background(), "GetStrings", codec.Values{
			"Names": []string{fmt.Sprintf("k%d", i)},
		})
	}
	for i, f := range futures {
		got, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{fmt.Sprintf("v:k%d", i)}, got["Values"])
	}

	require.NoError(t, client.Close())
	assert.NoError(t, wait())
}

func TestFutureAwaitOutlivesCancelledWait(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	release := make(chan struct{})
	require.NoError(t, srv.Handle("GetStrings", func(ctx context.Context, req codec.Values) (codec.Values, error) {
		<-release
		return echoStrings(ctx, req)
	}))
	client, wait := pipeSession(t, srv)

	fut := client.SendAsync(context.Background(), "GetStrings", codec.Values{"Names": []string{"slow"}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fut.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-fut.Done()
	got, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v:slow"}, got["Values"])

	require.NoError(t, client.Close())
	assert.NoError(t, wait())
}

func TestHandleRegistration(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg)

	assert.ErrorIs(t, srv.Handle("Missing", echoStrings), protocol.ErrUnknownMessage)
	require.NoError(t, srv.Handle("GetStrings", echoStrings))
	assert.ErrorIs(t, srv.Handle("GetStrings", echoStrings), ErrHandlerExists)

	err := srv.CheckHandlers()
	require.ErrorIs(t, err, protocol.ErrNoHandler)
	assert.Contains(t, err.Error(), "SetStrings")
	assert.Contains(t, err.Error(), "Notify")

	noop := func(context.Context, codec.Values) (codec.Values, error) { return nil, nil }
	require.NoError(t, srv.Handle("SetStrings", noop))
	require.NoError(t, srv.Handle("Notify", noop))
	assert.NoError(t, srv.CheckHandlers())
}

func TestProcessOneFailures(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	handlerErr := errors.New("store offline")
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	require.NoError(t, srv.Handle("SetStrings", func(context.Context, codec.Values) (codec.Values, error) {
		return nil, handlerErr
	}))
	require.NoError(t, srv.Handle("Notify", func(context.Context, codec.Values) (codec.Values, error) {
		return nil, handlerErr
	}))
	ctx := context.Background()

	cases := []struct {
		name      string
		push      func(*testing.T, *loopback)
		kind      string
		replyOwed bool
		unaligned bool
		target    error
	}{
		{
			name:      "unknown tag",
			push:      func(t *testing.T, lb *loopback) { lb.pushRaw(t, frame.Frame{Tag: 4242}) },
			replyOwed: true,
			target:    protocol.ErrUnknownMessage,
		},
		{
			name:      "request violates shape",
			push:      func(t *testing.T, lb *loopback) { lb.pushRaw(t, frame.Frame{Tag: tagOf(t, reg, "GetStrings")}) },
			kind:      "GetStrings",
			replyOwed: true,
			target:    protocol.ErrSchemaViolation,
		},
		{
			name:      "no handler",
			push:      func(t *testing.T, lb *loopback) { lb.push(t, reg, "GetStrings", codec.Values{"Names": []string{"a"}}) },
			kind:      "GetStrings",
			replyOwed: true,
			target:    protocol.ErrNoHandler,
		},
		{
			name:      "handler error",
			push:      func(t *testing.T, lb *loopback) { lb.push(t, reg, "SetStrings", codec.Values{"Key": "k"}) },
			kind:      "SetStrings",
			replyOwed: true,
			target:    handlerErr,
		},
		{
			name:   "one-way handler error",
			push:   func(t *testing.T, lb *loopback) { lb.push(t, reg, "Notify", codec.Values{"Text": "t"}) },
			kind:   "Notify",
			target: handlerErr,
		},
		{
			name:      "closed stream",
			push:      func(*testing.T, *loopback) {},
			unaligned: true,
			target:    protocol.ErrTransportClosed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lb := newLoopback()
			tc.push(t, lb)
			err := srv.ProcessOne(ctx, lb)
			require.ErrorIs(t, err, tc.target)

			var de *DispatchError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tc.kind, de.Kind)
			assert.Equal(t, tc.replyOwed, de.ReplyOwed)
			assert.Equal(t, tc.unaligned, de.Unaligned)
			assert.Zero(t, lb.out.Len(), "failed requests write no response")
		})
	}
}

func TestServeSkipsOneWayViolation(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	require.NoError(t, srv.Handle("GetStrings", echoStrings))
	require.NoError(t, srv.Handle("Notify", func(context.Context, codec.Values) (codec.Values, error) {
		return nil, nil
	}))

	lb := newLoopback()
	lb.pushRaw(t, frame.Frame{Tag: tagOf(t, reg, "Notify")})
	lb.push(t, reg, "GetStrings", codec.Values{"Names": []string{"after"}})
	require.NoError(t, srv.Serve(context.Background(), lb))

	resp, err := frame.ReadFrame(lb.out, frame.DefaultLimits())
	require.NoError(t, err)
	shape, _ := reg.Response(resp.Tag)
	got, err := codec.DecodeFrame(resp, shape)
	require.NoError(t, err)
	assert.Equal(t, []string{"v:after"}, got["Values"])
	assert.Zero(t, lb.out.Len())
}

func TestServeStopsWhenReplyOwed(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	require.NoError(t, srv.Handle("GetStrings", echoStrings))

	lb := newLoopback()
	lb.pushRaw(t, frame.Frame{Tag: tagOf(t, reg, "GetStrings")})
	lb.push(t, reg, "GetStrings", codec.Values{"Names": []string{"never"}})
	err := srv.Serve(context.Background(), lb)
	assert.ErrorIs(t, err, protocol.ErrSchemaViolation)
	assert.Zero(t, lb.out.Len())
}

func TestServeStopsOnMalformedFrame(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))

	lb := newLoopback()
	lb.in.Write([]byte{0x0A, 0x05, 0x01})
	err := srv.Serve(context.Background(), lb)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func serveResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("serve kept running after a read timeout")
		return nil
	}
}

func TestServeEndsOnIdleTimeout(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testRegistry(t), WithServerLogger(testlog.Logger(t)))
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), &deadlineConn{Conn: serverConn, read: 20 * time.Millisecond})
	}()

	err := serveResult(t, done)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.Unaligned)
	assert.False(t, recoverable(de))
}

func TestServeEndsOnStallInsideFrame(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	require.NoError(t, srv.Handle("GetStrings", echoStrings))
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	m, _ := reg.Message("GetStrings")
	req, err := codec.EncodeFrame(m.Tag, m.Request, codec.Values{"Names": []string{"a"}})
	require.NoError(t, err)
	raw := frame.AppendFrame(nil, req)
	require.Greater(t, len(raw), 2)

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), &deadlineConn{Conn: serverConn, read: 30 * time.Millisecond})
		_ = serverConn.Close()
	}()
	_, err = clientConn.Write(raw[:2])
	require.NoError(t, err)

	err = serveResult(t, done)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.NotErrorIs(t, err, protocol.ErrMalformedFrame)

	// The rest of the frame is never read as a new frame and no reply is written.
	_, err = clientConn.Write(raw[2:])
	assert.Error(t, err)
	_, err = clientConn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestServeHonorsCancelledContext(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(testRegistry(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, srv.Serve(ctx, newLoopback()), context.Canceled)
}

func TestListenAndServeOverTCP(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	cfg := DefaultConfig()
	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)), WithTimeouts(0, time.Second))
	require.NoError(t, srv.Handle("GetStrings", echoStrings))

	ln, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(ctx, ln) }()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := Dial(ctx, ln.Addr().String(), cfg)
			if !assert.NoError(t, err) {
				return
			}
			client := NewClient(conn, reg)
			defer client.Close()
			name := fmt.Sprintf("c%d", i)
			got, err := client.Send(ctx, "GetStrings", codec.Values{"Names": []string{name}})
			if assert.NoError(t, err) {
				assert.Equal(t, []string{"v:" + name}, got["Values"])
			}
		}(i)
	}
	wg.Wait()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("ListenAndServe did not stop")
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	_, err = Dial(context.Background(), addr, cfg)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dial(ctx, addr, cfg)
	assert.Error(t, err)
}

func TestDeadlineConnTimesOutIdleRead(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	conn := wrapDeadlines(a, Config{ReadTimeout: 20 * time.Millisecond})
	defer conn.Close()

	_, err := conn.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.True(t, ne.Timeout())

	_, isWrapped := wrapDeadlines(b, Config{}).(*deadlineConn)
	assert.False(t, isWrapped)
}

var _ io.ReadWriter = (*loopback)(nil)

func TestListenAndServeMutualTLS(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	bundle := tlstest.NewBundle(t)

	serverCfg := DefaultConfig()
	serverCfg.SecurityMode = SecurityModeProduction
	serverCfg.TLS = TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: bundle.ServerCert,
		KeyFile:  bundle.ServerKey,
		CAFile:   bundle.CAFile,
	}
	clientCfg := serverCfg
	clientCfg.TLS.CertFile = bundle.ClientCert
	clientCfg.TLS.KeyFile = bundle.ClientKey

	srv := NewServer(reg, WithServerLogger(testlog.Logger(t)))
	require.NoError(t, srv.Handle("GetStrings", echoStrings))
	ln, err := Listen("127.0.0.1:0", serverCfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(ctx, ln) }()

	conn, err := Dial(ctx, ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	client := NewClient(conn, reg)
	got, err := client.Send(ctx, "GetStrings", codec.Values{"Names": []string{"tls"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"v:tls"}, got["Values"])

	// A client without a certificate is refused by production mode.
	anon := clientCfg
	anon.SecurityMode = SecurityModeDevelopment
	anon.TLS.Mutual = false
	anon.MaxConnectAttempts = 1
	if bad, err := Dial(ctx, ln.Addr().String(), anon); err == nil {
		bad.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = frame.ReadFrame(bad, frame.DefaultLimits())
		assert.Error(t, err)
		_ = bad.Close()
	}

	require.NoError(t, client.Close())
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("ListenAndServe did not stop")
	}
}
