package kvstore

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/postal/internal/protocol/codec"
	"github.com/danmuck/postal/internal/protocol/session"
	"github.com/danmuck/postal/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStorePutGetListDelete(t *testing.T) {
	testlog.Start(t)

	s := NewStore()
	s.Put("b", "2")
	s.Put("a", "1")
	s.Put("ab", "3")

	v, ok := s.Get("a")
	if !ok || v != "1" {
		t.Fatalf("unexpected get result: %q %v", v, ok)
	}
	if got := s.Keys(""); len(got) != 3 || got[0] != "a" || got[1] != "ab" || got[2] != "b" {
		t.Fatalf("unexpected keys: %v", got)
	}
	if got := s.Keys("a"); len(got) != 2 {
		t.Fatalf("unexpected prefix keys: %v", got)
	}
	if !s.Delete("a") || s.Delete("a") {
		t.Fatalf("delete should report presence once")
	}
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected missing key after delete")
	}
	if s.Len() != 2 {
		t.Fatalf("unexpected len: %d", s.Len())
	}
}

func TestRegistryTags(t *testing.T) {
	testlog.Start(t)
	reg, err := Registry()
	require.NoError(t, err)
	assert.Equal(t, "Demo.Kv", reg.Namespace())

	want := map[string]uint32{
		"GetStrings":    64560460,
		"SetStrings":    91235221,
		"DeleteStrings": 26097638,
		"ListKeys":      22611509,
		"Ping":          16430772,
		"Echo":          22332672,
		"Notify":        83598398,
	}
	for kind, tag := range want {
		got, ok := reg.Tag(kind)
		require.True(t, ok, kind)
		assert.Equal(t, tag, uint32(got), kind)
	}
	notify, _ := reg.Message("Notify")
	assert.True(t, notify.OneWay())
}

// serve runs a fresh service on one end of a pipe.
func serve(t *testing.T) (*Service, *session.Client, func()) {
	t.Helper()
	reg, err := Registry()
	require.NoError(t, err)
	svc := NewService(NewStore(), testlog.Logger(t))
	srv := session.NewServer(reg, session.WithServerLogger(testlog.Logger(t)))
	require.NoError(t, svc.Register(srv))

	clientConn, serverConn := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), serverConn)
		_ = serverConn.Close()
	}()
	client := session.NewClient(clientConn, reg)
	return svc, client, func() {
		require.NoError(t, client.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("serve did not return")
		}
	}
}

func TestSetThenGetStrings(t *testing.T) {
	testlog.Start(t)
	_, client, stop := serve(t)
	defer stop()
	ctx := context.Background()

	resp, err := client.Send(ctx, "SetStrings", codec.Values{
		"KeyValuePairs": []codec.Values{
			{"Key": "alpha", "Value": "1"},
			{"Key": "beta", "Value": "2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, resp["Result"])

	resp, err = client.Send(ctx, "GetStrings", codec.Values{"Names": []string{"beta", "alpha"}})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, resp["Result"])
	assert.Equal(t, []string{"2", "1"}, resp["Values"])
	assert.NotContains(t, resp, "Message")

	resp, err = client.Send(ctx, "GetStrings", codec.Values{"Names": []string{"alpha", "gamma"}})
	require.NoError(t, err)
	assert.Equal(t, ResultCouldNotFindKey, resp["Result"])
	assert.Equal(t, []string{"1", ""}, resp["Values"])
	assert.Equal(t, "Could not find key: gamma\n", resp["Message"])
}

func TestSetStringsRejectsEmptyKey(t *testing.T) {
	testlog.Start(t)
	_, client, stop := serve(t)
	defer stop()

	resp, err := client.Send(context.Background(), "SetStrings", codec.Values{
		"KeyValuePairs": []codec.Values{{"Key": "ok", "Value": "1"}, {"Value": "orphan"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultException, resp["Result"])
	assert.Equal(t, "pair 1 has no key", resp["Message"])

	resp, err = client.Send(context.Background(), "ListKeys", codec.Values{})
	require.NoError(t, err)
	assert.NotContains(t, resp, "Keys", "a rejected batch stores nothing")
}

func TestDeleteAndListKeys(t *testing.T) {
	testlog.Start(t)
	_, client, stop := serve(t)
	defer stop()
	ctx := context.Background()

	_, err := client.Send(ctx, "SetStrings", codec.Values{
		"KeyValuePairs": []codec.Values{
			{"Key": "app.a", "Value": "1"},
			{"Key": "app.b", "Value": "2"},
			{"Key": "sys.c", "Value": "3"},
		},
	})
	require.NoError(t, err)

	resp, err := client.Send(ctx, "ListKeys", codec.Values{"Prefix": "app."})
	require.NoError(t, err)
	assert.Equal(t, []string{"app.a", "app.b"}, resp["Keys"])

	resp, err = client.Send(ctx, "DeleteStrings", codec.Values{"Names": []string{"app.a", "missing"}})
	require.NoError(t, err)
	assert.Equal(t, ResultCouldNotFindKey, resp["Result"])
	assert.Equal(t, int64(1), resp["Deleted"])

	resp, err = client.Send(ctx, "ListKeys", codec.Values{})
	require.NoError(t, err)
	assert.Equal(t, []string{"app.b", "sys.c"}, resp["Keys"])
}

func TestPingEchoNotify(t *testing.T) {
	testlog.Start(t)
	svc, client, stop := serve(t)
	ctx := context.Background()

	resp, err := client.Send(ctx, "Ping", codec.Values{})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, resp["Result"])
	assert.Greater(t, resp["UnixNano"].(int64), int64(0))

	resp, err = client.Send(ctx, "Echo", codec.Values{"Data": []byte{0, 1, 0xFF}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 0xFF}, resp["Data"])

	resp, err = client.Send(ctx, "Notify", codec.Values{"Text": "deploy finished"})
	require.NoError(t, err)
	assert.Nil(t, resp)

	// Serve handles frames in order, so once the pipe closes and Serve
	// returns, the notice has been recorded.
	stop()
	assert.Equal(t, []string{"deploy finished"}, svc.Notices())
}

func TestRegisterRejectsSecondService(t *testing.T) {
	testlog.Start(t)
	reg, err := Registry()
	require.NoError(t, err)
	srv := session.NewServer(reg)
	require.NoError(t, NewService(NewStore(), testlog.Logger(t)).Register(srv))
	assert.ErrorIs(t, NewService(NewStore(), testlog.Logger(t)).Register(srv), session.ErrHandlerExists)
}
