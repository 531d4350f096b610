package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Content string `json:"content"`
}

type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	var up websocket.Upgrader
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- c
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func send(t *testing.T, c *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func waitFor[T any](t *testing.T, m *Manager[T], cond func(Update[T]) bool) Update[T] {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-m.Updates():
			if !ok {
				t.Fatalf("updates closed, status=%s", m.Status())
			}
			if cond(u) {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out, status=%s", m.Status())
		}
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusConnecting, EventOpen, StatusConnected},
		{StatusConnected, EventMessage, StatusConnected},
		{StatusConnected, EventClose, StatusConnecting},
		{StatusConnecting, EventClose, StatusConnecting},
		{StatusConnecting, EventError, StatusError},
		{StatusConnected, EventError, StatusError},
		{StatusError, EventError, StatusError},
		{StatusError, EventClose, StatusConnecting},
		{StatusError, EventRetry, StatusConnecting},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Transition(tc.from, tc.ev), "%s --%s-->", tc.from, tc.ev)
	}
}

func TestManagerInitialState(t *testing.T) {
	srv := newWSServer(t)
	m := Open[item](context.Background(), srv.wsURL(), Options{Name: "comments"})
	defer m.Close()

	assert.Equal(t, StatusConnecting, m.Status())
	assert.Empty(t, m.Snapshot())
	assert.Equal(t, srv.wsURL(), m.URL())
}

func TestManagerMessagesReplaceSnapshot(t *testing.T) {
	srv := newWSServer(t)
	m := Open[item](context.Background(), srv.wsURL(), Options{Name: "comments"})
	defer m.Close()

	c := srv.accept(t)
	waitFor(t, m, func(u Update[item]) bool { return u.Status == StatusConnected })

	send(t, c, `[{"content":"a"},{"content":"b"}]`)
	u := waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 2 })
	assert.Equal(t, []item{{"a"}, {"b"}}, u.Snapshot)

	send(t, c, `[{"content":"c"}]`)
	u = waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 1 })
	assert.Equal(t, []item{{"c"}}, u.Snapshot)
	assert.Equal(t, StatusConnected, u.Status)
	assert.Equal(t, []item{{"c"}}, m.Snapshot())

	send(t, c, `[]`)
	u = waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 0 })
	assert.NotNil(t, u.Snapshot)
}

func TestManagerCloseKeepsSnapshot(t *testing.T) {
	srv := newWSServer(t)
	m := Open[item](context.Background(), srv.wsURL(), Options{Name: "comments"})
	defer m.Close()

	c := srv.accept(t)
	send(t, c, `[{"content":"kept"}]`)
	waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 1 })

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	u := waitFor(t, m, func(u Update[item]) bool { return u.Event == EventClose })
	assert.Equal(t, StatusConnecting, u.Status)
	assert.Equal(t, []item{{"kept"}}, u.Snapshot)
	assert.NoError(t, u.Err)

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop without reconnect")
	}
	assert.Equal(t, StatusConnecting, m.Status())
}

func TestManagerAbnormalClosureIsError(t *testing.T) {
	srv := newWSServer(t)
	m := Open[item](context.Background(), srv.wsURL(), Options{Name: "likes"})
	defer m.Close()

	c := srv.accept(t)
	waitFor(t, m, func(u Update[item]) bool { return u.Status == StatusConnected })
	c.UnderlyingConn().Close()

	u := waitFor(t, m, func(u Update[item]) bool { return u.Event == EventError })
	assert.Equal(t, StatusError, u.Status)
	assert.Error(t, u.Err)
}

func TestManagerDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	m := Open[item](context.Background(), url, Options{Name: "comments"})
	defer m.Close()

	u := waitFor(t, m, func(u Update[item]) bool { return u.Event == EventError })
	assert.Equal(t, StatusError, u.Status)
	assert.ErrorContains(t, u.Err, "dial")
}

func TestManagerHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := Open[item](context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), Options{})
	defer m.Close()

	u := waitFor(t, m, func(u Update[item]) bool { return u.Event == EventError })
	assert.ErrorIs(t, u.Err, websocket.ErrBadHandshake)
}

func TestManagerMalformedPayload(t *testing.T) {
	srv := newWSServer(t)
	m := Open[item](context.Background(), srv.wsURL(), Options{Name: "comments"})
	defer m.Close()

	c := srv.accept(t)
	send(t, c, `[{"content":"good"}]`)
	waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 1 })

	send(t, c, `{"error": "Failed to retrieve comments"}`)
	u := waitFor(t, m, func(u Update[item]) bool { return u.Err != nil })
	assert.True(t, errors.Is(u.Err, ErrMalformedPayload))
	assert.Equal(t, StatusConnected, u.Status)
	assert.Equal(t, []item{{"good"}}, u.Snapshot)

	send(t, c, `[{"content":"after"}]`)
	u = waitFor(t, m, func(u Update[item]) bool { return u.Err == nil && u.Event == EventMessage })
	assert.Equal(t, []item{{"after"}}, u.Snapshot)
}

func TestManagerCloseTearsDownTransport(t *testing.T) {
	srv := newWSServer(t)
	m := Open[item](context.Background(), srv.wsURL(), Options{Name: "comments"})

	c := srv.accept(t)
	waitFor(t, m, func(u Update[item]) bool { return u.Status == StatusConnected })

	require.NoError(t, m.Close())
	select {
	case <-m.Done():
	default:
		t.Fatal("Close returned before the transport was released")
	}
	for range m.Updates() {
	}
	assert.Equal(t, StatusConnecting, m.Status())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
}

func TestManagerContextCancel(t *testing.T) {
	srv := newWSServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	m := Open[item](ctx, srv.wsURL(), Options{})
	srv.accept(t)
	waitFor(t, m, func(u Update[item]) bool { return u.Status == StatusConnected })

	cancel()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager ignored context cancellation")
	}
}

func TestManagerReconnects(t *testing.T) {
	srv := newWSServer(t)
	m := Open[item](context.Background(), srv.wsURL(), Options{
		Name:      "comments",
		Reconnect: true,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		},
	})
	defer m.Close()

	first := srv.accept(t)
	send(t, first, `[{"content":"one"}]`)
	waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 1 })
	require.NoError(t, first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")))

	second := srv.accept(t)
	send(t, second, `[{"content":"two"},{"content":"three"}]`)
	u := waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 2 })
	assert.Equal(t, StatusConnected, u.Status)
}

func TestManagerRetriesAfterHandshakeError(t *testing.T) {
	var up websocket.Upgrader
	attempts := make(chan int32, 8)
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := n.Add(1)
		attempts <- attempt
		if attempt == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`[{"content":"late"}]`))
	}))
	defer srv.Close()

	m := Open[item](context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), Options{
		Reconnect: true,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		},
	})
	defer m.Close()

	u := waitFor(t, m, func(u Update[item]) bool { return len(u.Snapshot) == 1 })
	assert.Equal(t, StatusConnected, u.Status)
	assert.Equal(t, []item{{"late"}}, u.Snapshot)
	assert.GreaterOrEqual(t, len(attempts), 2)
}
