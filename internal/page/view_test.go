package page

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/bookfeed/internal/feed"
	"github.com/bryan-buckman/bookfeed/internal/view"
)

type feeds struct {
	srv      *httptest.Server
	comments chan *websocket.Conn
	likes    chan *websocket.Conn
}

func newFeeds(t *testing.T) *feeds {
	t.Helper()
	f := &feeds{
		comments: make(chan *websocket.Conn, 4),
		likes:    make(chan *websocket.Conn, 4),
	}
	var up websocket.Upgrader
	handle := func(ch chan *websocket.Conn) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			c, err := up.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			ch <- c
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/ws/comments", handle(f.comments))
	mux.Handle("/ws/likes", handle(f.likes))
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feeds) endpoints() Endpoints {
	base := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	return Endpoints{Comments: base + "/ws/comments", Likes: base + "/ws/likes"}
}

func accept(t *testing.T, ch chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ch:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

type harness struct {
	view   *View
	frames chan Frame
	done   chan error
	cancel context.CancelFunc
}

func mount(t *testing.T, f *feeds) *harness {
	t.Helper()
	r, err := view.NewRenderer()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		view:   Mount(ctx, f.endpoints(), Options{Renderer: r, Location: time.UTC}),
		frames: make(chan Frame, 64),
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		h.done <- h.view.Run(ctx, func(fr Frame) error {
			select {
			case h.frames <- fr:
			case <-ctx.Done():
			}
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		h.view.Unmount()
	})
	return h
}

func (h *harness) waitFrame(t *testing.T, cond func(Frame) bool) Frame {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case fr := <-h.frames:
			if cond(fr) {
				return fr
			}
		case <-timeout:
			t.Fatalf("no matching frame, state=%+v", h.view.State())
			return Frame{}
		}
	}
}

func TestViewInitialFrames(t *testing.T) {
	h := mount(t, newFeeds(t))

	first := h.waitFrame(t, func(Frame) bool { return true })
	second := h.waitFrame(t, func(Frame) bool { return true })
	assert.Equal(t, FeedComments, first.Feed)
	assert.Equal(t, FeedLikes, second.Feed)
	for _, fr := range []Frame{first, second} {
		assert.Equal(t, feed.StatusConnecting, fr.Status)
		assert.Contains(t, fr.Badge, "badge-orange")
		assert.Contains(t, fr.HTML, view.EmptyMessage)
	}
}

func TestViewRendersSnapshotAndKeepsItOnClose(t *testing.T) {
	f := newFeeds(t)
	h := mount(t, f)
	c := accept(t, f.comments)

	require.NoError(t, c.WriteMessage(websocket.TextMessage,
		[]byte(`[{"id":"c1","post_time":"2024-01-01T10:00:00Z","content":"Hi","sentiment":"positive"}]`)))
	fr := h.waitFrame(t, func(fr Frame) bool {
		return fr.Feed == FeedComments && strings.Contains(fr.HTML, "Hi")
	})
	assert.Equal(t, feed.StatusConnected, fr.Status)
	assert.Contains(t, fr.Badge, "badge-green")
	assert.Contains(t, fr.HTML, "Jan 1, 2024, 10:00")
	require.Len(t, fr.Rows, 1)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	fr = h.waitFrame(t, func(fr Frame) bool {
		return fr.Feed == FeedComments && fr.Status == feed.StatusConnecting
	})
	assert.Contains(t, fr.Badge, "badge-orange")
	assert.Contains(t, fr.HTML, "Hi")
	assert.Len(t, h.view.State().Comments, 1)
}

func TestViewSecondMessageReplacesFirst(t *testing.T) {
	f := newFeeds(t)
	h := mount(t, f)
	c := accept(t, f.comments)

	require.NoError(t, c.WriteMessage(websocket.TextMessage,
		[]byte(`[{"content":"one","post_time":1704103200},{"content":"two","post_time":1704103200}]`)))
	h.waitFrame(t, func(fr Frame) bool { return len(fr.Rows) == 2 })

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`[{"content":"three"}]`)))
	fr := h.waitFrame(t, func(fr Frame) bool { return fr.Feed == FeedComments && len(fr.Rows) == 1 })
	assert.Equal(t, "three", fr.Rows[0].Text)
	assert.NotContains(t, fr.HTML, "one")
}

func TestViewLikesCountOnRows(t *testing.T) {
	f := newFeeds(t)
	h := mount(t, f)
	cc := accept(t, f.comments)
	lc := accept(t, f.likes)

	require.NoError(t, cc.WriteMessage(websocket.TextMessage,
		[]byte(`[{"id":"c1","content":"liked","post_time":"2024-01-01T10:00:00Z"}]`)))
	h.waitFrame(t, func(fr Frame) bool { return len(fr.Rows) == 1 })

	require.NoError(t, lc.WriteMessage(websocket.TextMessage,
		[]byte(`[{"id":"l1","comment_id":"c1","timestamp":1704103200},{"id":"l2","comment_id":"c1","timestamp":1704103260}]`)))
	fr := h.waitFrame(t, func(fr Frame) bool { return fr.Feed == FeedLikes && fr.Status == feed.StatusConnected && len(fr.Rows) == 1 && fr.Rows[0].Likes == 2 })
	assert.Contains(t, fr.Badge, "Likes: connected")
	assert.Contains(t, fr.HTML, `class="likes"`)
}

func TestViewFeedsAreIndependent(t *testing.T) {
	f := newFeeds(t)
	h := mount(t, f)
	accept(t, f.comments)
	lc := accept(t, f.likes)

	h.waitFrame(t, func(fr Frame) bool { return fr.Feed == FeedComments && fr.Status == feed.StatusConnected })
	lc.UnderlyingConn().Close()
	fr := h.waitFrame(t, func(fr Frame) bool { return fr.Feed == FeedLikes && fr.Status == feed.StatusError })
	assert.Contains(t, fr.Badge, "badge-red")
	assert.NotEmpty(t, fr.Error)

	s := h.view.State()
	assert.Equal(t, feed.StatusConnected, s.CommentStatus)
	assert.Equal(t, feed.StatusError, s.LikeStatus)
}

func TestViewUnmountClosesTransports(t *testing.T) {
	f := newFeeds(t)
	h := mount(t, f)
	cc := accept(t, f.comments)
	lc := accept(t, f.likes)
	require.Eventually(t, func() bool {
		s := h.view.State()
		return s.CommentStatus == feed.StatusConnected && s.LikeStatus == feed.StatusConnected
	}, 5*time.Second, 10*time.Millisecond)

	h.view.Unmount()
	h.view.Unmount()
	for _, c := range []*websocket.Conn{cc, lc} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := c.ReadMessage()
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	}

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
