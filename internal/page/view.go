// Package page owns the state of one mounted book page: the two live feeds,
// their statuses and snapshots, and the frames rendered from them.
package page

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/bryan-buckman/bookfeed/internal/feed"
	"github.com/bryan-buckman/bookfeed/internal/model"
	"github.com/bryan-buckman/bookfeed/internal/view"
)

// FeedName identifies one of the two feeds.
type FeedName string

const (
	FeedComments FeedName = "comments"
	FeedLikes    FeedName = "likes"
)

// Endpoints are the websocket addresses of the feeds.
type Endpoints struct {
	Comments string
	Likes    string
}

// Options configure the feeds of a mounted view.
type Options struct {
	Reconnect  bool
	NewBackOff func() backoff.BackOff
	Dialer     *websocket.Dialer
	// Renderer produces the badge and list markup; frames carry rows only
	// when nil.
	Renderer *view.Renderer
	// Location is used to format comment times; time.Local when nil.
	Location *time.Location
	Logger   *slog.Logger
}

// State is the explicit state of a mounted view.
type State struct {
	CommentStatus feed.Status
	LikeStatus    feed.Status
	Comments      []model.Comment
	Likes         []model.Like
}

// Frame is what changed on screen after an update of one feed.
type Frame struct {
	Feed   FeedName    `json:"feed"`
	Status feed.Status `json:"status"`
	Badge  string      `json:"badge"`
	HTML   string      `json:"html"`
	Error  string      `json:"error,omitempty"`

	Rows []view.Row `json:"-"`
}

// View is one mounted page. Updates from both feeds are applied by Run on a
// single goroutine.
type View struct {
	renderer *view.Renderer
	loc      *time.Location
	log      *slog.Logger

	comments *feed.Manager[model.Comment]
	likes    *feed.Manager[model.Like]

	mu    sync.Mutex
	state State

	unmount sync.Once
}

// Mount opens both feeds. The feeds live until Unmount or until ctx ends.
func Mount(ctx context.Context, ep Endpoints, opts Options) *View {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	feedOpts := func(name FeedName) feed.Options {
		return feed.Options{
			Name:       string(name),
			Dialer:     opts.Dialer,
			Reconnect:  opts.Reconnect,
			NewBackOff: opts.NewBackOff,
			Logger:     logger,
		}
	}
	return &View{
		renderer: opts.Renderer,
		loc:      opts.Location,
		log:      logger.With("component", "page"),
		comments: feed.Open[model.Comment](ctx, ep.Comments, feedOpts(FeedComments)),
		likes:    feed.Open[model.Like](ctx, ep.Likes, feedOpts(FeedLikes)),
		state: State{
			CommentStatus: feed.StatusConnecting,
			LikeStatus:    feed.StatusConnecting,
			Comments:      []model.Comment{},
			Likes:         []model.Like{},
		},
	}
}

// State returns a copy of the current state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.state
	s.Comments = slices.Clone(s.Comments)
	s.Likes = slices.Clone(s.Likes)
	return s
}

// Run emits the current frames of both feeds, then one frame per update
// until ctx ends or emit fails. The last state stays in place when a feed
// stops, so Run keeps waiting for ctx after both feeds are gone.
func (v *View) Run(ctx context.Context, emit func(Frame) error) error {
	for _, name := range []FeedName{FeedComments, FeedLikes} {
		f, err := v.frame(name, nil)
		if err != nil {
			return err
		}
		if err := emit(f); err != nil {
			return err
		}
	}

	cu, lu := v.comments.Updates(), v.likes.Updates()
	for {
		var (
			f   Frame
			err error
		)
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-cu:
			if !ok {
				cu = nil
				continue
			}
			v.mu.Lock()
			v.state.CommentStatus = u.Status
			v.state.Comments = u.Snapshot
			v.mu.Unlock()
			f, err = v.frame(FeedComments, u.Err)
		case u, ok := <-lu:
			if !ok {
				lu = nil
				continue
			}
			v.mu.Lock()
			v.state.LikeStatus = u.Status
			v.state.Likes = u.Snapshot
			v.mu.Unlock()
			f, err = v.frame(FeedLikes, u.Err)
		}
		if err != nil {
			return err
		}
		if err := emit(f); err != nil {
			return fmt.Errorf("emit %s frame: %w", f.Feed, err)
		}
	}
}

// Unmount closes both transports. It is safe to call more than once.
func (v *View) Unmount() {
	v.unmount.Do(func() {
		v.comments.Close()
		v.likes.Close()
		v.log.Debug("view unmounted")
	})
}

func (v *View) frame(name FeedName, updateErr error) (Frame, error) {
	s := v.State()
	rows := view.Rows(s.Comments, s.Likes, v.loc)
	status, labels := s.CommentStatus, view.CommentLabels
	if name == FeedLikes {
		status, labels = s.LikeStatus, view.LikeLabels
	}
	f := Frame{Feed: name, Status: status, Rows: rows}
	if updateErr != nil {
		f.Error = updateErr.Error()
	}
	if v.renderer == nil {
		return f, nil
	}
	var err error
	if f.Badge, err = v.renderer.Badge(view.BadgeFor(status, labels)); err != nil {
		return Frame{}, err
	}
	if f.HTML, err = v.renderer.CommentList(rows); err != nil {
		return Frame{}, err
	}
	return f, nil
}
