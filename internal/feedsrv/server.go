// Package feedsrv serves the comments and likes feeds: a REST API, websocket
// snapshot streams, an Atom export and the review-comment broker endpoint.
package feedsrv

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/bryan-buckman/bookfeed/internal/database"
	"github.com/bryan-buckman/bookfeed/internal/events"
)

// DefaultSnapshotInterval is how often a stream resends the full list.
const DefaultSnapshotInterval = 10 * time.Second

// Options configure a Server.
type Options struct {
	// SnapshotInterval defaults to DefaultSnapshotInterval.
	SnapshotInterval time.Duration
	// FeedTitle names the Atom export.
	FeedTitle string
	// BaseURL is used for links in the Atom export.
	BaseURL string
	Logger  *slog.Logger
}

// Server is the feed publisher.
type Server struct {
	store    database.Store
	bus      events.Bus
	opts     Options
	log      *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	srv *http.Server

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a publisher over store. Change notifications and broker
// events go through bus.
func New(store database.Store, bus events.Bus, opts Options) *Server {
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.FeedTitle == "" {
		opts.FeedTitle = "Book comments"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		store: store,
		bus:   bus,
		opts:  opts,
		log:   opts.Logger.With("component", "feedsrv"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		stopChan: make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	// Streams.
	r.Get("/ws/comments", s.stream("comments", events.SubjectCommentsChanged, s.commentsSnapshot))
	r.Get("/ws/likes", s.stream("likes", events.SubjectLikesChanged, s.likesSnapshot))

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Route("/comments", func(r chi.Router) {
			r.Get("/", s.handleComments)
			r.Post("/", s.handleCreateComment)
			r.Post("/broker", s.handleBroker)
			r.Get("/{id}", s.handleComment)
		})
		r.Route("/likes", func(r chi.Router) {
			r.Get("/", s.handleLikes)
			r.Post("/", s.handleCreateLike)
			r.Get("/{id}", s.handleLike)
		})
	})

	r.With(middleware.Compress(5)).Get("/comments.atom", s.handleAtom)

	s.router = r
}

// Handler returns the publisher routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
	}).Handler(s.router)
}

// Start subscribes the review consumer to the broker subject.
func (s *Server) Start() error {
	unsub, err := s.bus.Subscribe(events.SubjectReviewComments, s.consumeReview)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.stopChan
		unsub()
	}()
	return nil
}

// Stop ends every open stream and the review consumer.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.log.Info("feed publisher listening", "addr", l.Addr().String(), "store", s.store.DatabaseType())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		s.Stop()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": s.store.DatabaseType()})
}
