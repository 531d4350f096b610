// Package server provides the HTTP server for the book page.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/bookfeed/internal/feed"
	"github.com/bryan-buckman/bookfeed/internal/model"
	"github.com/bryan-buckman/bookfeed/internal/page"
	"github.com/bryan-buckman/bookfeed/internal/view"
)

//go:embed static/*
var staticFS embed.FS

// Options configure the page server.
type Options struct {
	Book model.Book
	// Feeds are the websocket endpoints every mounted view subscribes to.
	Feeds page.Endpoints
	// APIUpstream is the publisher base URL that /api/* is forwarded to.
	// The form is not served when empty.
	APIUpstream string
	Reconnect   bool
	NewBackOff  func() backoff.BackOff
	Location    *time.Location
	Logger      *slog.Logger
}

// Server is the main HTTP server.
type Server struct {
	opts     Options
	log      *slog.Logger
	renderer *view.Renderer
	router   chi.Router
	proxy    *httputil.ReverseProxy
}

// New creates a new server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	renderer, err := view.NewRenderer()
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		log:      opts.Logger.With("component", "server"),
		renderer: renderer,
	}
	if opts.APIUpstream != "" {
		target, err := url.Parse(opts.APIUpstream)
		if err != nil {
			return nil, fmt.Errorf("parse api upstream: %w", err)
		}
		s.proxy = httputil.NewSingleHostReverseProxy(target)
		s.proxy.ErrorHandler = s.handleProxyError
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Serve static files.
	staticSub, _ := fs.Sub(staticFS, "static")
	r.With(middleware.Compress(5)).
		Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages.
	r.With(middleware.Compress(5)).Get("/", s.handleHome)
	r.Get("/live", s.handleLive)
	r.Get("/healthz", s.handleHealth)

	// API.
	if s.proxy != nil {
		r.Handle("/api/*", s.proxy)
	}

	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("server starting", "addr", l.Addr().String(),
		"comments", s.opts.Feeds.Comments, "likes", s.opts.Feeds.Likes)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// --- Page Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := view.PageData{
		Book:         s.opts.Book,
		Fields:       view.BookFields(s.opts.Book),
		CommentBadge: view.BadgeFor(feed.StatusConnecting, view.CommentLabels),
		LikeBadge:    view.BadgeFor(feed.StatusConnecting, view.LikeLabels),
		LiveURL:      "/live",
	}
	if s.proxy != nil {
		data.CommentURL = "/api/comments"
	}
	s.render(w, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleProxyError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Warn("api upstream failed", "path", r.URL.Path, "err", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Feed service unavailable",
		"error":   err.Error(),
	})
}

// --- Helpers ---

func (s *Server) render(w http.ResponseWriter, data view.PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Page(w, data); err != nil {
		s.log.Error("template error", "err", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}
