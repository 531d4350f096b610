package server

import (
	"encoding/json"
	"net/http"

	"github.com/bryan-buckman/bookfeed/internal/page"
)

// sseSink writes frames as Server-Sent Events.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

// Send writes one frame as a JSON data event and flushes it.
func (s sseSink) Send(fr page.Frame) error {
	b, err := json.Marshal(fr)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleLive mounts a view for the lifetime of the request and streams its
// frames. The view is unmounted when the client goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	v := page.Mount(ctx, s.opts.Feeds, page.Options{
		Reconnect:  s.opts.Reconnect,
		NewBackOff: s.opts.NewBackOff,
		Renderer:   s.renderer,
		Location:   s.opts.Location,
		Logger:     s.opts.Logger,
	})
	defer v.Unmount()
	s.log.Debug("view mounted", "remote", r.RemoteAddr)

	sink := sseSink{w: w, f: flusher}
	if err := v.Run(ctx, sink.Send); err != nil {
		s.log.Info("live stream ended", "remote", r.RemoteAddr, "err", err)
	}
}
