package feedsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single websocket write.
const writeWait = 10 * time.Second

// snapshotFunc returns the encoded full list of a feed.
type snapshotFunc func(ctx context.Context) ([]byte, error)

func (s *Server) commentsSnapshot(ctx context.Context) ([]byte, error) {
	comments, err := s.store.Comments(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(comments)
}

func (s *Server) likesSnapshot(ctx context.Context) ([]byte, error) {
	likes, err := s.store.Likes(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(likes)
}

// stream pushes the full list of a feed on connect, after every change
// notification on subject and every snapshot interval. Clients never write;
// anything they send is discarded.
func (s *Server) stream(name, subject string, load snapshotFunc) http.HandlerFunc {
	failure := []byte(`{"error": "Failed to retrieve ` + name + `"}`)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", "feed", name, "err", err)
			return
		}
		defer conn.Close()

		log := s.log.With("feed", name, "remote", r.RemoteAddr)
		log.Info("stream opened")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		changed := make(chan struct{}, 1)
		unsub, err := s.bus.Subscribe(subject, func([]byte) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if err != nil {
			log.Error("subscribe to changes", "err", err)
		} else {
			defer unsub()
		}

		send := func() error {
			data, err := load(ctx)
			if err != nil {
				log.Error("load snapshot", "err", err)
				data = failure
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteMessage(websocket.TextMessage, data)
		}

		ticker := time.NewTicker(s.opts.SnapshotInterval)
		defer ticker.Stop()

		for err := send(); err == nil; err = send() {
			select {
			case <-ctx.Done():
				log.Info("stream closed by client")
				return
			case <-s.stopChan:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				log.Info("stream stopped")
				return
			case <-ticker.C:
			case <-changed:
			}
		}
		log.Info("stream write failed, closing")
	}
}
