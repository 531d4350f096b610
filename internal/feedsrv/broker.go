package feedsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bryan-buckman/bookfeed/internal/events"
)

// ReviewCommentType is the only event type the broker accepts.
const ReviewCommentType = "new-review-comment"

// eventSource identifies this publisher in CloudEvents envelopes.
const eventSource = "bookstore-eda"

// CloudEvent is the structured-mode CloudEvents 1.0 envelope published on
// the review-comments subject.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	ID              string          `json:"id"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

func (s *Server) handleBroker(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	s.log.Info("received broker event", "type", in.Type)
	if in.Type != ReviewCommentType {
		writeError(w, http.StatusBadRequest, "Unexpected event type", nil)
		return
	}

	ev := CloudEvent{
		SpecVersion:     "1.0",
		Type:            ReviewCommentType,
		Source:          eventSource,
		ID:              uuid.NewString(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            in.Data,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error marshalling event data", err)
		return
	}
	if err := s.bus.Publish(r.Context(), events.SubjectReviewComments, data); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to forward event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"success": "true",
		"message": "Event forwarded successfully",
		"id":      ev.ID,
	})
}

// consumeReview turns a review-comment event into a stored comment.
func (s *Server) consumeReview(data []byte) {
	var ev CloudEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Error("invalid review event", "err", err)
		return
	}
	if ev.Type != ReviewCommentType {
		return
	}
	var req commentRequest
	if err := json.Unmarshal(ev.Data, &req); err != nil || req.Content == "" {
		if err == nil {
			err = errors.New("empty content")
		}
		s.log.Error("invalid review event data", "id", ev.ID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := s.createComment(ctx, req)
	if err != nil {
		s.log.Error("store review comment", "id", ev.ID, "err", err)
		return
	}
	s.log.Info("review comment stored", "event", ev.ID, "comment", c.ID)
}
