package feedsrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/bookfeed/internal/database"
	"github.com/bryan-buckman/bookfeed/internal/events"
	"github.com/bryan-buckman/bookfeed/internal/model"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := errorBody{Message: message}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

// bind decodes a JSON body into v, or reads form fields for any other
// content type.
func bind(r *http.Request, v any, fromForm func(get func(string) string)) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return fmt.Errorf("decode body: %w", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	fromForm(r.PostForm.Get)
	return nil
}

// --- Comments ---

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.store.Comments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error while fetching comments", err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.CommentByID(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "Comment not found", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Error while fetching comment", err)
	default:
		writeJSON(w, http.StatusOK, c)
	}
}

type commentRequest struct {
	Content   string `json:"content"`
	Emotion   string `json:"emotion"`
	Sentiment string `json:"sentiment"`
}

func (c commentRequest) sentiment() string {
	if c.Emotion != "" {
		return c.Emotion
	}
	return c.Sentiment
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	err := bind(r, &req, func(get func(string) string) {
		req.Content, req.Emotion = get("content"), get("emotion")
	})
	if err == nil && strings.TrimSpace(req.Content) == "" {
		err = errors.New("content is required")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	c, err := s.createComment(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error while creating comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// createComment stores a comment and notifies the comment streams.
func (s *Server) createComment(ctx context.Context, req commentRequest) (model.Comment, error) {
	c, err := s.store.CreateComment(ctx, strings.TrimSpace(req.Content), req.sentiment())
	if err != nil {
		return model.Comment{}, err
	}
	s.notify(ctx, events.SubjectCommentsChanged, c)
	return c, nil
}

// --- Likes ---

func (s *Server) handleLikes(w http.ResponseWriter, r *http.Request) {
	likes, err := s.store.Likes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error while fetching likes", err)
		return
	}
	writeJSON(w, http.StatusOK, likes)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	l, err := s.store.LikeByID(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "Like not found", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Error while fetching like", err)
	default:
		writeJSON(w, http.StatusOK, l)
	}
}

type likeRequest struct {
	CommentID      string `json:"comment_id"`
	CommentIDCamel string `json:"commentId"`
}

func (s *Server) handleCreateLike(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	err := bind(r, &req, func(get func(string) string) {
		req.CommentID = get("comment_id")
	})
	if req.CommentID == "" {
		req.CommentID = req.CommentIDCamel
	}
	if err == nil && req.CommentID == "" {
		err = errors.New("comment_id is required")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	if _, err := s.store.CommentByID(r.Context(), req.CommentID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Comment not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Error while creating like", err)
		return
	}
	l, err := s.store.CreateLike(r.Context(), req.CommentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error while creating like", err)
		return
	}
	s.notify(r.Context(), events.SubjectLikesChanged, l)
	writeJSON(w, http.StatusCreated, l)
}

// notify publishes v on subject. A failed notification only delays the
// streams until their next interval.
func (s *Server) notify(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode notification", "subject", subject, "err", err)
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), subject, data); err != nil {
		s.log.Warn("publish notification", "subject", subject, "err", err)
	}
}
