package feedsrv

import (
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/feeds"
	"github.com/samber/lo"

	"github.com/bryan-buckman/bookfeed/internal/model"
)

// atomTitleLen caps entry titles derived from comment text.
const atomTitleLen = 60

func (s *Server) handleAtom(w http.ResponseWriter, r *http.Request) {
	comments, err := s.store.Comments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error while fetching comments", err)
		return
	}

	base := strings.TrimSuffix(s.opts.BaseURL, "/")
	feed := &feeds.Feed{
		Title:       s.opts.FeedTitle,
		Link:        &feeds.Link{Href: base + "/comments.atom", Rel: "self"},
		Description: "Latest comments",
		Created:     time.Now().UTC(),
	}
	if n := len(comments); n > 0 {
		feed.Updated = comments[n-1].PostTime.Time
	}
	// Newest first.
	slices.Reverse(comments)
	feed.Items = lo.Map(comments, func(c model.Comment, _ int) *feeds.Item {
		return &feeds.Item{
			Id:          "urn:uuid:" + c.ID,
			Title:       entryTitle(c.Content),
			Link:        &feeds.Link{Href: base + "/api/comments/" + c.ID},
			Description: c.Sentiment,
			Content:     c.Content,
			Created:     c.PostTime.Time,
		}
	})

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	if err := feed.WriteAtom(w); err != nil {
		s.log.Error("write atom feed", "err", err)
	}
}

func entryTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= atomTitleLen {
		return content
	}
	return string([]rune(content)[:atomTitleLen]) + "…"
}
