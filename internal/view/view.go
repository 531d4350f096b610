// Package view maps feed data to display rows and renders the page markup.
// Everything here is a pure function of its inputs.
package view

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bryan-buckman/bookfeed/internal/feed"
	"github.com/bryan-buckman/bookfeed/internal/model"
)

// DefaultAvatar is shown for every comment.
const DefaultAvatar = "/static/avatar.svg"

// TimeLayout renders as "Jan 1, 2024, 10:00".
const TimeLayout = "Jan 2, 2006, 15:04"

// EmptyMessage is shown in place of an empty comment list.
const EmptyMessage = "No comments available"

// Row is one rendered comment.
type Row struct {
	Avatar  string
	Time    string
	Text    string
	Emotion string
	Likes   int
}

// FormatTime formats t in loc (time.Local when nil). A zero time renders empty.
func FormatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}

// Rows maps a comment snapshot to display rows, one per comment, in order.
// Likes are counted per comment ID.
func Rows(comments []model.Comment, likes []model.Like, loc *time.Location) []Row {
	counts := lo.CountValuesBy(likes, func(l model.Like) string { return l.CommentID })
	return lo.Map(comments, func(c model.Comment, _ int) Row {
		return Row{
			Avatar:  DefaultAvatar,
			Time:    FormatTime(c.PostTime.Time, loc),
			Text:    c.Content,
			Emotion: c.Sentiment,
			Likes:   lo.Ternary(c.ID == "", 0, counts[c.ID]),
		}
	})
}

// Labels are the badge captions for each status.
type Labels struct {
	Connecting string
	Connected  string
	Error      string
}

var (
	CommentLabels = Labels{Connecting: "Connecting", Connected: "Connected to server", Error: "Service unavailable"}
	LikeLabels    = Labels{Connecting: "Likes: connecting", Connected: "Likes: connected", Error: "Likes: unavailable"}
)

// Badge is the status indicator of one feed.
type Badge struct {
	Status feed.Status
	Label  string
	Color  string
}

// BadgeFor picks orange for connecting, green for connected and red otherwise.
func BadgeFor(s feed.Status, l Labels) Badge {
	switch s {
	case feed.StatusConnecting:
		return Badge{Status: s, Label: l.Connecting, Color: "orange"}
	case feed.StatusConnected:
		return Badge{Status: s, Label: l.Connected, Color: "green"}
	default:
		return Badge{Status: s, Label: l.Error, Color: "red"}
	}
}

// Field is one label/value line of the book detail.
type Field struct {
	Label string
	Value string
}

// BookFields lists the book metadata in display order.
func BookFields(b model.Book) []Field {
	return []Field{
		{"Title", b.Title},
		{"Author", b.Author},
		{"ISBN", b.ISBN},
		{"Publisher", b.Publisher},
		{"Published", b.PublishedDate},
		{"Description", b.Description},
		{"Price", b.Price},
	}
}

// emotionClass maps a sentiment tag to a CSS modifier.
func emotionClass(sentiment string) string {
	switch strings.ToLower(strings.TrimSpace(sentiment)) {
	case "positive", "joy", "happy", "love":
		return "emotion-positive"
	case "negative", "anger", "sadness", "sad", "angry", "fear":
		return "emotion-negative"
	default:
		return "emotion-neutral"
	}
}
