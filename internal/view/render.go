package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/bryan-buckman/bookfeed/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

// PageData is everything the book page needs.
type PageData struct {
	Book         model.Book
	Fields       []Field
	CommentBadge Badge
	LikeBadge    Badge
	Rows         []Row
	// LiveURL is the SSE endpoint the page subscribes to.
	LiveURL string
	// CommentURL receives the comment form.
	CommentURL string
}

// Renderer executes the embedded templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"emotionClass": emotionClass,
		"emptyMessage": func() string { return EmptyMessage },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Page writes the full document.
func (r *Renderer) Page(w io.Writer, data PageData) error {
	return r.templates.ExecuteTemplate(w, "page.html", data)
}

// CommentList renders the comment list, or the fallback message when empty.
func (r *Renderer) CommentList(rows []Row) (string, error) {
	return r.fragment("comments.html", rows)
}

// Badge renders a status badge.
func (r *Renderer) Badge(b Badge) (string, error) {
	return r.fragment("badge.html", b)
}

func (r *Renderer) fragment(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
