// Package config loads settings from HCL files and BOOKFEED_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"

	"github.com/bryan-buckman/bookfeed/internal/model"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BOOKFEED"

// DefaultFiles are read in order when present.
var DefaultFiles = []string{"./bookfeed.hcl", "$HOME/.config/bookfeed/bookfeed.hcl"}

type Config struct {
	LogLevel  string `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat string `hcl:"log_format" env:"LOG_FORMAT" default:"text"`

	// Page server.
	WebAddr        string        `hcl:"web_addr" env:"WEB_ADDR" default:":8080"`
	APIUpstream    string        `hcl:"api_upstream" env:"API_UPSTREAM" default:"http://localhost:8081"`
	CommentsURL    string        `hcl:"comments_url" env:"COMMENTS_URL" default:"ws://localhost:8081/ws/comments"`
	LikesURL       string        `hcl:"likes_url" env:"LIKES_URL" default:"ws://localhost:8081/ws/likes"`
	Reconnect      bool          `hcl:"reconnect" env:"RECONNECT" default:"false"`
	BackoffInitial time.Duration `hcl:"backoff_initial" env:"BACKOFF_INITIAL" default:"1s"`
	BackoffMax     time.Duration `hcl:"backoff_max" env:"BACKOFF_MAX" default:"30s"`
	Timezone       string        `hcl:"timezone" env:"TIMEZONE" default:"Local"`

	BookImg           string `hcl:"book_img" env:"BOOK_IMG"`
	BookTitle         string `hcl:"book_title" env:"BOOK_TITLE" default:"Martine à la ferme"`
	BookAuthor        string `hcl:"book_author" env:"BOOK_AUTHOR" default:"Gilbert Delahaye"`
	BookISBN          string `hcl:"book_isbn" env:"BOOK_ISBN"`
	BookPublisher     string `hcl:"book_publisher" env:"BOOK_PUBLISHER" default:"Casterman"`
	BookPublishedDate string `hcl:"book_published_date" env:"BOOK_PUBLISHED_DATE" default:"1954"`
	BookDescription   string `hcl:"book_description" env:"BOOK_DESCRIPTION"`
	BookPrice         string `hcl:"book_price" env:"BOOK_PRICE"`

	// Feed publisher.
	FeedsAddr        string        `hcl:"feeds_addr" env:"FEEDS_ADDR" default:":8081"`
	DatabaseDSN      string        `hcl:"database_dsn" env:"DATABASE_DSN" default:"sqlite://bookfeed.db"`
	NatsURL          string        `hcl:"nats_url" env:"NATS_URL"`
	SnapshotInterval time.Duration `hcl:"snapshot_interval" env:"SNAPSHOT_INTERVAL" default:"10s"`
	BaseURL          string        `hcl:"base_url" env:"BASE_URL" default:"http://localhost:8081"`
	FeedTitle        string        `hcl:"feed_title" env:"FEED_TITLE" default:"Book comments"`
}

// Load reads the default files, then extra, then the environment.
func Load(extra ...string) (Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: EnvPrefix,
		SkipFlags: true,
		Files:     append(append([]string{}, DefaultFiles...), extra...),
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Book returns the book shown on the page.
func (c Config) Book() model.Book {
	return model.Book{
		Img:           c.BookImg,
		Title:         c.BookTitle,
		Author:        c.BookAuthor,
		ISBN:          c.BookISBN,
		Publisher:     c.BookPublisher,
		PublishedDate: c.BookPublishedDate,
		Description:   c.BookDescription,
		Price:         c.BookPrice,
	}
}

// Location resolves Timezone; "Local" and "" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// NewBackOff builds the reconnect policy of one feed.
func (c Config) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.BackoffInitial > 0 {
		b.InitialInterval = c.BackoffInitial
	}
	if c.BackoffMax > 0 {
		b.MaxInterval = c.BackoffMax
	}
	return b
}

// Logger builds the process logger: text for log_format "text", JSON
// otherwise.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
