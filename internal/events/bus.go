// Package events carries change notifications and broker messages between
// the publisher components.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Subjects used by the publisher.
const (
	SubjectCommentsChanged = "bookstore.comments.changed"
	SubjectLikesChanged    = "bookstore.likes.changed"
	SubjectReviewComments  = "bookstore.review-comments"
)

// ErrClosed is returned by a closed bus.
var ErrClosed = errors.New("events: bus closed")

// Handler receives the payload of one message.
type Handler func(data []byte)

// Bus publishes and subscribes to subjects.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe registers fn for subject and returns a function that removes it.
	Subscribe(subject string, fn Handler) (func(), error)
	Close() error
}

// NATSBus is a Bus backed by a NATS connection.
type NATSBus struct {
	nc  *nats.Conn
	log *slog.Logger
}

// ConnectNATS connects to the NATS server at url.
func ConnectNATS(url string, logger *slog.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "events", "url", url)
	nc, err := nats.Connect(url,
		nats.Name("bookfeed"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	log.Info("connected to nats")
	return &NATSBus{nc: nc, log: log}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, fn Handler) (func(), error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.log.Warn("unsubscribe failed", "subject", subject, "err", err)
		}
	}, nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

// LocalBus delivers messages in process. Handlers run synchronously on the
// publishing goroutine.
type LocalBus struct {
	mu     sync.RWMutex
	next   int
	subs   map[string]map[int]Handler
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]Handler)}
}

func (b *LocalBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, fn := range b.subs[subject] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(data)
	}
	return nil
}

func (b *LocalBus) Subscribe(subject string, fn Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.next
	b.next++
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]Handler)
	}
	b.subs[subject][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[subject], id)
		})
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}

// Open returns a NATSBus when url is set and a LocalBus otherwise.
func Open(url string, logger *slog.Logger) (Bus, error) {
	if url == "" {
		return NewLocalBus(), nil
	}
	return ConnectNATS(url, logger)
}
