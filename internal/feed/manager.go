package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// ErrMalformedPayload is reported when a message is not a JSON list of items.
var ErrMalformedPayload = errors.New("malformed payload")

// closeGrace bounds the close handshake on teardown.
const closeGrace = time.Second

// Update is delivered after every observed lifecycle event. Snapshot is shared
// with the manager and must not be modified.
type Update[T any] struct {
	Event    Event
	Status   Status
	Snapshot []T
	// Err is set for transport errors and for rejected payloads.
	Err error
}

// Options configure a Manager.
type Options struct {
	// Name identifies the feed in logs ("comments", "likes").
	Name string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
	// Reconnect redials after a close or error, waiting NewBackOff intervals.
	Reconnect  bool
	NewBackOff func() backoff.BackOff
	Logger     *slog.Logger
}

// DefaultBackOff is the reconnect policy used when Options.NewBackOff is nil.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

// Manager owns one websocket subscription. A single goroutine drives the
// transport and is the only writer of status and snapshot.
type Manager[T any] struct {
	url  string
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	status   Status
	snapshot []T

	updates chan Update[T]
	cancel  context.CancelFunc
	done    chan struct{}
}

// Open starts connecting to url in the background. The manager runs until
// ctx is cancelled or Close is called.
func Open[T any](ctx context.Context, url string, opts Options) *Manager[T] {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = DefaultBackOff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	m := &Manager[T]{
		url:      url,
		opts:     opts,
		log:      logger.With("component", "feed", "feed", opts.Name, "url", url),
		status:   StatusConnecting,
		snapshot: []T{},
		updates:  make(chan Update[T], 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.run(ctx)
	return m
}

// URL returns the endpoint address.
func (m *Manager[T]) URL() string { return m.url }

// Status returns the current connection status.
func (m *Manager[T]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot returns a copy of the most recently received list.
func (m *Manager[T]) Snapshot() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.snapshot)
}

// Updates delivers the latest undelivered update. Older undelivered updates
// are dropped. The channel is closed when the manager stops.
func (m *Manager[T]) Updates() <-chan Update[T] { return m.updates }

// Done is closed once the manager has released its transport.
func (m *Manager[T]) Done() <-chan struct{} { return m.done }

// Close tears the transport down regardless of status and waits for it.
func (m *Manager[T]) Close() error {
	m.cancel()
	<-m.done
	return nil
}

func (m *Manager[T]) run(ctx context.Context) {
	defer close(m.done)
	defer close(m.updates)

	var bo backoff.BackOff
	if m.opts.Reconnect {
		bo = m.opts.NewBackOff()
		bo.Reset()
	}
	for {
		opened := m.session(ctx)
		if ctx.Err() != nil || bo == nil {
			return
		}
		if opened {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			m.log.Warn("giving up reconnecting")
			return
		}
		m.log.Debug("reconnecting", "in", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		m.apply(EventRetry, nil, nil)
	}
}

// session dials once and reads until the transport ends. It reports whether
// the connection was established.
func (m *Manager[T]) session(ctx context.Context) bool {
	conn, resp, err := m.opts.Dialer.DialContext(ctx, m.url, m.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			m.apply(EventClose, nil, nil)
			return false
		}
		m.apply(EventError, nil, fmt.Errorf("dial %s: %w", m.url, err))
		return false
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		_ = conn.Close()
	})
	defer func() {
		if stop() {
			conn.Close()
		}
	}()

	m.apply(EventOpen, nil, nil)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.readFailed(ctx, err)
			return true
		}
		items, err := decode[T](data)
		if err != nil {
			m.reject(err)
			continue
		}
		m.apply(EventMessage, items, nil)
	}
}

func (m *Manager[T]) readFailed(ctx context.Context, err error) {
	var ce *websocket.CloseError
	switch {
	case ctx.Err() != nil:
		m.apply(EventClose, nil, nil)
	case errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure:
		m.log.Info("feed closed by peer", "code", ce.Code, "reason", ce.Text)
		m.apply(EventClose, nil, nil)
	default:
		m.apply(EventError, nil, fmt.Errorf("read %s: %w", m.url, err))
	}
}

func decode[T any](data []byte) ([]T, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (m *Manager[T]) apply(ev Event, items []T, err error) {
	m.mu.Lock()
	prev := m.status
	m.status = Transition(m.status, ev)
	if ev == EventMessage {
		m.snapshot = items
	}
	u := Update[T]{Event: ev, Status: m.status, Snapshot: m.snapshot, Err: err}
	m.mu.Unlock()

	switch {
	case err != nil:
		m.log.Error("feed transport error", "event", ev.String(), "err", err)
	case ev == EventMessage:
		m.log.Debug("snapshot received", "items", len(items))
	case prev != u.Status:
		m.log.Info("feed status changed", "event", ev.String(), "from", prev, "to", u.Status)
	}
	m.publish(u)
}

// reject reports a payload that could not be decoded; state is unchanged.
func (m *Manager[T]) reject(err error) {
	m.mu.Lock()
	u := Update[T]{Event: EventMessage, Status: m.status, Snapshot: m.snapshot, Err: err}
	m.mu.Unlock()
	m.log.Error("dropping message", "err", err)
	m.publish(u)
}

// publish replaces any undelivered update. Only the run goroutine sends, so
// the second send cannot block.
func (m *Manager[T]) publish(u Update[T]) {
	select {
	case m.updates <- u:
		return
	default:
	}
	select {
	case <-m.updates:
	default:
	}
	m.updates <- u
}
