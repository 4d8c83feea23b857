// Package pgnotify provides a PostgreSQL NOTIFY/LISTEN based event bus used
// to fan flow-commit notifications out to other flow engine processes
// sharing one database (internal/flowengine/eventbus.Relay). It is scoped to
// that one job: generic pub/sub over a handful of long-lived channels, not a
// general realtime/table-replication layer.
package pgnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/R3E-Network/flowengine/pkg/logger"
)

// Event is a published notification. Payload carries the relay's own
// envelope (flow id, event type, commit sequence) verbatim; pgnotify never
// interprets it.
type Event struct {
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler is called when an event is received.
type Handler func(ctx context.Context, event Event) error

// Bus is a PostgreSQL NOTIFY/LISTEN based event bus. A process subscribes to
// the handful of channels it cares about (today: one, flowengine_commits)
// and publishes commit notifications other processes pick up via their own
// listener connection.
type Bus struct {
	db       *sql.DB
	listener *pq.Listener

	log *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens a dedicated connection and creates a new PostgreSQL event bus.
func New(dsn string, log *logger.Logger) (*Bus, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgnotify: ping: %w", err)
	}

	return NewWithDB(db, dsn, log)
}

// NewWithDB creates a new PostgreSQL event bus over an existing connection,
// reusing it for Publish while opening a separate pq.Listener connection for
// LISTEN/NOTIFY (lib/pq requires a dedicated connection for that).
func NewWithDB(db *sql.DB, dsn string, log *logger.Logger) (*Bus, error) {
	b := &Bus{db: db, log: log, handlers: make(map[string][]Handler)}

	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.logError("listener error", err)
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	b.listener = listener

	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.wg.Add(1)
	go b.listen()

	return b, nil
}

// Publish sends an event to a channel via pg_notify. payload is marshaled as
// the event envelope; the relay passes its own relayMessage (flow id, event
// type, sequence) here.
func (b *Bus) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pgnotify: marshal payload: %w", err)
	}

	envelope := Event{Channel: channel, Payload: data, Timestamp: time.Now().UTC()}
	envelopeData, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("pgnotify: marshal envelope: %w", err)
	}

	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(envelopeData)); err != nil {
		return fmt.Errorf("pgnotify: notify: %w", err)
	}
	return nil
}

// Subscribe registers a handler for a channel, issuing LISTEN the first time
// a channel gets a handler.
func (b *Bus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.handlers[channel]) == 0 {
		if err := b.listener.Listen(channel); err != nil {
			return fmt.Errorf("pgnotify: listen: %w", err)
		}
	}

	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

// Unsubscribe removes every handler for a channel and issues UNLISTEN.
func (b *Bus) Unsubscribe(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, channel)

	if err := b.listener.Unlisten(channel); err != nil {
		return fmt.Errorf("pgnotify: unlisten: %w", err)
	}
	return nil
}

// Close shuts down the event bus and its listener connection.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

func (b *Bus) listen() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case notification := <-b.listener.Notify:
			if notification == nil {
				// Connection lost; pq.Listener reconnects and resumes LISTEN
				// on every channel we registered.
				continue
			}

			var event Event
			if err := json.Unmarshal([]byte(notification.Extra), &event); err != nil {
				event = Event{
					Channel:   notification.Channel,
					Payload:   json.RawMessage(notification.Extra),
					Timestamp: time.Now().UTC(),
				}
			}

			b.mu.RLock()
			handlers := make([]Handler, len(b.handlers[notification.Channel]))
			copy(handlers, b.handlers[notification.Channel])
			b.mu.RUnlock()

			for _, h := range handlers {
				b.invokeHandler(h, event)
			}

		case <-time.After(90 * time.Second):
			b.ping()
		}
	}
}

func (b *Bus) invokeHandler(handler Handler, event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := handler(ctx, event); err != nil {
			b.logError("handler error", err)
		}
	}()
}

func (b *Bus) ping() {
	go func() {
		if err := b.listener.Ping(); err != nil {
			b.logError("ping error", err)
		}
	}()
}

func (b *Bus) logError(msg string, err error) {
	if b.log != nil {
		b.log.WithField("error", err).Warn("pgnotify: " + msg)
		return
	}
	fmt.Printf("pgnotify: %s: %v\n", msg, err)
}

// Channels returns every channel currently subscribed to.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	channels := make([]string, 0, len(b.handlers))
	for ch := range b.handlers {
		channels = append(channels, ch)
	}
	return channels
}
