package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// NotifySideChannel wakes local subscribers the instant an event is
// persisted, without waiting for JetStream's delivery latency. It is not a
// replacement for the durable bus: every event still flows through
// JetStreamBus.Publish; this only shortcuts the "did anything happen since
// I last checked" poll tarsy's WebSocket layer otherwise needs, adapted from
// pkg/events/listener.go's dedicated-LISTEN-connection design.
type NotifySideChannel struct {
	connString string
	conn       *pgx.Conn
	connMu     sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]func(payload []byte)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifySideChannel constructs a side channel; call Start before
// Subscribe.
func NewNotifySideChannel(connString string) *NotifySideChannel {
	return &NotifySideChannel{
		connString: connString,
		handlers:   make(map[string][]func(payload []byte)),
	}
}

// Start opens the dedicated LISTEN connection and begins the receive loop.
// Only one goroutine (the receive loop itself) ever touches conn, avoiding
// the "conn busy" race pgx hits if LISTEN/UNLISTEN and WaitForNotification
// interleave from different goroutines.
func (s *NotifySideChannel) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return fmt.Errorf("connect for LISTEN: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.receiveLoop(loopCtx)
	}()
	return nil
}

// Subscribe registers handler for NOTIFY events on channel, issuing LISTEN
// if this is the first subscriber.
func (s *NotifySideChannel) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	s.handlersMu.Lock()
	first := len(s.handlers[channel]) == 0
	s.handlers[channel] = append(s.handlers[channel], handler)
	s.handlersMu.Unlock()

	if !first {
		return nil
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("side channel not started")
	}
	sanitized := pgx.Identifier{channel}.Sanitize()
	_, err := s.conn.Exec(ctx, "LISTEN "+sanitized)
	return err
}

func (s *NotifySideChannel) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() == nil {
				slog.Warn("bus: notify side channel wait failed", "error", err)
			}
			continue // timeout or transient error: loop again so ctx cancellation is observed promptly
		}

		s.handlersMu.RLock()
		hs := append([]func(payload []byte){}, s.handlers[notification.Channel]...)
		s.handlersMu.RUnlock()
		for _, h := range hs {
			h([]byte(notification.Payload))
		}
	}
}

// Stop cancels the receive loop and closes the LISTEN connection.
func (s *NotifySideChannel) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close(ctx)
	}
	return nil
}

// Notifier persists an Event row and fires pg_notify in the same
// transaction (pg_notify is transactional: the NOTIFY is held until
// COMMIT), mirroring pkg/events/publisher.go's persistAndNotify.
type Notifier struct {
	db *sql.DB
}

func NewNotifier(db *sql.DB) *Notifier { return &Notifier{db: db} }

// Publish persists payload to the events table under channel and fires
// pg_notify so any side-channel subscriber wakes immediately.
func (n *Notifier) Publish(ctx context.Context, sessionID, channel string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal notify payload: %w", err)
	}

	tx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, body, time.Now(),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, body); err != nil {
		return 0, fmt.Errorf("pg_notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit notify: %w", err)
	}
	return id, nil
}

// EventsSince returns events on channel with id > sinceID, up to limit, for
// a reconnecting subscriber catching up on what it missed.
func (n *Notifier) EventsSince(ctx context.Context, channel string, sinceID int64, limit int) ([]NotifiedEvent, error) {
	rows, err := n.db.QueryContext(ctx,
		`SELECT id, session_id, payload, created_at FROM events
		 WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()

	var out []NotifiedEvent
	for rows.Next() {
		var e NotifiedEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NotifiedEvent is a catchup row returned by EventsSince.
type NotifiedEvent struct {
	ID        int64
	SessionID string
	Payload   json.RawMessage
	CreatedAt time.Time
}
