// Package archive persists normalized events to Postgres for later querying.
// The archive is optional; when no database is configured the bridge runs
// without it.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
)

const insertTimeout = 5 * time.Second

// StoredEvent is one archived event row.
type StoredEvent struct {
	ID         string          `json:"event_id"`
	AlarmType  string          `json:"alarm_type"`
	Channel    int             `json:"channel"`
	Timestamp  string          `json:"timestamp,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Repo wraps the events table.
type Repo struct {
	DB *sql.DB
}

// Open connects and verifies the database.
func Open(dsn string) (*Repo, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Repo{DB: db}, nil
}

func (r *Repo) InsertEvent(ctx context.Context, evt normalize.Event) error {
	var extra []byte
	if len(evt.Extra) > 0 {
		var err error
		extra, err = json.Marshal(evt.Extra)
		if err != nil {
			return fmt.Errorf("marshal event extra: %w", err)
		}
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO events (event_id, alarm_type, channel, device_ts, extra, received_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		evt.ID.String(), evt.AlarmType, evt.Channel, evt.Timestamp, extra, evt.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent archived events, optionally filtered by
// channel (0 = all) and alarm type ("" = all).
func (r *Repo) ListEvents(ctx context.Context, channel int, alarmType string, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT event_id, alarm_type, channel, COALESCE(device_ts, ''), extra, received_at
		FROM events
		WHERE ($1 = 0 OR channel = $1)
		  AND ($2 = '' OR alarm_type = $2)
		ORDER BY received_at DESC
		LIMIT $3`,
		channel, alarmType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var extra []byte
		if err := rows.Scan(&e.ID, &e.AlarmType, &e.Channel, &e.Timestamp, &extra, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Extra = extra
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) Close() error {
	return r.DB.Close()
}

// HandleAlarm is the bus sink: archive writes must never stall event
// delivery, so each insert gets its own short deadline and failures are only
// logged.
func (r *Repo) HandleAlarm(evt normalize.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := r.InsertEvent(ctx, evt); err != nil {
		log.Printf("[ERROR] archive: %v", err)
	}
}
