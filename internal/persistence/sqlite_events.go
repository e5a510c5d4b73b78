package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/flowstate/pkg/api"
)

// SQLiteEventStore stores audit events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

// Ensure SQLiteEventStore implements the interfaces.
var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instance_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			definition_id TEXT NOT NULL DEFAULT '',
			action_id TEXT NOT NULL DEFAULT '',
			from_state TEXT NOT NULL DEFAULT '',
			to_state TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_instance_events_instance_id ON instance_events(instance_id, id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_events (instance_id, at, type, definition_id, action_id, from_state, to_state, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.InstanceID,
		at.UnixNano(),
		string(ev.Type),
		ev.DefinitionID,
		ev.ActionID,
		ev.FromState,
		ev.ToState,
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, at, type, definition_id, action_id, from_state, to_state, detail
		FROM instance_events
		WHERE instance_id = ?
		ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var (
			id     string
			atN    int64
			typ    string
			defID  string
			action string
			from   string
			to     string
			detail string
		)
		if err := rows.Scan(&id, &atN, &typ, &defID, &action, &from, &to, &detail); err != nil {
			return nil, err
		}
		out = append(out, api.Event{
			InstanceID:   id,
			At:           time.Unix(0, atN).UTC(),
			Type:         api.EventType(typ),
			DefinitionID: defID,
			ActionID:     action,
			FromState:    from,
			ToState:      to,
			Detail:       detail,
		})
	}
	return out, rows.Err()
}
