package persistence

import "database/sql"

// NewSQLite returns a Persistence whose definitions, instances and events
// all live in the given SQLite database.
func NewSQLite(db *sql.DB) (Persistence, error) {
	store, err := NewSQLiteStore(db)
	if err != nil {
		return Persistence{}, err
	}
	events, err := NewSQLiteEventStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{
		Definitions: store,
		Instances:   store,
		Events:      events,
	}, nil
}
