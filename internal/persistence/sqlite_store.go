package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/flowstate/pkg/api"
)

// SQLiteStore is a DefinitionStore and InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// History is stored as append-only rows in instance_history; the
// instances row carries the current state and the version used for
// compare-and-swap updates.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var _ DefinitionStore = (*SQLiteStore)(nil)

var _ InstanceStore = (*SQLiteStore)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewSQLiteStore initializes the required schema in the given
// database and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS definitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE,
			body BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS instances (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			definition_id TEXT NOT NULL,
			current_state TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS instance_history (
			instance_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			action_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			PRIMARY KEY (instance_id, position)
		);`,
	)
	return err
}

func (s *SQLiteStore) SaveDefinition(ctx context.Context, def *api.Definition) error {
	body, err := EncodeDefinitionBody(def)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if found, err := exists(ctx, tx, `SELECT 1 FROM definitions WHERE name = ?`, def.Name); err != nil {
		return err
	} else if found {
		return ErrDuplicateName
	}
	if found, err := exists(ctx, tx, `SELECT 1 FROM definitions WHERE id = ?`, def.ID); err != nil {
		return err
	} else if found {
		return ErrDuplicateID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO definitions (id, name, body)
		VALUES (?, ?, ?)`,
		def.ID, def.Name, body,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetDefinition(ctx context.Context, id string) (*api.Definition, error) {
	return s.getDefinition(ctx, `SELECT id, name, body FROM definitions WHERE id = ?`, id)
}

func (s *SQLiteStore) GetDefinitionByName(ctx context.Context, name string) (*api.Definition, error) {
	return s.getDefinition(ctx, `SELECT id, name, body FROM definitions WHERE name = ?`, name)
}

func (s *SQLiteStore) getDefinition(ctx context.Context, query string, arg string) (*api.Definition, error) {
	var id, name string
	var body []byte
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&id, &name, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDefinitionNotFound
		}
		return nil, err
	}
	return DecodeDefinitionBody(id, name, body)
}

func (s *SQLiteStore) ListDefinitions(ctx context.Context) ([]*api.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, body FROM definitions ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]*api.Definition, 0)
	for rows.Next() {
		var id, name string
		var body []byte
		if err := rows.Scan(&id, &name, &body); err != nil {
			return nil, err
		}
		def, err := DecodeDefinitionBody(id, name, body)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if found, err := exists(ctx, tx, `SELECT 1 FROM instances WHERE id = ?`, inst.ID); err != nil {
		return err
	} else if found {
		return ErrDuplicateID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instances (id, definition_id, current_state, version)
		VALUES (?, ?, ?, ?)`,
		inst.ID, inst.DefinitionID, inst.CurrentStateID, len(inst.History),
	); err != nil {
		return err
	}
	for i, item := range inst.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO instance_history (instance_id, position, action_id, at)
			VALUES (?, ?, ?, ?)`,
			inst.ID, i, item.ActionID, item.Timestamp.UnixNano(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	list, err := s.queryInstances(ctx, s.db, `WHERE i.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrInstanceNotFound
	}
	return list[0], nil
}

func (s *SQLiteStore) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	var clauses []string
	var args []any

	if opts.DefinitionID != "" {
		clauses = append(clauses, "i.definition_id = ?")
		args = append(args, opts.DefinitionID)
	}
	if opts.CurrentState != "" {
		clauses = append(clauses, "i.current_state = ?")
		args = append(args, opts.CurrentState)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return s.queryInstances(ctx, s.db, where, args...)
}

// queryInstances loads instances together with their history in one
// ordered join and folds the rows back into instances.
func (s *SQLiteStore) queryInstances(ctx context.Context, q querier, where string, args ...any) ([]*api.Instance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.id, i.definition_id, i.current_state, i.version, h.action_id, h.at
		FROM instances i
		LEFT JOIN instance_history h ON h.instance_id = i.id
		`+where+`
		ORDER BY i.seq ASC, h.position ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]*api.Instance, 0)
	var cur *api.Instance

	for rows.Next() {
		var (
			id, defID, state string
			version          int
			actionID         sql.NullString
			at               sql.NullInt64
		)
		if err := rows.Scan(&id, &defID, &state, &version, &actionID, &at); err != nil {
			return nil, err
		}

		if cur == nil || cur.ID != id {
			cur = &api.Instance{
				ID:             id,
				DefinitionID:   defID,
				CurrentStateID: state,
				Version:        version,
				History:        []api.HistoryItem{},
			}
			instances = append(instances, cur)
		}
		if actionID.Valid {
			cur.History = append(cur.History, api.HistoryItem{
				ActionID:  actionID.String,
				Timestamp: time.Unix(0, at.Int64).UTC(),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, inst := range instances {
		if len(inst.History) != inst.Version {
			return nil, fmt.Errorf("instance %s: history length %d does not match version %d", inst.ID, len(inst.History), inst.Version)
		}
	}
	return instances, nil
}

func (s *SQLiteStore) AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE instances
		SET current_state = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		toState, id, expectedVersion,
	)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		found, err := exists(ctx, tx, `SELECT 1 FROM instances WHERE id = ?`, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrInstanceNotFound
		}
		return nil, ErrVersionMismatch
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instance_history (instance_id, position, action_id, at)
		VALUES (?, ?, ?, ?)`,
		id, expectedVersion, item.ActionID, item.Timestamp.UnixNano(),
	); err != nil {
		return nil, err
	}

	list, err := s.queryInstances(ctx, tx, `WHERE i.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrInstanceNotFound
	}
	return list[0], nil
}

func exists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
