package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	corep "github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// PostgresStore is a DefinitionStore, InstanceStore and EventStore backed
// by PostgreSQL.
//
// It expects an *sql.DB that uses the pgx driver. The caller is
// responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
//
// Uniqueness of definition names and ids is enforced by unique
// constraints, so concurrent registrations from several processes cannot
// both succeed.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ corep.DefinitionStore = (*PostgresStore)(nil)
	_ corep.InstanceStore   = (*PostgresStore)(nil)
	_ corep.EventStore      = (*PostgresStore)(nil)
)

const uniqueViolation = "23505"

// NewPostgresStore migrates the schema in the given database and returns
// a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if err := Migrate(context.Background(), db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveDefinition(ctx context.Context, def *api.Definition) error {
	body, err := corep.EncodeDefinitionBody(def)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO definitions (id, name, body)
		VALUES ($1, $2, $3)`,
		def.ID, def.Name, body,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "definitions_name_key" {
			return corep.ErrDuplicateName
		}
		return corep.ErrDuplicateID
	}
	return err
}

func (p *PostgresStore) GetDefinition(ctx context.Context, id string) (*api.Definition, error) {
	return p.getDefinition(ctx, `SELECT id, name, body FROM definitions WHERE id = $1`, id)
}

func (p *PostgresStore) GetDefinitionByName(ctx context.Context, name string) (*api.Definition, error) {
	return p.getDefinition(ctx, `SELECT id, name, body FROM definitions WHERE name = $1`, name)
}

func (p *PostgresStore) getDefinition(ctx context.Context, query, arg string) (*api.Definition, error) {
	var id, name string
	var body []byte
	if err := p.db.QueryRowContext(ctx, query, arg).Scan(&id, &name, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, corep.ErrDefinitionNotFound
		}
		return nil, err
	}
	return corep.DecodeDefinitionBody(id, name, body)
}

func (p *PostgresStore) ListDefinitions(ctx context.Context) ([]*api.Definition, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, body FROM definitions ORDER BY seq`)
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
		def, err := corep.DecodeDefinitionBody(id, name, body)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (p *PostgresStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO instances (id, definition_id, current_state, version)
		VALUES ($1, $2, $3, $4)`,
		inst.ID, inst.DefinitionID, inst.CurrentStateID, len(inst.History),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return corep.ErrDuplicateID
	}
	if err != nil {
		return err
	}

	for i, item := range inst.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO instance_history (instance_id, position, action_id, at)
			VALUES ($1, $2, $3, $4)`,
			inst.ID, i, item.ActionID, item.Timestamp.UnixNano(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	list, err := queryInstances(ctx, p.db, `WHERE i.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, corep.ErrInstanceNotFound
	}
	return list[0], nil
}

func (p *PostgresStore) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	var args []any
	var clauses []string

	if opts.DefinitionID != "" {
		args = append(args, opts.DefinitionID)
		clauses = append(clauses, fmt.Sprintf("i.definition_id = $%d", len(args)))
	}
	if opts.CurrentState != "" {
		args = append(args, opts.CurrentState)
		clauses = append(clauses, fmt.Sprintf("i.current_state = $%d", len(args)))
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return queryInstances(ctx, p.db, where, args...)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryInstances(ctx context.Context, q querier, where string, args ...any) ([]*api.Instance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.id, i.definition_id, i.current_state, i.version, h.action_id, h.at
		FROM instances i
		LEFT JOIN instance_history h ON h.instance_id = i.id
		`+where+`
		ORDER BY i.seq, h.position`,
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
	return instances, rows.Err()
}

// AppendTransition moves the instance with a conditional UPDATE. Under
// READ COMMITTED a concurrent writer blocks on the row lock and then
// re-evaluates the version predicate, so only one of them matches.
func (p *PostgresStore) AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE instances
		SET current_state = $1, version = version + 1
		WHERE id = $2 AND version = $3`,
		toState, id, expectedVersion,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = $1`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, corep.ErrInstanceNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, corep.ErrVersionMismatch
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instance_history (instance_id, position, action_id, at)
		VALUES ($1, $2, $3, $4)`,
		id, expectedVersion, item.ActionID, item.Timestamp.UnixNano(),
	); err != nil {
		return nil, err
	}

	list, err := queryInstances(ctx, tx, `WHERE i.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, corep.ErrInstanceNotFound
	}
	return list[0], nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, ev api.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO instance_events (instance_id, at, type, definition_id, action_id, from_state, to_state, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.InstanceID, ev.At.UnixNano(), string(ev.Type),
		ev.DefinitionID, ev.ActionID, ev.FromState, ev.ToState, ev.Detail,
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT at, type, definition_id, action_id, from_state, to_state, detail
		FROM instance_events
		WHERE instance_id = $1
		ORDER BY seq`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		ev := api.Event{InstanceID: instanceID}
		var at int64
		var typ string
		if err := rows.Scan(&at, &typ, &ev.DefinitionID, &ev.ActionID, &ev.FromState, &ev.ToState, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, at).UTC()
		ev.Type = api.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}
