package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrMigrate wraps any failure to bring the schema up to date.
var ErrMigrate = errors.New("postgres: apply migrations")

// Migrate applies the embedded schema migrations. A Postgres advisory lock
// serializes concurrent callers, so several processes may start against
// the same empty database.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return errors.Join(ErrMigrate, err)
	}

	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return errors.Join(ErrMigrate, err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys,
		goose.WithSessionLocker(locker),
	)
	if err != nil {
		return errors.Join(ErrMigrate, err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return errors.Join(ErrMigrate, err)
	}
	return nil
}
