package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/flowstate/pkg/api"
)

func openSQLite(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteEngine_ABCScenario(t *testing.T) {
	ctx := context.Background()
	eng, err := NewSQLiteEngine(openSQLite(t, ":memory:"))
	require.NoError(t, err)

	def := registerABC(t, eng)
	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", inst.CurrentStateID)

	for _, a := range []string{"go1", "go2"} {
		inst, err = eng.ExecuteAction(ctx, inst.ID, a)
		require.NoError(t, err)
	}
	assert.Equal(t, "C", inst.CurrentStateID)
	assert.Equal(t, []string{"go1", "go2"}, historyActions(inst))

	_, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.ErrorIs(t, err, api.ErrTerminalState)

	events, err := eng.ListEvents(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, api.EventActionRejected, events[3].Type)
}

func TestSQLiteEngine_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flowstate.db")

	db := openSQLite(t, path)
	eng, err := NewSQLiteEngine(db)
	require.NoError(t, err)

	def := registerABC(t, eng)
	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)
	_, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := NewSQLiteEngine(openSQLite(t, path))
	require.NoError(t, err)

	got, err := reopened.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.CurrentStateID)
	assert.Equal(t, 1, got.Version)

	_, err = reopened.RegisterDefinition(ctx, abcDefinition("abc"))
	require.ErrorIs(t, err, api.ErrDuplicateName)

	got, err = reopened.ExecuteAction(ctx, inst.ID, "go2")
	require.NoError(t, err)
	assert.Equal(t, "C", got.CurrentStateID)
}

func TestSQLiteEngine_ConcurrentCallsSingleWinner(t *testing.T) {
	ctx := context.Background()
	eng, err := NewSQLiteEngine(openSQLite(t, ":memory:"))
	require.NoError(t, err)

	def := registerABC(t, eng)
	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = eng.ExecuteAction(ctx, inst.ID, "go1")
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, api.ErrIllegalTransition)
	}
	assert.Equal(t, 1, wins)

	got, err := eng.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, got.History, 1)
}
