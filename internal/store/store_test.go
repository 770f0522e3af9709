package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetcore/internal/graph"
	"sheetcore/internal/schema"
)

func seed(ctx context.Context, t *testing.T, s Store) {
	t.Helper()
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.SaveTable(ctx, schema.Table{ID: "t", Name: "T"}))
		for _, id := range []string{"a", "b"} {
			require.NoError(t, tx.SaveField(ctx, schema.FieldRecord{ID: id, TableID: "t", Name: id, Kind: schema.KindPlain}))
		}
		return tx.InsertEdges(ctx, []graph.Edge{{ID: "e1", DependantID: "a", DependencyID: "b"}})
	})
	require.NoError(t, err)
}

func TestMemoryRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(ctx, t, m)

	boom := errors.New("boom")
	err := m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.DeleteEdges(ctx, []string{"e1"}))
		edges, err := tx.Edges(ctx)
		require.NoError(t, err)
		assert.Empty(t, edges, "changes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap := m.Snapshot()
	assert.Len(t, snap.Edges, 1)
}

func TestMemoryQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(ctx, t, m)

	err := m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		to, err := tx.EdgesTo(ctx, "b")
		require.NoError(t, err)
		require.Len(t, to, 1)

		broken := to[0]
		broken.DependencyID, broken.BrokenName = "", "b"
		require.NoError(t, tx.UpdateEdges(ctx, []graph.Edge{broken}))

		found, err := tx.BrokenEdges(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []graph.Edge{broken}, found)

		to, err = tx.EdgesTo(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, to)

		assert.ErrorIs(t, tx.UpdateEdges(ctx, []graph.Edge{{ID: "nope"}}), ErrNotFound)
		assert.ErrorIs(t, tx.InsertEdges(ctx, []graph.Edge{{ID: "e2", DependantID: "ghost"}}), ErrNotFound)

		// удаление поля удаляет его исходящие рёбра
		require.NoError(t, tx.DeleteField(ctx, "a"))
		edges, err := tx.Edges(ctx)
		require.NoError(t, err)
		assert.Empty(t, edges)

		fields, err := tx.Fields(ctx)
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, "b", fields[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestFilePersistsAndLocks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "sheetcore.json")

	f, err := OpenFile(ctx, path)
	require.NoError(t, err)
	seed(ctx, t, f)
	require.NoError(t, f.Close())

	again, err := OpenFile(ctx, path)
	require.NoError(t, err)
	defer again.Close()

	snap := again.Snapshot()
	assert.Len(t, snap.Fields, 2)
	assert.Equal(t, []string{"a", "b"}, snap.Order)
	assert.Equal(t, graph.Edge{ID: "e1", DependantID: "a", DependencyID: "b"}, snap.Edges["e1"])
}

func TestFileWriteFailureDiscardsTx(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sheetcore.json")

	f, err := OpenFile(ctx, path)
	require.NoError(t, err)
	defer f.Close()

	// каталог на месте временного файла ломает запись снимка
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))

	err = f.InTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.SaveTable(ctx, schema.Table{ID: "t", Name: "T"}))
		require.NoError(t, tx.SaveField(ctx, schema.FieldRecord{ID: "a", TableID: "t", Name: "a", Kind: schema.KindPlain}))
		return tx.InsertEdges(ctx, []graph.Edge{{ID: "e1", DependantID: "a", BrokenName: "b"}})
	})
	require.Error(t, err)

	snap := f.Snapshot()
	assert.Empty(t, snap.Edges)
	assert.Empty(t, snap.Fields)
	assert.Empty(t, snap.Tables)
}
