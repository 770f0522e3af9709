package graph_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetcore/internal/ast"
	"sheetcore/internal/formula"
	"sheetcore/internal/graph"
	"sheetcore/internal/schema"
	"sheetcore/internal/store"
)

type env struct {
	t   *testing.T
	ctx context.Context
	cat *schema.Catalog
	st  *store.Memory
	m   *graph.Maintainer
}

func newEnv(t *testing.T, tables ...string) *env {
	t.Helper()
	e := &env{
		t:   t,
		ctx: context.Background(),
		cat: schema.NewCatalog(),
		st:  store.NewMemory(),
		m:   graph.NewMaintainer(logr.Discard()),
	}
	for _, name := range tables {
		tbl, err := e.cat.AddTable(&schema.Table{ID: name, Name: name})
		require.NoError(t, err)
		e.tx(func(tx store.Tx) error { return tx.SaveTable(e.ctx, *tbl) })
	}
	return e
}

func (e *env) tx(fn func(tx store.Tx) error) {
	e.t.Helper()
	require.NoError(e.t, e.st.InTx(e.ctx, func(_ context.Context, tx store.Tx) error { return fn(tx) }))
}

func (e *env) add(f *schema.Field) *schema.Field {
	e.t.Helper()
	if f.Type == nil && !f.IsRelation() {
		f.Type = formula.Number{}
	}
	out, err := e.cat.AddField(f)
	require.NoError(e.t, err)
	rec, err := out.Record()
	require.NoError(e.t, err)
	e.tx(func(tx store.Tx) error { return tx.SaveField(e.ctx, rec) })
	return out
}

func (e *env) formula(table, name string, expr ast.Node) *schema.Field {
	return e.add(&schema.Field{ID: name, TableID: table, Name: name, Kind: schema.KindFormula, Expression: expr})
}

func (e *env) setExpr(id string, expr ast.Node) *schema.Field {
	e.t.Helper()
	f, ok := e.cat.FieldByID(id)
	require.True(e.t, ok)
	f.Kind = schema.KindFormula
	f.Expression = expr
	require.NoError(e.t, e.cat.UpdateField(f))
	return f
}

func (e *env) rebuild(f *schema.Field) (graph.Diff, error) {
	var diff graph.Diff
	err := e.st.InTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		diff, err = e.m.RebuildDependencies(ctx, tx, f, e.cat)
		return err
	})
	return diff, err
}

func (e *env) edges() []graph.Edge {
	var out []graph.Edge
	e.tx(func(tx store.Tx) error {
		var err error
		out, err = tx.Edges(e.ctx)
		return err
	})
	for i := range out {
		out[i].ID = ""
	}
	return out
}

func TestWouldCycleSelf(t *testing.T) {
	e := newEnv(t, "T")
	e.tx(func(tx store.Tx) error {
		cyc, err := graph.WouldCycle(e.ctx, tx, "a", "a")
		require.NoError(t, err)
		assert.True(t, cyc)
		return nil
	})
}

// A = B + 1, B = C, C без формулы; затем C = A — цикл, граф не меняется.
func TestEndToEndCycleRejected(t *testing.T) {
	e := newEnv(t, "T")
	c := e.add(&schema.Field{ID: "C", TableID: "T", Name: "C", Kind: schema.KindPlain})
	b := e.formula("T", "B", ast.Ref("C"))
	a := e.formula("T", "A", ast.Op(ast.OpAdd, ast.Ref("B"), ast.Number("1")))

	for _, f := range []*schema.Field{a, b, c} {
		_, err := e.rebuild(f)
		require.NoError(t, err)
	}
	before := e.st.Snapshot().Edges
	assert.ElementsMatch(t, []graph.Edge{
		{DependantID: "A", DependencyID: "B"},
		{DependantID: "B", DependencyID: "C"},
	}, e.edges())

	c = e.setExpr("C", ast.Ref("A"))
	_, err := e.rebuild(c)
	var cyc *graph.CircularDependencyError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, "C", cyc.Dependant)
	assert.Equal(t, "A", cyc.Dependency)
	assert.Equal(t, before, e.st.Snapshot().Edges)
}

func TestRebuildIsIdempotent(t *testing.T) {
	e := newEnv(t, "T")
	e.add(&schema.Field{ID: "X", TableID: "T", Name: "X", Kind: schema.KindPlain})
	f := e.formula("T", "F", ast.Fn("concat", ast.Ref("X"), ast.Ref("Missing"), ast.Ref("X")))

	diff, err := e.rebuild(f)
	require.NoError(t, err)
	assert.Len(t, diff.Created, 2)

	diff, err = e.rebuild(f)
	require.NoError(t, err)
	assert.False(t, diff.Changed())
	assert.Len(t, diff.Kept, 2)

	f = e.setExpr("F", ast.Ref("X"))
	diff, err = e.rebuild(f)
	require.NoError(t, err)
	assert.Empty(t, diff.Created)
	require.Len(t, diff.Deleted, 1)
	assert.Equal(t, "Missing", diff.Deleted[0].BrokenName)
}

func TestRebuildAllOrNothing(t *testing.T) {
	e := newEnv(t, "T")
	e.add(&schema.Field{ID: "P", TableID: "T", Name: "P", Kind: schema.KindPlain})
	a := e.formula("T", "A", ast.Ref("P"))
	_, err := e.rebuild(a)
	require.NoError(t, err)
	b := e.formula("T", "B", ast.Ref("A"))
	_, err = e.rebuild(b)
	require.NoError(t, err)

	// новое ребро на P допустимо, на B — цикл: не пишется ни одно
	a = e.setExpr("A", ast.Op(ast.OpAdd, ast.Ref("P"), ast.Ref("B")))
	_, err = e.rebuild(a)
	require.Error(t, err)
	assert.ElementsMatch(t, []graph.Edge{
		{DependantID: "A", DependencyID: "P"},
		{DependantID: "B", DependencyID: "A"},
	}, e.edges())
}

func TestBreakAndHeal(t *testing.T) {
	e := newEnv(t, "T")
	b := e.add(&schema.Field{ID: "B", TableID: "T", Name: "B", Kind: schema.KindPlain})
	a := e.formula("T", "A", ast.Ref("B"))
	_, err := e.rebuild(a)
	require.NoError(t, err)

	e.tx(func(tx store.Tx) error {
		affected, err := e.m.BreakDependenciesFor(e.ctx, tx, b)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, affected)
		return tx.DeleteField(e.ctx, b.ID)
	})
	require.NoError(t, e.cat.RemoveField(b.ID))
	assert.Equal(t, []graph.Edge{{DependantID: "A", BrokenName: "B"}}, e.edges())

	// тот же набор рёбер следует и из перестройки
	diff, err := e.rebuild(a)
	require.NoError(t, err)
	assert.False(t, diff.Changed())

	b2 := e.add(&schema.Field{ID: "B2", TableID: "T", Name: "B", Kind: schema.KindPlain})
	e.tx(func(tx store.Tx) error {
		healed, err := e.m.HealBrokenReferences(e.ctx, tx, b2, e.cat)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, healed)
		return nil
	})
	assert.Equal(t, []graph.Edge{{DependantID: "A", DependencyID: "B2"}}, e.edges())
}

func TestHealThatWouldCycleStaysBroken(t *testing.T) {
	e := newEnv(t, "T")
	b := e.add(&schema.Field{ID: "B", TableID: "T", Name: "B", Kind: schema.KindPlain})
	a := e.formula("T", "A", ast.Ref("B"))
	_, err := e.rebuild(a)
	require.NoError(t, err)

	e.tx(func(tx store.Tx) error {
		_, err := e.m.BreakDependenciesFor(e.ctx, tx, b)
		require.NoError(t, err)
		return tx.DeleteField(e.ctx, b.ID)
	})
	require.NoError(t, e.cat.RemoveField(b.ID))

	// новый B зависит от A: подключение A -> B замкнуло бы цикл
	b2 := e.formula("T", "B", ast.Ref("A"))
	_, err = e.rebuild(b2)
	require.NoError(t, err)
	e.tx(func(tx store.Tx) error {
		healed, err := e.m.HealBrokenReferences(e.ctx, tx, b2, e.cat)
		require.NoError(t, err)
		assert.Empty(t, healed)
		return nil
	})
	assert.ElementsMatch(t, []graph.Edge{
		{DependantID: "A", BrokenName: "B"},
		{DependantID: "B", DependencyID: "A"},
	}, e.edges())
}

func TestRelationRoutedEdges(t *testing.T) {
	e := newEnv(t, "P", "T")
	e.add(&schema.Field{ID: "title", TableID: "T", Name: "Title", Primary: true, Kind: schema.KindPlain, Type: formula.Text{}})
	hours := e.add(&schema.Field{ID: "hours", TableID: "T", Name: "Hours", Kind: schema.KindPlain})
	rel := e.add(&schema.Field{ID: "tasks", TableID: "P", Name: "Tasks", Kind: schema.KindRelation, Relation: &schema.Relation{TargetTableID: "T"}})
	sum := e.formula("P", "Sum", ast.Fn("sum", ast.Lookup{Through: "Tasks", Name: "Hours"}))

	_, err := e.rebuild(sum)
	require.NoError(t, err)
	assert.ElementsMatch(t, []graph.Edge{
		{DependantID: "Sum", DependencyID: "tasks"},
		{DependantID: "Sum", DependencyID: "hours", ViaID: "tasks"},
	}, e.edges())

	// удаление цели через связь: ребро ломается, связь сохраняется
	e.tx(func(tx store.Tx) error {
		_, err := e.m.BreakDependenciesFor(e.ctx, tx, hours)
		require.NoError(t, err)
		return tx.DeleteField(e.ctx, hours.ID)
	})
	require.NoError(t, e.cat.RemoveField(hours.ID))
	assert.ElementsMatch(t, []graph.Edge{
		{DependantID: "Sum", DependencyID: "tasks"},
		{DependantID: "Sum", BrokenName: "Hours", ViaID: "tasks"},
	}, e.edges())

	// поле с тем же именем в связанной таблице лечит ребро
	h2 := e.add(&schema.Field{ID: "hours2", TableID: "T", Name: "Hours", Kind: schema.KindPlain})
	e.tx(func(tx store.Tx) error {
		healed, err := e.m.HealBrokenReferences(e.ctx, tx, h2, e.cat)
		require.NoError(t, err)
		assert.Equal(t, []string{"Sum"}, healed)
		return nil
	})

	// удаление связи удаляет маршрутизированные рёбра и ломает прямое
	e.tx(func(tx store.Tx) error {
		affected, err := e.m.BreakDependenciesFor(e.ctx, tx, rel)
		require.NoError(t, err)
		assert.Equal(t, []string{"Sum"}, affected)
		return tx.DeleteField(e.ctx, rel.ID)
	})
	require.NoError(t, e.cat.RemoveField(rel.ID))
	assert.Equal(t, []graph.Edge{{DependantID: "Sum", BrokenName: "Tasks"}}, e.edges())

	diff, err := e.rebuild(sum)
	require.NoError(t, err)
	assert.False(t, diff.Changed())
}

func TestHealDirectBeforeRouted(t *testing.T) {
	e := newEnv(t, "T")
	e.add(&schema.Field{ID: "self", TableID: "T", Name: "Self", Kind: schema.KindRelation, Relation: &schema.Relation{TargetTableID: "T"}})
	f := e.formula("T", "F", ast.Op(ast.OpAdd, ast.Ref("X"), ast.Fn("count", ast.Lookup{Through: "Self", Name: "X"})))
	_, err := e.rebuild(f)
	require.NoError(t, err)

	x := e.add(&schema.Field{ID: "x", TableID: "T", Name: "X", Kind: schema.KindPlain})
	e.tx(func(tx store.Tx) error {
		healed, err := e.m.HealBrokenReferences(e.ctx, tx, x, e.cat)
		require.NoError(t, err)
		assert.Equal(t, []string{"F"}, healed)
		return nil
	})
	assert.ElementsMatch(t, []graph.Edge{
		{DependantID: "F", DependencyID: "self"},
		{DependantID: "F", DependencyID: "x"},
		{DependantID: "F", DependencyID: "x", ViaID: "self"},
	}, e.edges())
}

func TestDependantsOrder(t *testing.T) {
	e := newEnv(t, "T")
	e.add(&schema.Field{ID: "base", TableID: "T", Name: "Base", Kind: schema.KindPlain})
	for _, f := range []*schema.Field{
		e.formula("T", "m1", ast.Ref("Base")),
		e.formula("T", "m2", ast.Op(ast.OpAdd, ast.Ref("m1"), ast.Ref("Base"))),
		e.formula("T", "a3", ast.Ref("m2")),
	} {
		_, err := e.rebuild(f)
		require.NoError(t, err)
	}
	e.tx(func(tx store.Tx) error {
		order, err := e.m.Dependants(e.ctx, tx, "base")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2", "a3"}, order)

		require.NoError(t, e.m.DeleteDependenciesOf(e.ctx, tx, &schema.Field{ID: "m2", Name: "m2"}))
		order, err = e.m.Dependants(e.ctx, tx, "base")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1"}, order)
		return nil
	})
}

func TestRebuildDropsDuplicateEdges(t *testing.T) {
	e := newEnv(t, "T")
	e.add(&schema.Field{ID: "x", TableID: "T", Name: "X", Kind: schema.KindPlain})
	f := e.formula("T", "F", ast.Op(ast.OpAdd, ast.Ref("X"), ast.Ref("X")))
	e.tx(func(tx store.Tx) error {
		return tx.InsertEdges(e.ctx, []graph.Edge{
			{ID: "e1", DependantID: "F", DependencyID: "x"},
			{ID: "e2", DependantID: "F", DependencyID: "x"},
		})
	})

	diff, err := e.rebuild(f)
	require.NoError(t, err)
	assert.Len(t, diff.Deleted, 1)
	assert.Equal(t, []graph.Edge{{DependantID: "F", DependencyID: "x"}}, e.edges())
}

func TestHealDropsBrokenEdgeWhenAlreadyLinked(t *testing.T) {
	e := newEnv(t, "T")
	x := e.add(&schema.Field{ID: "x", TableID: "T", Name: "X", Kind: schema.KindPlain})
	e.formula("T", "F", ast.Op(ast.OpAdd, ast.Ref("X"), ast.Ref("X")))
	e.tx(func(tx store.Tx) error {
		return tx.InsertEdges(e.ctx, []graph.Edge{
			{ID: "e1", DependantID: "F", DependencyID: "x"},
			{ID: "e2", DependantID: "F", BrokenName: "X"},
		})
	})

	e.tx(func(tx store.Tx) error {
		healed, err := e.m.HealBrokenReferences(e.ctx, tx, x, e.cat)
		require.NoError(t, err)
		assert.Equal(t, []string{"F"}, healed)
		return nil
	})
	assert.Equal(t, []graph.Edge{{DependantID: "F", DependencyID: "x"}}, e.edges())
}

// acyclic проверяет, что несломанные рёбра не образуют цикла.
func acyclic(edges map[string]graph.Edge) bool {
	next := map[string][]string{}
	for _, e := range edges {
		if !e.Broken() {
			next[e.DependantID] = append(next[e.DependantID], e.DependencyID)
		}
	}
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return false
		case done:
			return true
		}
		state[id] = visiting
		for _, n := range next[id] {
			if !visit(n) {
				return false
			}
		}
		state[id] = done
		return true
	}
	for id := range next {
		if !visit(id) {
			return false
		}
	}
	return true
}

func TestRandomRebuildsStayAcyclic(t *testing.T) {
	const fields = 8
	e := newEnv(t, "T")
	for i := 0; i < fields; i++ {
		e.formula("T", fmt.Sprintf("f%d", i), ast.Number("1"))
	}

	rnd := rand.New(rand.NewSource(42))
	rejected := 0
	for step := 0; step < 300; step++ {
		id := fmt.Sprintf("f%d", rnd.Intn(fields))
		var expr ast.Node = ast.Number("1")
		for n := rnd.Intn(3); n > 0; n-- {
			ref := ast.Ref(fmt.Sprintf("f%d", rnd.Intn(fields)))
			expr = ast.Op(ast.OpAdd, expr, ref)
		}

		f, ok := e.cat.FieldByID(id)
		require.True(t, ok)
		prev := f.Expression
		before := e.st.Snapshot().Edges

		_, err := e.rebuild(e.setExpr(id, expr))
		var cyc *graph.CircularDependencyError
		switch {
		case errors.As(err, &cyc):
			rejected++
			assert.Equal(t, before, e.st.Snapshot().Edges, "step %d: rejected rebuild changed the graph", step)
			e.setExpr(id, prev)
		default:
			require.NoError(t, err, "step %d", step)
		}
		require.True(t, acyclic(e.st.Snapshot().Edges), "step %d: graph has a cycle", step)
	}
	assert.NotZero(t, rejected, "sequence should exercise rejected rebuilds")
}
