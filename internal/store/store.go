// Package store — хранилище схемы и графа зависимостей: интерфейсы транзакций
// и реализация в памяти (с необязательным снимком в файле).
package store

import (
	"context"
	"sort"
	"sync"

	"sheetcore/internal/graph"
	"sheetcore/internal/schema"
)

// Tx — транзакция: рёбра графа плюс сохранение таблиц и полей.
type Tx interface {
	graph.Tx

	SaveTable(ctx context.Context, t schema.Table) error
	Tables(ctx context.Context) ([]schema.Table, error)

	SaveField(ctx context.Context, rec schema.FieldRecord) error
	// DeleteField удаляет поле вместе с его исходящими рёбрами.
	DeleteField(ctx context.Context, id string) error
	Fields(ctx context.Context) ([]schema.FieldRecord, error)

	Edges(ctx context.Context) ([]graph.Edge, error)
}

// Store выполняет fn атомарно: ошибка fn откатывает все изменения.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// State — полное состояние хранилища в памяти.
type State struct {
	Tables map[string]schema.Table       `json:"tables"`
	Fields map[string]schema.FieldRecord `json:"fields"`
	Edges  map[string]graph.Edge         `json:"edges"`
	Order  []string                      `json:"order"` // id полей в порядке создания
}

func newState() *State {
	return &State{
		Tables: make(map[string]schema.Table),
		Fields: make(map[string]schema.FieldRecord),
		Edges:  make(map[string]graph.Edge),
	}
}

func (s *State) clone() *State {
	cp := newState()
	for k, v := range s.Tables {
		cp.Tables[k] = v
	}
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	for k, v := range s.Edges {
		cp.Edges[k] = v
	}
	cp.Order = append([]string(nil), s.Order...)
	return cp
}

// Memory — хранилище в памяти. Транзакции сериализуются одной блокировкой
// и работают на копии состояния, которая подменяет исходное только при успехе.
type Memory struct {
	mu    sync.Mutex
	state *State

	// commit вызывается под блокировкой с новым состоянием до подмены;
	// ошибка отменяет транзакцию.
	commit func(*State) error
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{s: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.commit != nil {
		if err := m.commit(tx.s); err != nil {
			return err
		}
	}
	m.state = tx.s
	return nil
}

// Snapshot — копия текущего состояния.
func (m *Memory) Snapshot() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

type memTx struct {
	s *State
}

// LockFields: транзакции уже сериализованы блокировкой Memory.
func (t *memTx) LockFields(context.Context, ...string) error { return nil }

func (t *memTx) filter(keep func(graph.Edge) bool) []graph.Edge {
	var out []graph.Edge
	for _, e := range t.s.Edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *memTx) EdgesOf(_ context.Context, id string) ([]graph.Edge, error) {
	return t.filter(func(e graph.Edge) bool { return e.DependantID == id }), nil
}

func (t *memTx) EdgesTo(_ context.Context, id string) ([]graph.Edge, error) {
	return t.filter(func(e graph.Edge) bool { return e.DependencyID == id && id != "" }), nil
}

func (t *memTx) EdgesVia(_ context.Context, id string) ([]graph.Edge, error) {
	return t.filter(func(e graph.Edge) bool { return e.ViaID == id && id != "" }), nil
}

func (t *memTx) BrokenEdges(_ context.Context, name string) ([]graph.Edge, error) {
	return t.filter(func(e graph.Edge) bool { return e.Broken() && e.BrokenName == name }), nil
}

func (t *memTx) Edges(context.Context) ([]graph.Edge, error) {
	return t.filter(func(graph.Edge) bool { return true }), nil
}

func (t *memTx) InsertEdges(_ context.Context, edges []graph.Edge) error {
	for _, e := range edges {
		if _, ok := t.s.Edges[e.ID]; ok {
			return errDuplicateEdge(e.ID)
		}
		if _, ok := t.s.Fields[e.DependantID]; !ok {
			return errMissingField(e.DependantID)
		}
		t.s.Edges[e.ID] = e
	}
	return nil
}

func (t *memTx) UpdateEdges(_ context.Context, edges []graph.Edge) error {
	for _, e := range edges {
		if _, ok := t.s.Edges[e.ID]; !ok {
			return errMissingEdge(e.ID)
		}
		t.s.Edges[e.ID] = e
	}
	return nil
}

func (t *memTx) DeleteEdges(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(t.s.Edges, id)
	}
	return nil
}

func (t *memTx) SaveTable(_ context.Context, tbl schema.Table) error {
	t.s.Tables[tbl.ID] = tbl
	return nil
}

func (t *memTx) Tables(context.Context) ([]schema.Table, error) {
	out := make([]schema.Table, 0, len(t.s.Tables))
	for _, tbl := range t.s.Tables {
		out = append(out, tbl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SaveField(_ context.Context, rec schema.FieldRecord) error {
	if _, ok := t.s.Tables[rec.TableID]; !ok {
		return errMissingTable(rec.TableID)
	}
	if _, ok := t.s.Fields[rec.ID]; !ok {
		t.s.Order = append(t.s.Order, rec.ID)
	}
	t.s.Fields[rec.ID] = rec
	return nil
}

func (t *memTx) DeleteField(_ context.Context, id string) error {
	delete(t.s.Fields, id)
	for i, x := range t.s.Order {
		if x == id {
			t.s.Order = append(t.s.Order[:i:i], t.s.Order[i+1:]...)
			break
		}
	}
	for eid, e := range t.s.Edges {
		if e.DependantID == id {
			delete(t.s.Edges, eid)
		}
	}
	return nil
}

func (t *memTx) Fields(context.Context) ([]schema.FieldRecord, error) {
	out := make([]schema.FieldRecord, 0, len(t.s.Order))
	for _, id := range t.s.Order {
		out = append(out, t.s.Fields[id])
	}
	return out, nil
}
