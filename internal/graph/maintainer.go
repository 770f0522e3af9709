package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"sheetcore/internal/schema"
)

// CircularDependencyError — новое ребро замкнуло бы цикл. Мутация отклоняется целиком.
type CircularDependencyError struct {
	Dependant  string // имя поля, чьи рёбра перестраивались
	Dependency string // имя цели, замыкающей цикл
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %q cannot depend on %q", e.Dependant, e.Dependency)
}

// Diff — результат перестройки рёбер поля.
type Diff struct {
	Kept    []Edge
	Created []Edge
	Deleted []Edge
}

// Changed — набор рёбер изменился.
func (d Diff) Changed() bool { return len(d.Created) > 0 || len(d.Deleted) > 0 }

// Maintainer держит граф в соответствии с выражениями полей.
// Все методы работают внутри транзакции вызывающего; вызывающий держит
// блокировку на запись затронутых полей (Tx.LockFields) до её конца.
type Maintainer struct {
	log logr.Logger
}

func NewMaintainer(log logr.Logger) *Maintainer {
	return &Maintainer{log: log.WithName("graph")}
}

func fieldName(r schema.Resolver, id string) string {
	if f, ok := r.FieldByID(id); ok {
		return f.Name
	}
	return id
}

// resolve превращает объявленные зависимости поля в желаемые рёбра.
// Не найденная цель даёт сломанное ребро с её именем; зависимость через
// отсутствующую связь пропускается: за саму связь отвечает своё ребро.
func resolve(field *schema.Field, r schema.Resolver) []Edge {
	var out []Edge
	seen := map[string]struct{}{}
	add := func(e Edge) {
		if _, ok := seen[e.key()]; ok {
			return
		}
		seen[e.key()] = struct{}{}
		out = append(out, e)
	}
	for _, d := range field.Dependencies(r) {
		e := Edge{DependantID: field.ID}
		tableID := field.TableID
		if d.Via != "" {
			via, ok := r.FieldByName(field.TableID, d.Via)
			if !ok || !via.IsRelation() {
				continue
			}
			e.ViaID = via.ID
			tableID = via.Relation.TargetTableID
		}
		if target, ok := r.FieldByName(tableID, d.Name); ok {
			e.DependencyID = target.ID
		} else {
			e.BrokenName = d.Name
		}
		add(e)
	}
	return out
}

// RebuildDependencies приводит рёбра поля к тому, что следует из его текущего
// выражения. Каждое новое ребро проверяется на цикл до любой записи; при цикле
// возвращается *CircularDependencyError и граф не меняется.
func (m *Maintainer) RebuildDependencies(ctx context.Context, tx Tx, field *schema.Field, r schema.Resolver) (Diff, error) {
	existing, err := tx.EdgesOf(ctx, field.ID)
	if err != nil {
		return Diff{}, fmt.Errorf("rebuild %s: %w", field.Name, err)
	}
	var diff Diff
	have := make(map[string]Edge, len(existing))
	var dups []Edge
	for _, e := range existing {
		// у поля не больше одного ребра на пару (цель, связь)
		if _, ok := have[e.key()]; ok {
			dups = append(dups, e)
			continue
		}
		have[e.key()] = e
	}
	want := map[string]struct{}{}
	for _, e := range resolve(field, r) {
		k := e.key()
		want[k] = struct{}{}
		if old, ok := have[k]; ok {
			diff.Kept = append(diff.Kept, old)
			continue
		}
		if !e.Broken() {
			cyc, err := WouldCycle(ctx, tx, field.ID, e.DependencyID)
			if err != nil {
				return Diff{}, fmt.Errorf("rebuild %s: %w", field.Name, err)
			}
			if cyc {
				return Diff{}, &CircularDependencyError{Dependant: field.Name, Dependency: fieldName(r, e.DependencyID)}
			}
		}
		e.ID = NewEdgeID()
		diff.Created = append(diff.Created, e)
	}
	for _, e := range existing {
		if _, ok := want[e.key()]; !ok {
			diff.Deleted = append(diff.Deleted, e)
		}
	}
	for _, e := range dups {
		if _, ok := want[e.key()]; ok {
			diff.Deleted = append(diff.Deleted, e)
		}
	}

	if len(diff.Deleted) > 0 {
		ids := make([]string, len(diff.Deleted))
		for i, e := range diff.Deleted {
			ids[i] = e.ID
		}
		if err := tx.DeleteEdges(ctx, ids); err != nil {
			return Diff{}, fmt.Errorf("rebuild %s: %w", field.Name, err)
		}
	}
	if len(diff.Created) > 0 {
		if err := tx.InsertEdges(ctx, diff.Created); err != nil {
			return Diff{}, fmt.Errorf("rebuild %s: %w", field.Name, err)
		}
	}
	m.log.V(2).Info("dependencies rebuilt", "field", field.Name,
		"kept", len(diff.Kept), "created", len(diff.Created), "deleted", len(diff.Deleted))
	return diff, nil
}

// BreakDependenciesFor вызывается перед удалением field: рёбра к нему
// становятся сломанными с его именем, а рёбра, идущие через него как через
// связь, удаляются. Возвращает id затронутых зависимых полей.
func (m *Maintainer) BreakDependenciesFor(ctx context.Context, tx Tx, field *schema.Field) ([]string, error) {
	affected := map[string]struct{}{}
	if field.IsRelation() {
		routed, err := tx.EdgesVia(ctx, field.ID)
		if err != nil {
			return nil, fmt.Errorf("break %s: %w", field.Name, err)
		}
		if len(routed) > 0 {
			ids := make([]string, len(routed))
			for i, e := range routed {
				ids[i] = e.ID
				affected[e.DependantID] = struct{}{}
			}
			if err := tx.DeleteEdges(ctx, ids); err != nil {
				return nil, fmt.Errorf("break %s: %w", field.Name, err)
			}
		}
	}

	edges, err := tx.EdgesTo(ctx, field.ID)
	if err != nil {
		return nil, fmt.Errorf("break %s: %w", field.Name, err)
	}
	for i := range edges {
		edges[i].DependencyID = ""
		edges[i].BrokenName = field.Name
		affected[edges[i].DependantID] = struct{}{}
	}
	if len(edges) > 0 {
		if err := tx.UpdateEdges(ctx, edges); err != nil {
			return nil, fmt.Errorf("break %s: %w", field.Name, err)
		}
	}
	delete(affected, field.ID)
	m.log.V(1).Info("dependencies broken", "field", field.Name, "edges", len(edges), "dependants", len(affected))
	return sortedKeys(affected), nil
}

// HealBrokenReferences переподключает сломанные рёбра, ждущие имя field:
// сначала прямые ссылки из той же таблицы, затем ссылки через связи,
// указывающие на таблицу field; внутри группы — по id ребра. Если
// переподключение замкнуло бы цикл, ребро остаётся сломанным: это не ошибка.
// Возвращает id зависимых полей, чьи рёбра восстановлены.
func (m *Maintainer) HealBrokenReferences(ctx context.Context, tx Tx, field *schema.Field, r schema.Resolver) ([]string, error) {
	broken, err := tx.BrokenEdges(ctx, field.Name)
	if err != nil {
		return nil, fmt.Errorf("heal %s: %w", field.Name, err)
	}
	var direct, routed []Edge
	for _, e := range broken {
		if e.DependantID == field.ID {
			continue
		}
		if e.ViaID == "" {
			dep, ok := r.FieldByID(e.DependantID)
			if ok && dep.TableID == field.TableID {
				direct = append(direct, e)
			}
			continue
		}
		via, ok := r.FieldByID(e.ViaID)
		if ok && via.IsRelation() && via.Relation.TargetTableID == field.TableID {
			routed = append(routed, e)
		}
	}
	byID := func(s []Edge) {
		sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
	}
	byID(direct)
	byID(routed)

	healed := map[string]struct{}{}
	for _, e := range append(direct, routed...) {
		cyc, err := WouldCycle(ctx, tx, e.DependantID, field.ID)
		if err != nil {
			return nil, fmt.Errorf("heal %s: %w", field.Name, err)
		}
		if cyc {
			m.log.V(1).Info("broken reference left unhealed: would create a cycle",
				"dependant", fieldName(r, e.DependantID), "dependency", field.Name)
			continue
		}
		dup, err := hasEdge(ctx, tx, e.DependantID, field.ID, e.ViaID)
		if err != nil {
			return nil, fmt.Errorf("heal %s: %w", field.Name, err)
		}
		if dup {
			// зависимость уже есть живым ребром: сломанное лишнее
			if err := tx.DeleteEdges(ctx, []string{e.ID}); err != nil {
				return nil, fmt.Errorf("heal %s: %w", field.Name, err)
			}
			healed[e.DependantID] = struct{}{}
			continue
		}
		e.DependencyID = field.ID
		e.BrokenName = ""
		if err := tx.UpdateEdges(ctx, []Edge{e}); err != nil {
			return nil, fmt.Errorf("heal %s: %w", field.Name, err)
		}
		healed[e.DependantID] = struct{}{}
	}
	if len(healed) > 0 {
		m.log.V(1).Info("broken references healed", "field", field.Name, "dependants", len(healed))
	}
	return sortedKeys(healed), nil
}

// hasEdge: есть ли у dependantID несломанное ребро к dependencyID через viaID.
func hasEdge(ctx context.Context, tx Tx, dependantID, dependencyID, viaID string) (bool, error) {
	edges, err := tx.EdgesOf(ctx, dependantID)
	if err != nil {
		return false, err
	}
	for _, e := range edges {
		if e.DependencyID == dependencyID && e.ViaID == viaID {
			return true, nil
		}
	}
	return false, nil
}

// DeleteDependenciesOf удаляет все рёбра самого поля (поле удаляется).
func (m *Maintainer) DeleteDependenciesOf(ctx context.Context, tx Tx, field *schema.Field) error {
	edges, err := tx.EdgesOf(ctx, field.ID)
	if err != nil {
		return fmt.Errorf("delete dependencies of %s: %w", field.Name, err)
	}
	if len(edges) == 0 {
		return nil
	}
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return tx.DeleteEdges(ctx, ids)
}

// Dependants — все поля, транзитивно зависящие от fieldID, в порядке
// зависимостей: поле идёт после всех своих зависимостей из этого набора.
func (m *Maintainer) Dependants(ctx context.Context, tx Tx, fieldID string) ([]string, error) {
	// собираем набор и рёбра внутри него
	deps := map[string][]string{} // dependant -> зависимости внутри набора
	set := map[string]struct{}{}
	queue := []string{fieldID}
	visited := map[string]struct{}{fieldID: {}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := tx.EdgesTo(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if e.DependantID == fieldID {
				continue
			}
			set[e.DependantID] = struct{}{}
			if cur != fieldID {
				deps[e.DependantID] = append(deps[e.DependantID], cur)
			}
			if _, ok := visited[e.DependantID]; !ok {
				visited[e.DependantID] = struct{}{}
				queue = append(queue, e.DependantID)
			}
		}
	}

	// Кан: сначала те, у кого не осталось зависимостей внутри набора
	indeg := map[string]int{}
	rev := map[string][]string{}
	for n := range set {
		seen := map[string]struct{}{}
		for _, d := range deps[n] {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			indeg[n]++
			rev[d] = append(rev[d], n)
		}
	}
	var ready []string
	for n := range set {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)
	out := make([]string, 0, len(set))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		next := rev[n]
		sort.Strings(next)
		for _, x := range next {
			indeg[x]--
			if indeg[x] == 0 {
				ready = append(ready, x)
			}
		}
		sort.Strings(ready)
	}
	if len(out) != len(set) {
		return nil, fmt.Errorf("dependants of %s: graph contains a cycle", fieldID)
	}
	return out, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
