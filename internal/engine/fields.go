package engine

import (
	"context"
	"errors"
	"fmt"

	"sheetcore/internal/ast"
	"sheetcore/internal/checker"
	"sheetcore/internal/formula"
	"sheetcore/internal/graph"
	"sheetcore/internal/schema"
	"sheetcore/internal/store"
)

// CreateTable добавляет таблицу; пустой ID генерируется.
func (e *Engine) CreateTable(ctx context.Context, name string) (*schema.Table, error) {
	var out *schema.Table
	err := e.mutate(ctx, func(ctx context.Context, tx store.Tx, cat *schema.Catalog) error {
		t, err := cat.AddTable(&schema.Table{Name: name})
		if err != nil {
			return err
		}
		out = t
		return tx.SaveTable(ctx, *t)
	})
	return out, err
}

// PlainType проверяет объявленный тип обычного поля и дополняет его
// настройками по умолчанию.
func (e *Engine) PlainType(t formula.Type) (formula.Type, error) {
	if !formula.IsValid(t) {
		return nil, fmt.Errorf("%w: missing", ErrInvalidType)
	}
	switch x := t.(type) {
	case formula.Array:
		return nil, fmt.Errorf("%w: arrays are derived from relations", ErrInvalidType)
	case formula.Number:
		if x.DecimalPlaces < 0 || x.DecimalPlaces > e.maxDecimalPlaces {
			return nil, fmt.Errorf("%w: decimal places must be within 0..%d", ErrInvalidType, e.maxDecimalPlaces)
		}
	case formula.Date:
		if x.Timezone == "" && e.defaultTimezone != "" {
			x.Timezone = e.defaultTimezone
			return x, nil
		}
	}
	return t, nil
}

// CreateField добавляет поле. Формула типизируется, её рёбра строятся
// (цикл отклоняет создание целиком); затем сломанные ссылки, ждущие это имя,
// переподключаются и зависимые формулы перетипизируются.
func (e *Engine) CreateField(ctx context.Context, f *schema.Field) (*schema.Field, error) {
	var out *schema.Field
	err := e.mutate(ctx, func(ctx context.Context, tx store.Tx, cat *schema.Catalog) error {
		in := f.Clone()
		in.Error = ""
		switch in.Kind {
		case schema.KindPlain:
			t, err := e.PlainType(in.Type)
			if err != nil {
				return fmt.Errorf("field %q: %w", in.Name, err)
			}
			in.Type, in.Expression, in.Relation = t, nil, nil
		case schema.KindRelation:
			if in.Relation == nil {
				return fmt.Errorf("field %q: %w: missing", in.Name, ErrInvalidTarget)
			}
			if _, ok := cat.Table(in.Relation.TargetTableID); !ok {
				return fmt.Errorf("field %q: %w: %s", in.Name, ErrInvalidTarget, in.Relation.TargetTableID)
			}
			in.Type, in.Expression = nil, nil
		case schema.KindFormula:
			if in.Expression == nil {
				return fmt.Errorf("field %q: empty formula", in.Name)
			}
			in.Type, in.Relation = formula.Invalid{Error: "not checked"}, nil
		default:
			return fmt.Errorf("field %q: unknown kind %q", in.Name, in.Kind)
		}

		created, err := cat.AddField(in)
		if err != nil {
			return err
		}
		// рёбра ссылаются на сохранённое поле
		if err := save(ctx, tx, created); err != nil {
			return err
		}
		if created.IsFormula() {
			if _, err := e.graph.RebuildDependencies(ctx, tx, created, cat); err != nil {
				return err
			}
			e.typeFormula(created, cat)
			if err := cat.UpdateField(created); err != nil {
				return err
			}
			if err := save(ctx, tx, created); err != nil {
				return err
			}
		}
		if _, err := e.graph.HealBrokenReferences(ctx, tx, created, cat); err != nil {
			return err
		}
		if err := e.refreshDependants(ctx, tx, cat, created.ID); err != nil {
			return err
		}
		out = created
		e.log.V(1).Info("field created", "table", created.TableID, "field", created.Name, "kind", created.Kind)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.Field(out.ID)
}

// typeFormula проверяет выражение и записывает в поле тип или ошибку.
func (e *Engine) typeFormula(f *schema.Field, r schema.Resolver) {
	expr, err := checker.Check(f.Expression, f.TableID, r)
	if err != nil {
		f.Type = expr.Type
		f.Error = err.Error()
		return
	}
	f.Type = expr.Type
	f.Error = ""
}

// UpdateFormula заменяет выражение формулы. Рёбра перестраиваются целиком;
// цикл отклоняет изменение, схема и граф остаются прежними.
func (e *Engine) UpdateFormula(ctx context.Context, fieldID string, expr ast.Node) (*schema.Field, error) {
	if expr == nil {
		return nil, fmt.Errorf("empty formula")
	}
	err := e.mutate(ctx, func(ctx context.Context, tx store.Tx, cat *schema.Catalog) error {
		if err := tx.LockFields(ctx, fieldID); err != nil {
			return err
		}
		f, err := fieldByID(cat, fieldID)
		if err != nil {
			return err
		}
		if !f.IsFormula() {
			return fmt.Errorf("%s: %w", f.Name, ErrNotFormula)
		}
		f.Expression = expr
		if err := cat.UpdateField(f); err != nil {
			return err
		}
		if _, err := e.graph.RebuildDependencies(ctx, tx, f, cat); err != nil {
			return err
		}
		e.typeFormula(f, cat)
		if err := cat.UpdateField(f); err != nil {
			return err
		}
		if err := save(ctx, tx, f); err != nil {
			return err
		}
		return e.refreshDependants(ctx, tx, cat, f.ID)
	})
	if err != nil {
		return nil, err
	}
	return e.Field(fieldID)
}

// ChangeFieldType меняет объявленный тип обычного поля; зависимые формулы
// перетипизируются.
func (e *Engine) ChangeFieldType(ctx context.Context, fieldID string, t formula.Type) (*schema.Field, error) {
	err := e.mutate(ctx, func(ctx context.Context, tx store.Tx, cat *schema.Catalog) error {
		if err := tx.LockFields(ctx, fieldID); err != nil {
			return err
		}
		f, err := fieldByID(cat, fieldID)
		if err != nil {
			return err
		}
		if f.Kind != schema.KindPlain {
			return fmt.Errorf("%s: %w", f.Name, ErrNotPlain)
		}
		if f.Type, err = e.PlainType(t); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		if err := cat.UpdateField(f); err != nil {
			return err
		}
		if err := save(ctx, tx, f); err != nil {
			return err
		}
		return e.refreshDependants(ctx, tx, cat, f.ID)
	})
	if err != nil {
		return nil, err
	}
	return e.Field(fieldID)
}

// RenameField переименовывает поле и переписывает ссылки на него в
// выражениях зависимых формул. Сломанные ссылки на новое имя
// переподключаются в той же транзакции.
func (e *Engine) RenameField(ctx context.Context, fieldID, name string) (*schema.Field, error) {
	err := e.mutate(ctx, func(ctx context.Context, tx store.Tx, cat *schema.Catalog) error {
		if err := tx.LockFields(ctx, fieldID); err != nil {
			return err
		}
		f, err := fieldByID(cat, fieldID)
		if err != nil {
			return err
		}
		oldName := f.Name
		if oldName == name {
			return nil
		}
		f.Name = name
		if err := cat.UpdateField(f); err != nil {
			return err
		}
		if err := save(ctx, tx, f); err != nil {
			return err
		}

		incoming, err := tx.EdgesTo(ctx, f.ID)
		if err != nil {
			return err
		}
		for _, edge := range incoming {
			if err := tx.LockFields(ctx, edge.DependantID); err != nil {
				return err
			}
			dep, err := fieldByID(cat, edge.DependantID)
			if err != nil {
				return err
			}
			if edge.ViaID == "" {
				dep.Expression = ast.RenameField(dep.Expression, oldName, name)
			} else {
				via, err := fieldByID(cat, edge.ViaID)
				if err != nil {
					return err
				}
				dep.Expression = ast.RenameLookupTarget(dep.Expression, via.Name, oldName, name)
			}
			if err := cat.UpdateField(dep); err != nil {
				return err
			}
			if err := save(ctx, tx, dep); err != nil {
				return err
			}
		}

		if _, err := e.graph.HealBrokenReferences(ctx, tx, f, cat); err != nil {
			return err
		}
		e.log.V(1).Info("field renamed", "from", oldName, "to", name, "dependants", len(incoming))
		return e.refreshDependants(ctx, tx, cat, f.ID)
	})
	if err != nil {
		return nil, err
	}
	return e.Field(fieldID)
}

// DeleteField удаляет поле. Ссылки на него становятся сломанными с его
// именем, рёбра через него (если это связь) удаляются, зависимые формулы
// перетипизируются и получают ошибку.
func (e *Engine) DeleteField(ctx context.Context, fieldID string) error {
	return e.mutate(ctx, func(ctx context.Context, tx store.Tx, cat *schema.Catalog) error {
		if err := tx.LockFields(ctx, fieldID); err != nil {
			return err
		}
		f, err := fieldByID(cat, fieldID)
		if err != nil {
			return err
		}
		affected, err := e.graph.Dependants(ctx, tx, f.ID)
		if err != nil {
			return err
		}
		if f.IsRelation() {
			routed, err := tx.EdgesVia(ctx, f.ID)
			if err != nil {
				return err
			}
			affected = appendMissing(affected, dependantIDs(routed))
		}
		if _, err := e.graph.BreakDependenciesFor(ctx, tx, f); err != nil {
			return err
		}
		if err := e.graph.DeleteDependenciesOf(ctx, tx, f); err != nil {
			return err
		}
		if err := tx.DeleteField(ctx, f.ID); err != nil {
			return err
		}
		if err := cat.RemoveField(f.ID); err != nil {
			return err
		}
		e.log.V(1).Info("field deleted", "field", f.Name, "dependants", len(affected))
		return e.refresh(ctx, tx, cat, affected)
	})
}

// refreshDependants перетипизирует транзитивно зависимые от id формулы.
func (e *Engine) refreshDependants(ctx context.Context, tx store.Tx, cat *schema.Catalog, id string) error {
	ids, err := e.graph.Dependants(ctx, tx, id)
	if err != nil {
		return err
	}
	return e.refresh(ctx, tx, cat, ids)
}

// refresh перестраивает рёбра и тип каждой формулы из ids по порядку.
// Цикл здесь не отклоняет операцию: он мог появиться только после
// переподключения, и формула получает ошибку вместо новых рёбер.
func (e *Engine) refresh(ctx context.Context, tx store.Tx, cat *schema.Catalog, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.LockFields(ctx, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		f, ok := cat.FieldByID(id)
		if !ok || !f.IsFormula() {
			continue
		}
		before := f.Clone()
		_, err := e.graph.RebuildDependencies(ctx, tx, f, cat)
		var cyc *graph.CircularDependencyError
		switch {
		case errors.As(err, &cyc):
			e.log.V(1).Info("dependant left with a cycle error", "field", f.Name, "error", err.Error())
			f.Type = formula.Invalid{Error: err.Error()}
			f.Error = err.Error()
		case err != nil:
			return err
		default:
			e.typeFormula(f, cat)
		}
		if f.Type.Equal(before.Type) && f.Error == before.Error {
			continue
		}
		if err := cat.UpdateField(f); err != nil {
			return err
		}
		if err := save(ctx, tx, f); err != nil {
			return err
		}
	}
	return nil
}

func dependantIDs(edges []graph.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.DependantID)
	}
	return out
}

func appendMissing(dst []string, ids []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			dst = append(dst, id)
		}
	}
	return dst
}
