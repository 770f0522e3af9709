package dsl

import (
	"context"
	"fmt"

	"sheetcore/internal/engine"
	"sheetcore/internal/reference"
	"sheetcore/internal/schema"
)

// Report — что сделала синхронизация.
type Report struct {
	Created []string // Table.Field
	Updated []string
}

// Apply досоздаёт схему рабочей области в движке: недостающие таблицы и поля
// создаются, у существующих обновляются формулы и объявленные типы. Ничего
// не удаляется. Таблицы создаются первыми, затем обычные поля, связи и
// формулы в порядке объявления: ссылки вперёд переподключаются сами.
func Apply(ctx context.Context, eng *engine.Engine, ws *Workspace, catalogs map[string]reference.Catalog) (Report, error) {
	var rep Report
	tables := map[string]*schema.Table{}
	for _, t := range ws.Tables {
		tbl, ok := eng.TableByName(t.Name)
		if !ok {
			var err error
			if tbl, err = eng.CreateTable(ctx, t.Name); err != nil {
				return rep, fmt.Errorf("table %s: %w", t.Name, err)
			}
		}
		tables[t.Name] = tbl
	}

	pass := func(match func(Field) bool, build func(Field, *schema.Table) (*schema.Field, error)) error {
		for _, t := range ws.Tables {
			tbl := tables[t.Name]
			for _, f := range t.Fields {
				if !match(f) {
					continue
				}
				want, err := build(f, tbl)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
				}
				name := t.Name + "." + f.Name
				changed, err := syncField(ctx, eng, want)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				switch changed {
				case created:
					rep.Created = append(rep.Created, name)
				case updated:
					rep.Updated = append(rep.Updated, name)
				}
			}
		}
		return nil
	}

	if err := pass(func(f Field) bool { return f.Type != "" }, func(f Field, tbl *schema.Table) (*schema.Field, error) {
		t, err := ParseType(f.Type, catalogs)
		if err != nil {
			return nil, err
		}
		return &schema.Field{TableID: tbl.ID, Name: f.Name, Primary: f.Primary, Kind: schema.KindPlain, Type: t}, nil
	}); err != nil {
		return rep, err
	}
	if err := pass(func(f Field) bool { return f.Relation != "" }, func(f Field, tbl *schema.Table) (*schema.Field, error) {
		target, ok := tables[f.Relation]
		if !ok {
			if target, ok = eng.TableByName(f.Relation); !ok {
				return nil, fmt.Errorf("relation to unknown table %q", f.Relation)
			}
		}
		return &schema.Field{TableID: tbl.ID, Name: f.Name, Primary: f.Primary, Kind: schema.KindRelation,
			Relation: &schema.Relation{TargetTableID: target.ID}}, nil
	}); err != nil {
		return rep, err
	}
	if err := pass(func(f Field) bool { return f.Formula != nil }, func(f Field, tbl *schema.Table) (*schema.Field, error) {
		return &schema.Field{TableID: tbl.ID, Name: f.Name, Primary: f.Primary, Kind: schema.KindFormula, Expression: f.Formula.Root}, nil
	}); err != nil {
		return rep, err
	}
	return rep, nil
}

type change int

const (
	unchanged change = iota
	created
	updated
)

func syncField(ctx context.Context, eng *engine.Engine, want *schema.Field) (change, error) {
	have, ok := eng.Catalog().FieldByName(want.TableID, want.Name)
	if !ok {
		_, err := eng.CreateField(ctx, want)
		return created, err
	}
	if have.Kind != want.Kind {
		return unchanged, fmt.Errorf("field exists as %s, declared as %s", have.Kind, want.Kind)
	}
	switch want.Kind {
	case schema.KindFormula:
		if sameTree(have, want) {
			return unchanged, nil
		}
		_, err := eng.UpdateFormula(ctx, have.ID, want.Expression)
		return updated, err
	case schema.KindPlain:
		t, err := eng.PlainType(want.Type)
		if err != nil {
			return unchanged, err
		}
		if have.Type.Equal(t) {
			return unchanged, nil
		}
		_, err = eng.ChangeFieldType(ctx, have.ID, t)
		return updated, err
	case schema.KindRelation:
		if have.Relation.TargetTableID != want.Relation.TargetTableID {
			return unchanged, fmt.Errorf("relation target cannot change")
		}
	}
	return unchanged, nil
}

func sameTree(a, b *schema.Field) bool {
	ar, _ := a.Record()
	br, _ := b.Record()
	return string(ar.Expression) == string(br.Expression)
}
