package schema

import (
	"sheetcore/internal/ast"
)

// Descriptor — объявленная зависимость поля: имя целевого поля и,
// если зависимость идёт через связь, имя поля-связи (Via).
type Descriptor struct {
	Name string
	Via  string
}

// Dependencies — текущие объявленные зависимости поля.
//
// Формула зависит от каждого поля, на которое ссылается. Прямая ссылка на
// поле-связь дополнительно зависит от первичного поля связанной таблицы через
// эту связь (значение связи показывается первичным полем). lookup(через, поле) зависит
// от самой связи и от поля через неё. У обычных полей и связей зависимостей нет.
func (f *Field) Dependencies(r Resolver) []Descriptor {
	if !f.IsFormula() || f.Expression == nil {
		return nil
	}
	seen := map[Descriptor]struct{}{}
	var out []Descriptor
	add := func(d Descriptor) {
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	direct := map[string]bool{}
	ast.Walk(f.Expression, func(n ast.Node) bool {
		if x, ok := n.(ast.Field); ok {
			direct[x.Name] = true
		}
		return true
	})
	for _, ref := range ast.References(f.Expression) {
		add(Descriptor{Name: ref.Name, Via: ref.Via})
		if ref.Via != "" || !direct[ref.Name] {
			continue
		}
		rel, ok := r.FieldByName(f.TableID, ref.Name)
		if !ok || !rel.IsRelation() {
			continue
		}
		if primary, ok := r.PrimaryField(rel.Relation.TargetTableID); ok {
			add(Descriptor{Name: primary.Name, Via: rel.Name})
		}
	}
	return out
}
