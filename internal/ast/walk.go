package ast

import "sort"

// Walk обходит дерево в глубину (родитель раньше детей). fn=false — не спускаться.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch x := n.(type) {
	case Call:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	}
}

// Reference — ссылка формулы на поле: Name в своей таблице либо,
// если Via не пуст, Name в таблице, куда ведёт связь Via.
type Reference struct {
	Name string
	Via  string
}

// References — уникальные ссылки дерева в стабильном порядке.
func References(n Node) []Reference {
	seen := map[Reference]struct{}{}
	var out []Reference
	add := func(r Reference) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	Walk(n, func(x Node) bool {
		switch v := x.(type) {
		case Field:
			add(Reference{Name: v.Name})
		case Lookup:
			add(Reference{Name: v.Through})
			add(Reference{Name: v.Name, Via: v.Through})
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Via != out[j].Via {
			return out[i].Via < out[j].Via
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Transform перестраивает дерево снизу вверх; fn получает узел с уже
// преобразованными детьми.
func Transform(n Node, fn func(Node) Node) Node {
	switch x := n.(type) {
	case Call:
		args := make([]Node, len(x.Args))
		for i, a := range x.Args {
			args[i] = Transform(a, fn)
		}
		return fn(Call{Func: x.Func, Args: args})
	case Binary:
		return fn(Binary{Op: x.Op, Left: Transform(x.Left, fn), Right: Transform(x.Right, fn)})
	case nil:
		return nil
	default:
		return fn(n)
	}
}

// RenameField переименовывает поле своей таблицы: field('old') и связь lookup('old', ...).
func RenameField(n Node, oldName, newName string) Node {
	return Transform(n, func(x Node) Node {
		switch v := x.(type) {
		case Field:
			if v.Name == oldName {
				return Field{Name: newName}
			}
		case Lookup:
			if v.Through == oldName {
				return Lookup{Through: newName, Name: v.Name}
			}
		}
		return x
	})
}

// RenameLookupTarget переименовывает поле связанной таблицы в lookup(through, old).
func RenameLookupTarget(n Node, through, oldName, newName string) Node {
	return Transform(n, func(x Node) Node {
		if v, ok := x.(Lookup); ok && v.Through == through && v.Name == oldName {
			return Lookup{Through: through, Name: newName}
		}
		return x
	})
}
