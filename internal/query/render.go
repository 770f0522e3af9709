package query

import (
	"fmt"
	"strings"
)

// RowAlias — псевдоним строки, для которой вычисляется формула.
const RowAlias = "row"

// Render печатает фрагмент как SQL для Postgres. Константы уходят в аргументы
// ($1, $2 ...). Вывод детерминирован: одинаковый фрагмент даёт одинаковый SQL.
func Render(f Fragment) (string, []any) {
	r := &renderer{scope: RowAlias}
	var sb strings.Builder
	r.write(&sb, f)
	return sb.String(), r.args
}

type renderer struct {
	args  []any
	scope string
	depth int
	elems []string // псевдонимы элементов открытых Reduce
}

func quote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func literal(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func (r *renderer) write(sb *strings.Builder, f Fragment) {
	switch x := f.(type) {
	case nil:
		sb.WriteString("null")
	case Column:
		t := x.Table
		if t == "" {
			t = r.scope
		}
		sb.WriteString(quote(t) + "." + quote(x.Name))
	case Const:
		if x.Value == nil {
			fmt.Fprintf(sb, "null::%s", x.SQLType)
			return
		}
		r.args = append(r.args, x.Value)
		fmt.Fprintf(sb, "$%d::%s", len(r.args), x.SQLType)
	case Func:
		sb.WriteString(x.Name + "(")
		for i, a := range x.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			r.write(sb, a)
		}
		sb.WriteString(")")
	case Cast:
		sb.WriteString("(")
		r.write(sb, x.Arg)
		sb.WriteString(")::" + x.SQLType)
	case JSONPath:
		sb.WriteString("(")
		r.write(sb, x.Arg)
		sb.WriteString(")")
		for i, p := range x.Path {
			op := "->"
			if x.AsText && i == len(x.Path)-1 {
				op = "->>"
			}
			sb.WriteString(op + literal(p))
		}
	case Binary:
		sb.WriteString("(")
		r.write(sb, x.Left)
		sb.WriteString(" " + x.Op + " ")
		r.write(sb, x.Right)
		sb.WriteString(")")
	case Case:
		sb.WriteString("CASE WHEN ")
		r.write(sb, x.When)
		sb.WriteString(" THEN ")
		r.write(sb, x.Then)
		sb.WriteString(" ELSE ")
		r.write(sb, x.Else)
		sb.WriteString(" END")
	case Aggregate:
		r.aggregate(sb, x)
	case Reduce:
		r.reduce(sb, x)
	case Element:
		if len(r.elems) == 0 {
			sb.WriteString("null")
			return
		}
		sb.WriteString(quote(r.elems[len(r.elems)-1]) + ".value")
	case Raw:
		sb.WriteString(x.SQL)
	default:
		panic(fmt.Sprintf("query: unknown fragment %T", f))
	}
}

func (r *renderer) aggregate(sb *strings.Builder, a Aggregate) {
	r.depth++
	join := fmt.Sprintf("j%d", r.depth)
	rel := fmt.Sprintf("r%d", r.depth)
	outer := r.scope

	sb.WriteString("(SELECT ")
	if a.Default != nil {
		sb.WriteString("coalesce(")
	}
	r.scope = rel
	sb.WriteString(a.Func + "(")
	r.write(sb, a.Item)
	fmt.Fprintf(sb, " ORDER BY %s.%s)", quote(rel), quote("id"))
	r.scope = outer
	if a.Default != nil {
		sb.WriteString(", ")
		r.write(sb, a.Default)
		sb.WriteString(")")
	}
	fmt.Fprintf(sb, " FROM %s AS %s JOIN %s AS %s ON %s.%s = %s.%s WHERE %s.%s = %s.%s)",
		quote(a.Through), quote(join), quote(a.Target), quote(rel),
		quote(rel), quote("id"), quote(join), quote("target_id"),
		quote(join), quote("source_id"), quote(outer), quote("id"))
	r.depth--
}

func (r *renderer) reduce(sb *strings.Builder, x Reduce) {
	// массив вычисляется в области внешнего элемента
	var arr strings.Builder
	r.write(&arr, x.Array)

	r.depth++
	el := fmt.Sprintf("e%d", r.depth)
	r.elems = append(r.elems, el)

	sb.WriteString("(SELECT " + x.Func + "(")
	if x.Item != nil {
		r.write(sb, x.Item)
	} else {
		item := quote(el) + ".value"
		if len(x.Path) == 0 {
			item = item + " #>> '{}'"
		}
		for i, p := range x.Path {
			op := "->"
			if i == len(x.Path)-1 {
				op = "->>"
			}
			item += op + literal(p)
		}
		if x.SQLType != "" && x.SQLType != "text" {
			item = "(" + item + ")::" + x.SQLType
		}
		sb.WriteString(item)
	}
	for _, e := range x.Extra {
		sb.WriteString(", ")
		r.write(sb, e)
	}
	sb.WriteString(") FROM jsonb_array_elements(" + arr.String() + ") AS " + quote(el) + ")")

	r.elems = r.elems[:len(r.elems)-1]
	r.depth--
}
