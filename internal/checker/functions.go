package checker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"sheetcore/internal/ast"
	"sheetcore/internal/formula"
	"sheetcore/internal/query"
)

// Function — реализация функции формул: правило типа результата и эмиссия фрагмента.
type Function struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 — без ограничения

	typeOf func(args []*Expr) (formula.Type, *TypeError)
	emit   func(op Operands) query.Fragment
}

// Operands — скомпилированные аргументы вызова и их типы.
type Operands struct {
	Args   []query.Fragment
	Types  []formula.Type
	Result formula.Type
}

// Compile строит фрагмент вызова.
func (f *Function) Compile(op Operands) query.Fragment { return f.emit(op) }

func (f *Function) arity(n int) *TypeError {
	switch {
	case n < f.MinArgs && f.MinArgs == f.MaxArgs:
		return errorf("%s expects %d argument(s), got %d", f.Name, f.MinArgs, n)
	case n < f.MinArgs:
		return errorf("%s expects at least %d argument(s), got %d", f.Name, f.MinArgs, n)
	case f.MaxArgs >= 0 && n > f.MaxArgs:
		return errorf("%s expects at most %d argument(s), got %d", f.Name, f.MaxArgs, n)
	}
	return nil
}

// Lookup — функция по имени (регистр не важен).
func Lookup(name string) (*Function, bool) {
	f, ok := functions[strings.ToLower(name)]
	return f, ok
}

// FunctionNames — имена всех функций по алфавиту.
func FunctionNames() []string {
	out := make([]string, 0, len(functions))
	for n := range functions {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// functions — закрытая статическая таблица функций.
var functions = map[string]*Function{}

func register(fns ...*Function) {
	for _, f := range fns {
		functions[f.Name] = f
	}
}

func init() {
	register(textFunctions()...)
	register(logicFunctions()...)
	register(numberFunctions()...)
	register(dateFunctions()...)
	register(arrayFunctions()...)
	register(linkFunctions()...)
}

// expect проверяет тег аргумента i.
func expect(fn string, args []*Expr, i int, tags ...formula.Tag) *TypeError {
	if formula.Contains(tags, args[i].Type.Tag()) {
		return nil
	}
	names := make([]string, len(tags))
	for k, t := range tags {
		names[k] = string(t)
	}
	return errorf("argument %d of %s must be %s, got %s", i+1, fn, strings.Join(names, " or "), args[i].Type)
}

func expectAll(fn string, args []*Expr, tags ...formula.Tag) *TypeError {
	for i := range args {
		if err := expect(fn, args, i, tags...); err != nil {
			return err
		}
	}
	return nil
}

// arrayOf — элемент массива, если аргумент i — массив с элементом одного из tags.
func arrayOf(fn string, args []*Expr, i int, tags ...formula.Tag) (formula.Type, *TypeError) {
	a, ok := args[i].Type.(formula.Array)
	if !ok || a.Element == nil {
		return nil, errorf("argument %d of %s must be a lookup or relation, got %s", i+1, fn, args[i].Type)
	}
	if len(tags) > 0 && !formula.Contains(tags, a.Element.Tag()) {
		return nil, errorf("%s does not support %s", fn, a)
	}
	return a.Element, nil
}

func fixed(t formula.Type) func([]*Expr) (formula.Type, *TypeError) {
	return func([]*Expr) (formula.Type, *TypeError) { return t, nil }
}

func typed(fn string, t formula.Type, tags ...formula.Tag) func([]*Expr) (formula.Type, *TypeError) {
	return func(args []*Expr) (formula.Type, *TypeError) {
		if err := expectAll(fn, args, tags...); err != nil {
			return nil, err
		}
		return t, nil
	}
}

func call(name string) func(Operands) query.Fragment {
	return func(op Operands) query.Fragment { return query.Call(name, op.Args...) }
}

// ---- текст ----

func textFunctions() []*Function {
	return []*Function{
		{
			Name: "totext", MinArgs: 1, MaxArgs: 1,
			typeOf: fixed(formula.Text{}),
			emit: func(op Operands) query.Fragment {
				return op.Types[0].CastToText(op.Args[0])
			},
		},
		{
			Name: "concat", MinArgs: 1, MaxArgs: -1,
			typeOf: fixed(formula.Text{}),
			emit: func(op Operands) query.Fragment {
				parts := make([]query.Fragment, len(op.Args))
				for i, a := range op.Args {
					parts[i] = op.Types[i].CastToText(a)
				}
				return query.Call("concat", parts...)
			},
		},
		{Name: "upper", MinArgs: 1, MaxArgs: 1, typeOf: typed("upper", formula.Text{}, formula.TagText), emit: call("upper")},
		{Name: "lower", MinArgs: 1, MaxArgs: 1, typeOf: typed("lower", formula.Text{}, formula.TagText), emit: call("lower")},
		{Name: "trim", MinArgs: 1, MaxArgs: 1, typeOf: typed("trim", formula.Text{}, formula.TagText), emit: call("trim")},
		{
			Name: "length", MinArgs: 1, MaxArgs: 1,
			typeOf: typed("length", formula.Number{}, formula.TagText),
			emit: func(op Operands) query.Fragment {
				return query.Coalesce(query.Call("char_length", op.Args[0]), zero)
			},
		},
		{
			Name: "tonumber", MinArgs: 1, MaxArgs: 1,
			typeOf: typed("tonumber", formula.Number{DecimalPlaces: formula.MaxDecimalPlaces, IsNullable: true}, formula.TagText),
			emit: func(op Operands) query.Fragment {
				return query.Cast{Arg: op.Args[0], SQLType: "numeric"}
			},
		},
	}
}

var zero = query.Const{Value: "0", SQLType: "numeric"}

// ---- логика ----

func logicFunctions() []*Function {
	chain := func(sqlOp string) func(Operands) query.Fragment {
		return func(op Operands) query.Fragment {
			out := op.Args[0]
			for _, a := range op.Args[1:] {
				out = query.Binary{Op: sqlOp, Left: out, Right: a}
			}
			return out
		}
	}
	return []*Function{
		{
			Name: "if", MinArgs: 3, MaxArgs: 3,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if err := expect("if", args, 0, formula.TagBoolean); err != nil {
					return nil, err
				}
				return unify(args[1].Type, args[2].Type)
			},
			emit: func(op Operands) query.Fragment {
				return query.Case{When: op.Args[0], Then: op.Args[1], Else: op.Args[2]}
			},
		},
		{Name: "and", MinArgs: 2, MaxArgs: -1, typeOf: typed("and", formula.Boolean{}, formula.TagBoolean), emit: chain("AND")},
		{Name: "or", MinArgs: 2, MaxArgs: -1, typeOf: typed("or", formula.Boolean{}, formula.TagBoolean), emit: chain("OR")},
		{Name: "not", MinArgs: 1, MaxArgs: 1, typeOf: typed("not", formula.Boolean{}, formula.TagBoolean), emit: call("NOT")},
		{
			Name: "isblank", MinArgs: 1, MaxArgs: 1,
			typeOf: fixed(formula.Boolean{}),
			emit: func(op Operands) query.Fragment {
				x := op.Args[0]
				switch op.Types[0].Tag() {
				case formula.TagText:
					return query.Binary{Op: "=", Left: query.Coalesce(x, query.Text("")), Right: query.Text("")}
				case formula.TagArray, formula.TagMultipleSelect, formula.TagFile:
					return query.Binary{Op: "=", Left: query.Coalesce(query.Call("jsonb_array_length", x), zero), Right: zero}
				}
				return query.Binary{Op: "IS", Left: x, Right: query.Raw{SQL: "NULL"}}
			},
		},
	}
}

// unify — общий тип веток if. Числа сводятся к большей точности.
func unify(a, b formula.Type) (formula.Type, *TypeError) {
	if a.Tag() != b.Tag() {
		return nil, errorf("arguments 2 and 3 of if must have the same type, got %s and %s", a, b)
	}
	nullable := a.Nullable() || b.Nullable()
	if na, ok := a.(formula.Number); ok {
		nb := b.(formula.Number)
		if nb.DecimalPlaces > na.DecimalPlaces {
			na.DecimalPlaces = nb.DecimalPlaces
		}
		na.IsNullable = nullable
		return na, nil
	}
	if aa, ok := a.(formula.Array); ok {
		ab := b.(formula.Array)
		if aa.Element.Tag() != ab.Element.Tag() {
			return nil, errorf("arguments 2 and 3 of if must have the same type, got %s and %s", a, b)
		}
	}
	return a.WithNullable(nullable), nil
}

// ---- числа ----

func numberFunctions() []*Function {
	return []*Function{
		{
			Name: "round", MinArgs: 2, MaxArgs: 2,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if err := expectAll("round", args, formula.TagNumber); err != nil {
					return nil, err
				}
				lit, ok := args[1].Node.(ast.Literal)
				if !ok {
					return nil, errorf("argument 2 of round must be a number literal")
				}
				places, err := strconv.Atoi(lit.Value)
				if err != nil || places < 0 || places > formula.MaxDecimalPlaces {
					return nil, errorf("argument 2 of round must be an integer between 0 and %d", formula.MaxDecimalPlaces)
				}
				return formula.Number{DecimalPlaces: places, IsNullable: args[0].Type.Nullable()}, nil
			},
			emit: func(op Operands) query.Fragment {
				return query.Call("round", op.Args[0], query.Cast{Arg: op.Args[1], SQLType: "integer"})
			},
		},
		{
			Name: "abs", MinArgs: 1, MaxArgs: 1,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if err := expect("abs", args, 0, formula.TagNumber); err != nil {
					return nil, err
				}
				return args[0].Type, nil
			},
			emit: call("abs"),
		},
	}
}

// ---- даты ----

func dateFunctions() []*Function {
	return []*Function{
		{
			Name: "todate", MinArgs: 2, MaxArgs: 2,
			typeOf: typed("todate", formula.Date{Format: formula.DateFormatISO, IsNullable: true}, formula.TagText),
			emit:   call("to_date"),
		},
		{
			Name: "datetime_format", MinArgs: 2, MaxArgs: 2,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if err := expect("datetime_format", args, 0, formula.TagDate); err != nil {
					return nil, err
				}
				if err := expect("datetime_format", args, 1, formula.TagText); err != nil {
					return nil, err
				}
				return formula.Text{}, nil
			},
			emit: func(op Operands) query.Fragment {
				return emptyText(query.Call("to_char", op.Args[0], op.Args[1]))
			},
		},
		{
			Name: "date_interval", MinArgs: 1, MaxArgs: 1,
			typeOf: typed("date_interval", formula.Duration{Format: formula.DurationFormatHM, IsNullable: true}, formula.TagText),
			emit: func(op Operands) query.Fragment {
				return query.Cast{Arg: op.Args[0], SQLType: "interval"}
			},
		},
		{
			Name: "today", MinArgs: 0, MaxArgs: 0,
			typeOf: fixed(formula.Date{Format: formula.DateFormatISO}),
			emit:   func(Operands) query.Fragment { return query.Raw{SQL: "current_date"} },
		},
		{
			Name: "now", MinArgs: 0, MaxArgs: 0,
			typeOf: fixed(formula.Date{Format: formula.DateFormatISO, IncludeTime: true}),
			emit:   func(Operands) query.Fragment { return query.Raw{SQL: "now()"} },
		},
	}
}

func emptyText(f query.Fragment) query.Fragment { return query.Coalesce(f, query.Text("")) }

// ---- агрегаты по связям ----

func reduce(fn string, op Operands, def query.Fragment) query.Fragment {
	a := op.Types[0].(formula.Array)
	var r query.Fragment = query.Reduce{
		Func:    fn,
		Array:   op.Args[0],
		Path:    []string{"value"},
		SQLType: a.Element.ColumnType(),
	}
	if def != nil {
		r = query.Coalesce(r, def)
	}
	return r
}

func arrayFunctions() []*Function {
	extremum := func(name string) *Function {
		return &Function{
			Name: name, MinArgs: 1, MaxArgs: 1,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				el, err := arrayOf(name, args, 0, formula.TagNumber, formula.TagDate, formula.TagDuration, formula.TagText)
				if err != nil {
					return nil, err
				}
				return el.WithNullable(true), nil
			},
			emit: func(op Operands) query.Fragment { return reduce(name, op, nil) },
		}
	}
	return []*Function{
		{
			Name: "sum", MinArgs: 1, MaxArgs: 1,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				el, err := arrayOf("sum", args, 0, formula.TagNumber, formula.TagDuration)
				if err != nil {
					return nil, err
				}
				return el.WithNullable(false), nil
			},
			emit: func(op Operands) query.Fragment {
				def := query.Fragment(zero)
				if op.Result.Tag() == formula.TagDuration {
					def = query.Const{Value: "0", SQLType: "interval"}
				}
				return reduce("sum", op, def)
			},
		},
		{
			Name: "avg", MinArgs: 1, MaxArgs: 1,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if _, err := arrayOf("avg", args, 0, formula.TagNumber); err != nil {
					return nil, err
				}
				return formula.Number{DecimalPlaces: formula.MaxDecimalPlaces, IsNullable: true}, nil
			},
			emit: func(op Operands) query.Fragment { return reduce("avg", op, nil) },
		},
		extremum("min"),
		extremum("max"),
		{
			Name: "count", MinArgs: 1, MaxArgs: 1,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if err := expect("count", args, 0, formula.TagArray, formula.TagMultipleSelect, formula.TagFile); err != nil {
					return nil, err
				}
				return formula.Number{}, nil
			},
			emit: func(op Operands) query.Fragment {
				return query.Coalesce(query.Call("jsonb_array_length", op.Args[0]), zero)
			},
		},
		{
			Name: "join", MinArgs: 2, MaxArgs: 2,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if _, err := arrayOf("join", args, 0); err != nil {
					return nil, err
				}
				if err := expect("join", args, 1, formula.TagText); err != nil {
					return nil, err
				}
				return formula.Text{}, nil
			},
			emit: func(op Operands) query.Fragment {
				a := op.Types[0].(formula.Array)
				return emptyText(query.Reduce{
					Func:  "string_agg",
					Array: op.Args[0],
					Item:  a.ItemText(),
					Extra: []query.Fragment{op.Args[1]},
				})
			},
		},
		{
			Name: "has_option", MinArgs: 2, MaxArgs: 2,
			typeOf: func(args []*Expr) (formula.Type, *TypeError) {
				if err := expect("has_option", args, 0, formula.TagSingleSelect, formula.TagMultipleSelect); err != nil {
					return nil, err
				}
				if err := expect("has_option", args, 1, formula.TagText); err != nil {
					return nil, err
				}
				return formula.Boolean{}, nil
			},
			emit: func(op Operands) query.Fragment {
				if op.Types[0].Tag() == formula.TagSingleSelect {
					value := query.JSONPath{Arg: op.Args[0], Path: []string{"value"}, AsText: true}
					return query.Coalesce(query.Binary{Op: "=", Left: value, Right: op.Args[1]}, query.Raw{SQL: "false"})
				}
				return query.Call(HasOptionFunc, op.Args[0], op.Args[1])
			},
		},
	}
}

// HasOptionFunc — SQL-функция проверки опции в множественном выборе.
const HasOptionFunc = "sheetcore_has_option"

// ---- ссылки ----

func linkFunctions() []*Function {
	build := func(url, label query.Fragment) query.Fragment {
		return query.Call("jsonb_build_object", query.Text("url"), url, query.Text("label"), label)
	}
	return []*Function{
		{
			Name: "link", MinArgs: 1, MaxArgs: 1,
			typeOf: typed("link", formula.Link{}, formula.TagText),
			emit:   func(op Operands) query.Fragment { return build(op.Args[0], query.Text("")) },
		},
		{
			Name: "button", MinArgs: 2, MaxArgs: 2,
			typeOf: typed("button", formula.Link{}, formula.TagText),
			emit:   func(op Operands) query.Fragment { return build(op.Args[0], op.Args[1]) },
		},
	}
}

// String — сигнатура для подсказок CLI.
func (f *Function) String() string {
	switch {
	case f.MaxArgs < 0:
		return fmt.Sprintf("%s(%d+ args)", f.Name, f.MinArgs)
	case f.MinArgs == f.MaxArgs:
		return fmt.Sprintf("%s(%d args)", f.Name, f.MinArgs)
	}
	return fmt.Sprintf("%s(%d..%d args)", f.Name, f.MinArgs, f.MaxArgs)
}
