// Package compiler превращает типизированное дерево формулы во фрагмент запроса.
package compiler

import (
	"errors"
	"fmt"

	"sheetcore/internal/ast"
	"sheetcore/internal/checker"
	"sheetcore/internal/formula"
	"sheetcore/internal/query"
	"sheetcore/internal/schema"
)

// ErrInvalidExpression — попытка скомпилировать дерево с ошибкой типов.
var ErrInvalidExpression = errors.New("cannot compile invalid expression")

// FragmentSource отдаёт уже скомпилированные выражения формул для подстановки.
type FragmentSource interface {
	FieldFragment(fieldID string) (query.Fragment, bool)
}

// Compiler компилирует выражения. Без состояния, безопасен для параллельного использования.
type Compiler struct {
	inline FragmentSource
}

type Option func(*Compiler)

// WithInlining: ссылки на формулы той же таблицы подставляются выражением
// вместо чтения колонки; внешняя защита поля при этом снимается.
func WithInlining(src FragmentSource) Option {
	return func(c *Compiler) { c.inline = src }
}

func New(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compile — фрагмент выражения без внешней защиты поля.
func (c *Compiler) Compile(e *checker.Expr) (query.Fragment, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	if !e.Valid() {
		if e.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, e.Err)
		}
		return nil, ErrInvalidExpression
	}
	switch n := e.Node.(type) {
	case ast.Literal:
		return literal(n), nil
	case ast.Field, ast.Lookup:
		return c.reference(e), nil
	case ast.Call:
		return c.call(e)
	case ast.Binary:
		return c.binary(e, n.Op)
	}
	return nil, fmt.Errorf("compile: unsupported node %T", e.Node)
}

// CompileField — выражение поля-формулы с защитой своего типа.
func (c *Compiler) CompileField(e *checker.Expr) (query.Fragment, error) {
	f, err := c.Compile(e)
	if err != nil {
		return nil, err
	}
	return e.Type.WrapAtFieldLevel(f), nil
}

func literal(l ast.Literal) query.Fragment {
	switch l.Kind {
	case ast.LiteralNumber:
		return query.Const{Value: l.Value, SQLType: "numeric"}
	case ast.LiteralBoolean:
		return query.Const{Value: l.Value == "true", SQLType: "boolean"}
	}
	return query.Text(l.Value)
}

func (c *Compiler) reference(e *checker.Expr) query.Fragment {
	if e.Through == nil {
		if c.inline != nil && e.Field.IsFormula() {
			if f, ok := c.inline.FieldFragment(e.Field.ID); ok {
				return e.Field.Type.UnwrapAtFieldLevel(f)
			}
		}
		return query.Column{Name: e.Field.Column()}
	}
	// через связь: массив {id, value} связанных строк, пустой — []
	arr := e.Type.(formula.Array)
	item := query.Call("jsonb_build_object",
		query.Text("id"), query.Column{Name: "id"},
		query.Text("value"), arr.Element.LookupItem(query.Column{Name: e.Field.Column()}),
	)
	return query.Aggregate{
		Func:    "jsonb_agg",
		Through: e.Through.JunctionTable(),
		Target:  schema.TableName(e.Through.Relation.TargetTableID),
		Item:    item,
		Default: arr.EmptyValue(),
	}
}

func (c *Compiler) args(e *checker.Expr) ([]query.Fragment, []formula.Type, error) {
	frags := make([]query.Fragment, len(e.Args))
	types := make([]formula.Type, len(e.Args))
	for i, a := range e.Args {
		f, err := c.Compile(a)
		if err != nil {
			return nil, nil, err
		}
		frags[i], types[i] = f, a.Type
	}
	return frags, types, nil
}

func (c *Compiler) call(e *checker.Expr) (query.Fragment, error) {
	frags, types, err := c.args(e)
	if err != nil {
		return nil, err
	}
	return e.Func.Compile(checker.Operands{Args: frags, Types: types, Result: e.Type}), nil
}

var sqlOperators = map[ast.Operator]string{
	ast.OpEqual:    "=",
	ast.OpNotEqual: "<>",
	ast.OpLess:     "<",
	ast.OpGreater:  ">",
	ast.OpLessEq:   "<=",
	ast.OpGreatEq:  ">=",
}

func (c *Compiler) binary(e *checker.Expr, op ast.Operator) (query.Fragment, error) {
	frags, types, err := c.args(e)
	if err != nil {
		return nil, err
	}
	l, r := frags[0], frags[1]
	lt, rt := types[0], types[1]

	if op.IsComparison() {
		// разные типы или jsonb сравниваются по тексту
		if lt.Tag() != rt.Tag() || lt.ColumnType() == "jsonb" {
			l, r = lt.CastToText(l), rt.CastToText(r)
		}
		return query.Binary{Op: sqlOperators[op], Left: l, Right: r}, nil
	}

	switch op {
	case ast.OpAdd:
		if a, ok := lt.(formula.Adder); ok {
			return a.CompileAdd(l, r, rt), nil
		}
	case ast.OpSubtract:
		if s, ok := lt.(formula.Subtractor); ok {
			return s.CompileSubtract(l, r, rt), nil
		}
	case ast.OpMultiply:
		if m, ok := lt.(formula.Multiplier); ok {
			return m.CompileMultiply(l, r, rt), nil
		}
	case ast.OpDivide:
		if d, ok := lt.(formula.Divider); ok {
			return d.CompileDivide(l, r, rt), nil
		}
	}
	return nil, fmt.Errorf("compile: operator %s not supported for %s", op, lt)
}
