// Package checker проверяет типы нетипизированного дерева формулы.
//
// Обход снизу вверх: каждый узел получает ровно один тип из formula либо
// formula.Invalid. Invalid поднимается до корня, но дерево всегда строится
// целиком, чтобы поле с ошибкой оставалось читаемым.
package checker

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"sheetcore/internal/ast"
	"sheetcore/internal/formula"
	"sheetcore/internal/schema"
)

// Expr — типизированный узел.
type Expr struct {
	Node ast.Node
	Type formula.Type
	Args []*Expr

	// Ссылки: Field — поле, значение которого читается; Through — связь,
	// если чтение идёт через неё (lookup или ссылка на поле-связь).
	Field   *schema.Field
	Through *schema.Field

	Func *Function // вызов функции

	Err *TypeError // не nil, если Type — Invalid
}

// Valid — узел получил конкретный тип.
func (e *Expr) Valid() bool { return e != nil && e.Err == nil && formula.IsValid(e.Type) }

// TypeError — несовпадение типов операндов или аргументов.
type TypeError struct {
	Message string
	Hint    string
}

func (e *TypeError) Error() string {
	if e.Hint != "" {
		return e.Message + " (" + e.Hint + ")"
	}
	return e.Message
}

// Check типизирует дерево в контексте таблицы tableID. Возвращённое дерево
// не nil; ошибка — *TypeError, если корень Invalid.
func Check(tree ast.Node, tableID string, r schema.Resolver) (*Expr, error) {
	c := &checker{table: tableID, r: r}
	e := c.check(tree)
	if e.Err != nil {
		return e, e.Err
	}
	return e, nil
}

type checker struct {
	table string
	r     schema.Resolver
}

func invalid(n ast.Node, err *TypeError) *Expr {
	return &Expr{Node: n, Type: formula.Invalid{Error: err.Error()}, Err: err}
}

func errorf(format string, args ...any) *TypeError {
	return &TypeError{Message: fmt.Sprintf(format, args...)}
}

func (c *checker) check(n ast.Node) *Expr {
	switch x := n.(type) {
	case nil:
		return invalid(n, errorf("empty formula"))
	case ast.Literal:
		return c.literal(x)
	case ast.Field:
		return c.field(x)
	case ast.Lookup:
		return c.lookup(x)
	case ast.Call:
		return c.call(x)
	case ast.Binary:
		return c.binary(x)
	default:
		return invalid(n, errorf("unsupported node %T", n))
	}
}

func (c *checker) literal(l ast.Literal) *Expr {
	switch l.Kind {
	case ast.LiteralText:
		return &Expr{Node: l, Type: formula.Text{}}
	case ast.LiteralBoolean:
		return &Expr{Node: l, Type: formula.Boolean{}}
	case ast.LiteralNumber:
		if _, ok := new(big.Float).SetString(l.Value); !ok {
			return invalid(l, errorf("invalid number literal %q", l.Value))
		}
		places := 0
		if i := strings.IndexByte(l.Value, '.'); i >= 0 {
			places = len(l.Value) - i - 1
		}
		if places > formula.MaxDecimalPlaces {
			places = formula.MaxDecimalPlaces
		}
		return &Expr{Node: l, Type: formula.Number{DecimalPlaces: places}}
	}
	return invalid(l, errorf("unknown literal kind %q", l.Kind))
}

// unknownField — ошибка неизвестного поля с подсказкой ближайшего имени.
func (c *checker) unknownField(tableID, name string) *TypeError {
	err := errorf("field %q does not exist", name)
	var names []string
	for _, f := range c.r.FieldsOf(tableID) {
		names = append(names, f.Name)
	}
	if s := Suggest(name, names); s != "" {
		err.Hint = fmt.Sprintf("did you mean %q?", s)
	}
	return err
}

// valueType — тип значения поля, на которое ссылаются (без связей).
func valueType(f *schema.Field) (formula.Type, *TypeError) {
	switch {
	case f.Type == nil:
		return nil, errorf("field %q has no type", f.Name)
	case !formula.IsValid(f.Type):
		return nil, errorf("field %q references a field with an error", f.Name)
	}
	return f.Type, nil
}

func (c *checker) field(x ast.Field) *Expr {
	f, ok := c.r.FieldByName(c.table, x.Name)
	if !ok {
		return invalid(x, c.unknownField(c.table, x.Name))
	}
	if !f.IsRelation() {
		t, err := valueType(f)
		if err != nil {
			return invalid(x, err)
		}
		return &Expr{Node: x, Type: t, Field: f}
	}
	// значение связи — массив первичных полей связанных строк
	primary, ok := c.r.PrimaryField(f.Relation.TargetTableID)
	if !ok {
		return invalid(x, errorf("relation %q points to a table without fields", f.Name))
	}
	if primary.IsRelation() {
		return invalid(x, errorf("relation %q: primary field %q of the related table is a relation", f.Name, primary.Name))
	}
	t, err := valueType(primary)
	if err != nil {
		return invalid(x, err)
	}
	if t.Tag() == formula.TagArray {
		return invalid(x, errorf("relation %q: nested arrays are not supported", f.Name))
	}
	return &Expr{Node: x, Type: formula.Array{Element: t}, Field: primary, Through: f}
}

func (c *checker) lookup(x ast.Lookup) *Expr {
	through, ok := c.r.FieldByName(c.table, x.Through)
	if !ok {
		return invalid(x, c.unknownField(c.table, x.Through))
	}
	if !through.IsRelation() {
		return invalid(x, errorf("field %q is not a relation", x.Through))
	}
	target, ok := c.r.FieldByName(through.Relation.TargetTableID, x.Name)
	if !ok {
		return invalid(x, c.unknownField(through.Relation.TargetTableID, x.Name))
	}
	if target.IsRelation() {
		return invalid(x, errorf("lookup of relation %q through %q is not supported", x.Name, x.Through))
	}
	t, err := valueType(target)
	if err != nil {
		return invalid(x, err)
	}
	if t.Tag() == formula.TagArray {
		return invalid(x, errorf("lookup of %q through %q: nested arrays are not supported", x.Name, x.Through))
	}
	return &Expr{Node: x, Type: formula.Array{Element: t}, Field: target, Through: through}
}

func (c *checker) call(x ast.Call) *Expr {
	args := make([]*Expr, len(x.Args))
	for i, a := range x.Args {
		args[i] = c.check(a)
	}
	fn, ok := Lookup(x.Func)
	if !ok {
		err := errorf("unknown function %q", x.Func)
		if s := Suggest(x.Func, FunctionNames()); s != "" {
			err.Hint = fmt.Sprintf("did you mean %q?", s)
		}
		return &Expr{Node: x, Args: args, Type: formula.Invalid{Error: err.Error()}, Err: err}
	}
	e := &Expr{Node: x, Args: args, Func: fn}
	if err := fn.arity(len(args)); err != nil {
		e.Err = err
	}
	if e.Err == nil {
		e.Err = firstError(args)
	}
	if e.Err == nil {
		t, err := fn.typeOf(args)
		if err != nil {
			e.Err = err
		} else {
			e.Type = t
		}
	}
	if e.Err != nil {
		e.Type = formula.Invalid{Error: e.Err.Error()}
	}
	return e
}

func firstError(args []*Expr) *TypeError {
	for _, a := range args {
		if a.Err != nil {
			return a.Err
		}
	}
	return nil
}

func (c *checker) binary(x ast.Binary) *Expr {
	l, r := c.check(x.Left), c.check(x.Right)
	e := &Expr{Node: x, Args: []*Expr{l, r}}
	if err := firstError(e.Args); err != nil {
		e.Err = err
	} else if t, err := binaryType(x.Op, l.Type, r.Type); err != nil {
		e.Err = err
	} else {
		e.Type = t
	}
	if e.Err != nil {
		e.Type = formula.Invalid{Error: e.Err.Error()}
	}
	return e
}

// binaryType — тип результата оператора по таблицам возможностей левого операнда.
func binaryType(op ast.Operator, l, r formula.Type) (formula.Type, *TypeError) {
	if op.IsComparison() {
		allowed := l.ComparableTypes()
		if op.IsOrdering() {
			allowed = l.LimitComparableTypes()
		}
		if !formula.Contains(allowed, r.Tag()) {
			return nil, operatorError(op, l, r, allowed)
		}
		return formula.Boolean{}, nil
	}
	var allowed []formula.Tag
	var result func(formula.Type) formula.Type
	switch op {
	case ast.OpAdd:
		if a, ok := l.(formula.Adder); ok {
			allowed, result = a.AddableTypes(), a.Add
		}
	case ast.OpSubtract:
		if s, ok := l.(formula.Subtractor); ok {
			allowed, result = s.SubtractableTypes(), s.Subtract
		}
	case ast.OpMultiply:
		if m, ok := l.(formula.Multiplier); ok {
			allowed, result = m.MultipliableTypes(), m.Multiply
		}
	case ast.OpDivide:
		if d, ok := l.(formula.Divider); ok {
			allowed, result = d.DividableTypes(), d.Divide
		}
	default:
		return nil, errorf("unknown operator %q", op)
	}
	if result == nil || !formula.Contains(allowed, r.Tag()) {
		return nil, operatorError(op, l, r, allowed)
	}
	return result(r), nil
}

func operatorError(op ast.Operator, l, r formula.Type, allowed []formula.Tag) *TypeError {
	if len(allowed) == 0 {
		return errorf("operator %s is not supported for %s", op, l)
	}
	return &TypeError{
		Message: fmt.Sprintf("operator %s cannot be applied to %s and %s", op, l, r),
		Hint:    "right side must be one of " + joinTags(allowed),
	}
}

func joinTags(tags []formula.Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// Suggest — ближайшее по расстоянию Левенштейна имя из candidates или "".
// Регистр не учитывается; слишком далёкие имена не предлагаются.
func Suggest(name string, candidates []string) string {
	target := []rune(strings.ToLower(name))
	limit := len(target) / 3
	if limit < 2 {
		limit = 2
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	best, bestDist := "", limit+1
	for _, c := range sorted {
		d := levenshtein.DistanceForStrings(target, []rune(strings.ToLower(c)), levenshtein.DefaultOptions)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
