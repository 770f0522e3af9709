// Package ast — нетипизированное дерево формулы в том виде, в каком его отдаёт
// внешний парсер. Узлы неизменяемы: все преобразования возвращают новое дерево.
package ast

import (
	"fmt"
	"strings"
)

// Node — узел дерева формулы.
type Node interface {
	node()
	String() string
}

// LiteralKind — вид литерала.
type LiteralKind string

const (
	LiteralText    LiteralKind = "text"
	LiteralNumber  LiteralKind = "number"
	LiteralBoolean LiteralKind = "boolean"
)

// Literal — константа. Value хранится в исходном текстовом виде.
type Literal struct {
	Kind  LiteralKind
	Value string
}

// Field — ссылка на поле той же таблицы: field('Name').
type Field struct {
	Name string
}

// Lookup — ссылка на поле связанной таблицы через поле-связь Through.
type Lookup struct {
	Through string
	Name    string
}

// Call — вызов функции.
type Call struct {
	Func string
	Args []Node
}

// Operator — бинарный оператор.
type Operator string

const (
	OpAdd      Operator = "+"
	OpSubtract Operator = "-"
	OpMultiply Operator = "*"
	OpDivide   Operator = "/"
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpLess     Operator = "<"
	OpGreater  Operator = ">"
	OpLessEq   Operator = "<="
	OpGreatEq  Operator = ">="
)

var operators = map[Operator]struct{}{
	OpAdd: {}, OpSubtract: {}, OpMultiply: {}, OpDivide: {},
	OpEqual: {}, OpNotEqual: {}, OpLess: {}, OpGreater: {}, OpLessEq: {}, OpGreatEq: {},
}

// IsComparison — оператор сравнения (результат boolean).
func (o Operator) IsComparison() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpGreater, OpLessEq, OpGreatEq:
		return true
	}
	return false
}

// IsOrdering — сравнение порядка (<, >, <=, >=).
func (o Operator) IsOrdering() bool {
	return o.IsComparison() && o != OpEqual && o != OpNotEqual
}

// Binary — бинарная операция.
type Binary struct {
	Op    Operator
	Left  Node
	Right Node
}

func (Literal) node() {}
func (Field) node()   {}
func (Lookup) node()  {}
func (Call) node()    {}
func (Binary) node()  {}

func (l Literal) String() string {
	if l.Kind == LiteralText {
		return "'" + strings.ReplaceAll(l.Value, "'", `\'`) + "'"
	}
	return l.Value
}

func (f Field) String() string { return fmt.Sprintf("field('%s')", f.Name) }

func (l Lookup) String() string { return fmt.Sprintf("lookup('%s', '%s')", l.Through, l.Name) }

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Func + "(" + strings.Join(args, ", ") + ")"
}

func (b Binary) String() string {
	return "(" + b.Left.String() + " " + string(b.Op) + " " + b.Right.String() + ")"
}

// Конструкторы для тестов и загрузчиков.

func Text(s string) Literal   { return Literal{Kind: LiteralText, Value: s} }
func Number(s string) Literal { return Literal{Kind: LiteralNumber, Value: s} }

func Bool(b bool) Literal {
	if b {
		return Literal{Kind: LiteralBoolean, Value: "true"}
	}
	return Literal{Kind: LiteralBoolean, Value: "false"}
}

func Ref(name string) Field { return Field{Name: name} }

func Op(op Operator, l, r Node) Binary { return Binary{Op: op, Left: l, Right: r} }

func Fn(name string, args ...Node) Call { return Call{Func: name, Args: args} }
