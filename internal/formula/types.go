// Package formula — замкнутый набор типов значений формул: правила
// арифметики, сравнения, приведения к тексту и хуки компиляции для каждого типа.
package formula

import (
	"errors"
	"reflect"

	"sheetcore/internal/query"
)

// Tag — тег типа формулы. Набор тегов закрыт.
type Tag string

const (
	TagText           Tag = "text"
	TagNumber         Tag = "number"
	TagBoolean        Tag = "boolean"
	TagDate           Tag = "date"
	TagDuration       Tag = "duration"
	TagLink           Tag = "link"
	TagSingleSelect   Tag = "single_select"
	TagMultipleSelect Tag = "multiple_select"
	TagFile           Tag = "file"
	TagArray          Tag = "array"
	TagInvalid        Tag = "invalid"
)

// MaxDecimalPlaces — максимальная поддерживаемая точность; деление всегда даёт её.
const MaxDecimalPlaces = 10

// NumberDigits — общее число знаков numeric-колонки.
const NumberDigits = 50

// ErrUnknownFormulaType — сохранённый тег без обработчика (рассинхрон версий).
var ErrUnknownFormulaType = errors.New("unknown formula type")

// Type — общий контракт всех типов формул.
type Type interface {
	Tag() Tag
	Nullable() bool
	WithNullable(nullable bool) Type
	Equal(other Type) bool
	String() string

	// ComparableTypes — типы правого операнда для = и !=.
	ComparableTypes() []Tag
	// LimitComparableTypes — типы правого операнда для <, >, <=, >=.
	LimitComparableTypes() []Tag

	// CastToText — каноническое текстовое представление значения.
	CastToText(arg query.Fragment) query.Fragment
	// WrapAtFieldLevel / UnwrapAtFieldLevel — внешняя защита выражения,
	// сохраняемого как колонка поля, и её снятие.
	WrapAtFieldLevel(expr query.Fragment) query.Fragment
	UnwrapAtFieldLevel(expr query.Fragment) query.Fragment
	// LookupItem — что кладётся в "value" элемента при агрегации по связи.
	LookupItem(col query.Fragment) query.Fragment
	// ColumnType — нативный тип хранения в Postgres.
	ColumnType() string
}

// Adder: левый операнд поддерживает +.
type Adder interface {
	AddableTypes() []Tag
	Add(right Type) Type
	CompileAdd(left, right query.Fragment, rightType Type) query.Fragment
}

// Subtractor: левый операнд поддерживает -.
type Subtractor interface {
	SubtractableTypes() []Tag
	Subtract(right Type) Type
	CompileSubtract(left, right query.Fragment, rightType Type) query.Fragment
}

// Multiplier: левый операнд поддерживает *.
type Multiplier interface {
	MultipliableTypes() []Tag
	Multiply(right Type) Type
	CompileMultiply(left, right query.Fragment, rightType Type) query.Fragment
}

// Divider: левый операнд поддерживает /.
type Divider interface {
	DividableTypes() []Tag
	Divide(right Type) Type
	CompileDivide(left, right query.Fragment, rightType Type) query.Fragment
}

// Orderable — значения можно сортировать по выражению OrderBy.
type Orderable interface {
	OrderBy(col query.Fragment) query.Fragment
}

// Searchable — текст для полнотекстового поиска.
type Searchable interface {
	SearchText(col query.Fragment) query.Fragment
}

// Filterable — поддерживаемые типы фильтров представления.
type Filterable interface {
	FilterTypes() []string
}

// ValueFormatter — то же правило, что CastToText, но для уже сохранённого значения.
type ValueFormatter interface {
	FormatValue(v any) string
}

// Contains — есть ли тег в списке.
func Contains(tags []Tag, t Tag) bool {
	for _, x := range tags {
		if x == t {
			return true
		}
	}
	return false
}

// IsValid — тип не Invalid.
func IsValid(t Type) bool {
	return t != nil && t.Tag() != TagInvalid
}

// OrderableOf возвращает Orderable для t; Array делегирует элементу.
func OrderableOf(t Type) (Orderable, bool) {
	if a, ok := t.(Array); ok {
		el, ok := OrderableOf(a.Element)
		if !ok {
			return nil, false
		}
		return arrayOrder{elem: a.Element, order: el}, true
	}
	o, ok := t.(Orderable)
	return o, ok
}

// SearchableOf возвращает Searchable для t; Array делегирует элементу.
func SearchableOf(t Type) (Searchable, bool) {
	if a, ok := t.(Array); ok {
		if _, ok := SearchableOf(a.Element); !ok {
			return nil, false
		}
		return arraySearch{array: a}, true
	}
	s, ok := t.(Searchable)
	return s, ok
}

// FilterableOf возвращает Filterable для t; Array делегирует элементу.
func FilterableOf(t Type) (Filterable, bool) {
	if a, ok := t.(Array); ok {
		el, ok := FilterableOf(a.Element)
		if !ok {
			return nil, false
		}
		return arrayFilter{elem: el}, true
	}
	f, ok := t.(Filterable)
	return f, ok
}

// FormatValue форматирует сохранённое значение; nil и неформатируемые типы дают "".
func FormatValue(t Type, v any) string {
	if v == nil {
		return ""
	}
	if f, ok := t.(ValueFormatter); ok {
		return f.FormatValue(v)
	}
	return ""
}

func sameType(a, b Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Tag() == b.Tag() && reflect.DeepEqual(a, b)
}

func anyNullable(a, b Type) bool {
	return a.Nullable() || b.Nullable()
}

// emptyIfNull — coalesce(expr, '') для текстовых приведений.
func emptyIfNull(f query.Fragment) query.Fragment {
	return query.Coalesce(f, query.Text(""))
}
