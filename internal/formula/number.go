package formula

import (
	"encoding/json"
	"fmt"
	"strconv"

	"sheetcore/internal/query"
)

// Number — десятичное число с символической точностью DecimalPlaces.
type Number struct {
	DecimalPlaces int  `json:"decimal_places"`
	IsNullable    bool `json:"nullable,omitempty"`
}

const errorToNaN = "error_to_nan"

func (Number) Tag() Tag                   { return TagNumber }
func (t Number) Nullable() bool           { return t.IsNullable }
func (t Number) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t Number) Equal(o Type) bool        { return sameType(t, o) }
func (t Number) String() string           { return fmt.Sprintf("number(%d)", t.DecimalPlaces) }

func (t Number) ColumnType() string {
	return fmt.Sprintf("numeric(%d,%d)", NumberDigits, t.DecimalPlaces)
}

func (Number) ComparableTypes() []Tag      { return []Tag{TagNumber, TagText} }
func (Number) LimitComparableTypes() []Tag { return []Tag{TagNumber} }

func (Number) AddableTypes() []Tag      { return []Tag{TagNumber} }
func (Number) SubtractableTypes() []Tag { return []Tag{TagNumber} }
func (Number) MultipliableTypes() []Tag { return []Tag{TagNumber, TagDuration} }
func (Number) DividableTypes() []Tag    { return []Tag{TagNumber} }

func (t Number) CastToText(arg query.Fragment) query.Fragment {
	return query.Cast{Arg: arg, SQLType: "text"}
}

// WrapAtFieldLevel: ошибка вычисления превращается в NaN, а не портит колонку.
func (Number) WrapAtFieldLevel(e query.Fragment) query.Fragment {
	return query.Call(errorToNaN, e)
}

func (Number) UnwrapAtFieldLevel(e query.Fragment) query.Fragment {
	if fn, ok := query.IsFunc(e, errorToNaN); ok && len(fn.Args) == 1 {
		return fn.Args[0]
	}
	return e
}

func (Number) LookupItem(col query.Fragment) query.Fragment { return col }

// places результата +, -, * — максимум из операндов.
func (t Number) maxPlaces(right Type) int {
	if r, ok := right.(Number); ok && r.DecimalPlaces > t.DecimalPlaces {
		return r.DecimalPlaces
	}
	return t.DecimalPlaces
}

func (t Number) Add(right Type) Type {
	return Number{DecimalPlaces: t.maxPlaces(right), IsNullable: anyNullable(t, right)}
}

func (Number) CompileAdd(l, r query.Fragment, _ Type) query.Fragment {
	return query.Binary{Op: "+", Left: l, Right: r}
}

func (t Number) Subtract(right Type) Type {
	return Number{DecimalPlaces: t.maxPlaces(right), IsNullable: anyNullable(t, right)}
}

func (Number) CompileSubtract(l, r query.Fragment, _ Type) query.Fragment {
	return query.Binary{Op: "-", Left: l, Right: r}
}

// Multiply: number * duration даёт duration правого операнда.
func (t Number) Multiply(right Type) Type {
	if d, ok := right.(Duration); ok {
		return Duration{Format: d.Format, IsNullable: anyNullable(t, right)}
	}
	return Number{DecimalPlaces: t.maxPlaces(right), IsNullable: anyNullable(t, right)}
}

func (Number) CompileMultiply(l, r query.Fragment, rt Type) query.Fragment {
	if rt.Tag() == TagDuration {
		return query.Binary{Op: "*", Left: query.Cast{Arg: l, SQLType: "double precision"}, Right: r}
	}
	return query.Binary{Op: "*", Left: l, Right: r}
}

func (t Number) Divide(right Type) Type {
	return Number{DecimalPlaces: MaxDecimalPlaces, IsNullable: anyNullable(t, right)}
}

// CompileDivide: деление на ноль даёт NULL.
func (Number) CompileDivide(l, r query.Fragment, _ Type) query.Fragment {
	return query.Binary{Op: "/", Left: l, Right: query.Call("nullif", r, query.Const{Value: "0", SQLType: "numeric"})}
}

func (Number) OrderBy(col query.Fragment) query.Fragment { return col }

func (t Number) SearchText(col query.Fragment) query.Fragment {
	return emptyIfNull(t.CastToText(col))
}

func (Number) FilterTypes() []string {
	return []string{"equal", "not_equal", "higher_than", "lower_than", "empty", "not_empty"}
}

func (t Number) FormatValue(v any) string {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return n.String()
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return n
		}
		f = p
	default:
		return fmt.Sprintf("%v", v)
	}
	return strconv.FormatFloat(f, 'f', t.DecimalPlaces, 64)
}
