package formula

import (
	"fmt"
	"strings"

	"sheetcore/internal/query"
)

// SelectOption — вариант выбора. Значение хранится в jsonb как {id, value, color}.
type SelectOption struct {
	ID    int    `json:"id" yaml:"id"`
	Value string `json:"value" yaml:"value"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

const (
	joinSeparator = ", "
	valueKey      = "value"
)

// SingleSelect — одиночный выбор.
type SingleSelect struct {
	Options    []SelectOption `json:"options,omitempty"`
	IsNullable bool           `json:"nullable,omitempty"`
}

func (SingleSelect) Tag() Tag                   { return TagSingleSelect }
func (t SingleSelect) Nullable() bool           { return t.IsNullable }
func (t SingleSelect) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t SingleSelect) Equal(o Type) bool        { return sameType(t, o) }
func (SingleSelect) String() string             { return "single_select" }
func (SingleSelect) ColumnType() string         { return "jsonb" }

func (SingleSelect) ComparableTypes() []Tag      { return []Tag{TagSingleSelect, TagText} }
func (SingleSelect) LimitComparableTypes() []Tag { return nil }

func (SingleSelect) CastToText(arg query.Fragment) query.Fragment {
	return emptyIfNull(query.JSONPath{Arg: arg, Path: []string{valueKey}, AsText: true})
}

func (SingleSelect) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (SingleSelect) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }

// LookupItem: из опции в агрегат попадает её "value".
func (SingleSelect) LookupItem(col query.Fragment) query.Fragment {
	return query.JSONPath{Arg: col, Path: []string{valueKey}}
}

func (t SingleSelect) OrderBy(col query.Fragment) query.Fragment {
	return query.Call("lower", t.CastToText(col))
}

func (t SingleSelect) SearchText(col query.Fragment) query.Fragment { return t.CastToText(col) }

func (SingleSelect) FilterTypes() []string {
	return []string{"single_select_equal", "single_select_not_equal", "contains", "empty", "not_empty"}
}

// FormatValue принимает опцию целиком (map) или уже извлечённое значение.
func (SingleSelect) FormatValue(v any) string {
	return optionValue(v)
}

// MultipleSelect — множественный выбор, jsonb-массив опций.
type MultipleSelect struct {
	Options    []SelectOption `json:"options,omitempty"`
	IsNullable bool           `json:"nullable,omitempty"`
}

func (MultipleSelect) Tag() Tag                   { return TagMultipleSelect }
func (t MultipleSelect) Nullable() bool           { return t.IsNullable }
func (t MultipleSelect) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t MultipleSelect) Equal(o Type) bool        { return sameType(t, o) }
func (MultipleSelect) String() string             { return "multiple_select" }
func (MultipleSelect) ColumnType() string         { return "jsonb" }

func (MultipleSelect) ComparableTypes() []Tag      { return nil }
func (MultipleSelect) LimitComparableTypes() []Tag { return nil }

// CastToText — подписи опций через запятую, пустой выбор даёт "".
func (MultipleSelect) CastToText(arg query.Fragment) query.Fragment {
	return joinItems(arg, []string{valueKey})
}

func (MultipleSelect) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (MultipleSelect) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }
func (MultipleSelect) LookupItem(col query.Fragment) query.Fragment       { return col }

func (t MultipleSelect) SearchText(col query.Fragment) query.Fragment { return t.CastToText(col) }

func (MultipleSelect) FilterTypes() []string {
	return []string{"multiple_select_has", "multiple_select_has_not", "contains", "empty", "not_empty"}
}

func (MultipleSelect) FormatValue(v any) string {
	items, ok := v.([]any)
	if !ok {
		return optionValue(v)
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, optionValue(it))
	}
	return strings.Join(parts, joinSeparator)
}

func optionValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any:
		return optionValue(x[valueKey])
	case SelectOption:
		return x.Value
	default:
		return fmt.Sprintf("%v", v)
	}
}

// joinItems — string_agg элементов jsonb-массива по path, NULL превращается в "".
func joinItems(arr query.Fragment, path []string) query.Fragment {
	return emptyIfNull(query.Reduce{
		Func:    "string_agg",
		Array:   arr,
		Path:    path,
		SQLType: "text",
		Extra:   []query.Fragment{query.Text(joinSeparator)},
	})
}
