package formula

import (
	"encoding/json"
	"fmt"
	"strings"

	"sheetcore/internal/query"
)

// Array — массив значений типа Element. Хранится как jsonb-массив
// элементов {"id": <id связанной строки>, "value": <значение>}.
// Пустой массив — всегда [], никогда NULL.
type Array struct {
	Element    Type
	IsNullable bool
}

func (Array) Tag() Tag                   { return TagArray }
func (t Array) Nullable() bool           { return t.IsNullable }
func (t Array) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (Array) ColumnType() string         { return "jsonb" }

func (t Array) Equal(o Type) bool {
	a, ok := o.(Array)
	if !ok || a.IsNullable != t.IsNullable {
		return false
	}
	if t.Element == nil || a.Element == nil {
		return t.Element == a.Element
	}
	return t.Element.Equal(a.Element)
}

func (t Array) String() string {
	if t.Element == nil {
		return "array"
	}
	return "array<" + t.Element.String() + ">"
}

func (Array) ComparableTypes() []Tag      { return nil }
func (Array) LimitComparableTypes() []Tag { return nil }

// ItemText — текст текущего элемента массива (query.Element) по правилу
// CastToText типа элемента.
func (t Array) ItemText() query.Fragment {
	value := query.JSONPath{Arg: query.Element{}, Path: []string{valueKey}}
	switch t.Element.(type) {
	case nil, Text, SingleSelect:
		// LookupItem опции уже отдал её value
		value.AsText = true
		return value
	}
	if t.Element.ColumnType() == "jsonb" {
		return t.Element.CastToText(value)
	}
	value.AsText = true
	return t.Element.CastToText(query.Cast{Arg: value, SQLType: t.Element.ColumnType()})
}

// CastToText — тексты элементов через запятую, пустой массив даёт "".
func (t Array) CastToText(arg query.Fragment) query.Fragment {
	return emptyIfNull(query.Reduce{
		Func:  "string_agg",
		Array: arg,
		Item:  t.ItemText(),
		Extra: []query.Fragment{query.Text(joinSeparator)},
	})
}

func (Array) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (Array) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }
func (Array) LookupItem(col query.Fragment) query.Fragment       { return col }

// EmptyValue — сериализованное пустое значение массива.
func (Array) EmptyValue() query.Fragment {
	return query.Const{Value: "[]", SQLType: "jsonb"}
}

func (t Array) FormatValue(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		val := it
		if m, ok := it.(map[string]any); ok {
			if inner, has := m[valueKey]; has {
				val = inner
			}
		}
		parts = append(parts, FormatValue(t.Element, val))
	}
	return strings.Join(parts, joinSeparator)
}

type arrayJSON struct {
	ElementType Tag             `json:"element_type"`
	Element     json.RawMessage `json:"element,omitempty"`
	Nullable    bool            `json:"nullable,omitempty"`
}

func (t Array) MarshalJSON() ([]byte, error) {
	if t.Element == nil {
		return nil, fmt.Errorf("array without element type")
	}
	raw, err := json.Marshal(t.Element)
	if err != nil {
		return nil, err
	}
	return json.Marshal(arrayJSON{ElementType: t.Element.Tag(), Element: raw, Nullable: t.IsNullable})
}

func (t *Array) UnmarshalJSON(b []byte) error {
	var aj arrayJSON
	if err := json.Unmarshal(b, &aj); err != nil {
		return err
	}
	el, err := Decode(aj.ElementType, aj.Element)
	if err != nil {
		return fmt.Errorf("array element: %w", err)
	}
	t.Element = el
	t.IsNullable = aj.Nullable
	return nil
}

// Делегирующие реализации возможностей массива.

type arrayOrder struct {
	elem  Type
	order Orderable
}

func (a arrayOrder) OrderBy(col query.Fragment) query.Fragment {
	switch a.elem.ColumnType() {
	case "jsonb", "text":
		return query.Call("lower", Array{Element: a.elem}.CastToText(col))
	}
	first := query.JSONPath{Arg: col, Path: []string{"0", valueKey}, AsText: true}
	return a.order.OrderBy(query.Cast{Arg: first, SQLType: a.elem.ColumnType()})
}

type arraySearch struct {
	array Array
}

func (a arraySearch) SearchText(col query.Fragment) query.Fragment {
	return a.array.CastToText(col)
}

type arrayFilter struct {
	elem Filterable
}

var arrayFilterNames = map[string]string{
	"equal":        "has_value_equal",
	"not_equal":    "has_not_value_equal",
	"contains":     "has_value_contains",
	"not_contains": "has_not_value_contains",
	"higher_than":  "has_value_higher",
	"lower_than":   "has_value_lower",
	"empty":        "has_empty_value",
	"not_empty":    "has_not_empty_value",
}

func (a arrayFilter) FilterTypes() []string {
	inner := a.elem.FilterTypes()
	out := make([]string, 0, len(inner))
	for _, f := range inner {
		if name, ok := arrayFilterNames[f]; ok {
			out = append(out, name)
			continue
		}
		out = append(out, "has_value_"+f)
	}
	return out
}
