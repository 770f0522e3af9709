package formula

import (
	"fmt"

	"sheetcore/internal/query"
)

// Text — строка.
type Text struct {
	IsNullable bool `json:"nullable,omitempty"`
}

func (Text) Tag() Tag                    { return TagText }
func (t Text) Nullable() bool            { return t.IsNullable }
func (t Text) WithNullable(n bool) Type  { t.IsNullable = n; return t }
func (t Text) Equal(o Type) bool         { return sameType(t, o) }
func (Text) String() string              { return "text" }
func (Text) ColumnType() string          { return "text" }
func (Text) LimitComparableTypes() []Tag { return []Tag{TagText} }
func (Text) AddableTypes() []Tag         { return []Tag{TagText} }

func (Text) SearchText(c query.Fragment) query.Fragment { return emptyIfNull(c) }

// ComparableTypes: текст сравнивается на равенство с любым скалярным типом,
// противоположная сторона приводится к тексту.
func (Text) ComparableTypes() []Tag {
	return []Tag{TagText, TagNumber, TagBoolean, TagDate, TagDuration, TagSingleSelect, TagLink}
}

func (Text) CastToText(arg query.Fragment) query.Fragment       { return arg }
func (Text) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (Text) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }
func (Text) LookupItem(col query.Fragment) query.Fragment       { return col }

func (t Text) Add(right Type) Type {
	return Text{IsNullable: anyNullable(t, right)}
}

// CompileAdd: + над текстом — конкатенация, NULL считается пустой строкой.
func (Text) CompileAdd(left, right query.Fragment, _ Type) query.Fragment {
	return query.Call("concat", left, right)
}

func (Text) OrderBy(col query.Fragment) query.Fragment {
	return query.Call("lower", emptyIfNull(col))
}

func (Text) FilterTypes() []string {
	return []string{"equal", "not_equal", "contains", "not_contains", "empty", "not_empty"}
}

func (Text) FormatValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
