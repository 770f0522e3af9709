package formula

import (
	"sheetcore/internal/query"
)

type Boolean struct {
	IsNullable bool `json:"nullable,omitempty"`
}

func (Boolean) Tag() Tag                   { return TagBoolean }
func (t Boolean) Nullable() bool           { return t.IsNullable }
func (t Boolean) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t Boolean) Equal(o Type) bool        { return sameType(t, o) }
func (Boolean) String() string             { return "boolean" }
func (Boolean) ColumnType() string         { return "boolean" }

func (Boolean) ComparableTypes() []Tag      { return []Tag{TagBoolean, TagText} }
func (Boolean) LimitComparableTypes() []Tag { return nil }

func (Boolean) CastToText(arg query.Fragment) query.Fragment {
	return query.Cast{Arg: arg, SQLType: "text"}
}

func (Boolean) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (Boolean) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }
func (Boolean) LookupItem(col query.Fragment) query.Fragment       { return col }

func (Boolean) OrderBy(col query.Fragment) query.Fragment { return col }

func (Boolean) FilterTypes() []string { return []string{"boolean"} }

func (Boolean) FormatValue(v any) string {
	if b, ok := v.(bool); ok && b {
		return "true"
	}
	return "false"
}
