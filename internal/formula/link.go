package formula

import (
	"fmt"
	"strings"

	"sheetcore/internal/query"
)

// Link — пара url/label (jsonb {"url": ..., "label": ...}).
type Link struct {
	IsNullable bool `json:"nullable,omitempty"`
}

func (Link) Tag() Tag                   { return TagLink }
func (t Link) Nullable() bool           { return t.IsNullable }
func (t Link) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t Link) Equal(o Type) bool        { return sameType(t, o) }
func (Link) String() string             { return "link" }
func (Link) ColumnType() string         { return "jsonb" }

func (Link) ComparableTypes() []Tag      { return []Tag{TagText} }
func (Link) LimitComparableTypes() []Tag { return nil }

// CastToText: label, а если он пуст — url.
func (Link) CastToText(arg query.Fragment) query.Fragment {
	label := query.JSONPath{Arg: arg, Path: []string{"label"}, AsText: true}
	url := query.JSONPath{Arg: arg, Path: []string{"url"}, AsText: true}
	return emptyIfNull(query.Coalesce(query.Call("nullif", label, query.Text("")), url))
}

func (Link) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (Link) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }

// LookupItem: в агрегат уходит пара url/label.
func (Link) LookupItem(col query.Fragment) query.Fragment {
	return query.Call("jsonb_build_object",
		query.Text("url"), query.JSONPath{Arg: col, Path: []string{"url"}},
		query.Text("label"), query.JSONPath{Arg: col, Path: []string{"label"}},
	)
}

func (t Link) SearchText(col query.Fragment) query.Fragment { return t.CastToText(col) }

func (Link) FormatValue(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	if label, _ := m["label"].(string); label != "" {
		return label
	}
	url, _ := m["url"].(string)
	return url
}

// File — список файлов (jsonb-массив {name, visible_name, ...}).
type File struct {
	IsNullable bool `json:"nullable,omitempty"`
}

func (File) Tag() Tag                   { return TagFile }
func (t File) Nullable() bool           { return t.IsNullable }
func (t File) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t File) Equal(o Type) bool        { return sameType(t, o) }
func (File) String() string             { return "file" }
func (File) ColumnType() string         { return "jsonb" }

func (File) ComparableTypes() []Tag      { return nil }
func (File) LimitComparableTypes() []Tag { return nil }

func (File) CastToText(arg query.Fragment) query.Fragment {
	return joinItems(arg, []string{"visible_name"})
}

func (File) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (File) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }
func (File) LookupItem(col query.Fragment) query.Fragment       { return col }

func (File) FilterTypes() []string { return []string{"filename_contains", "empty", "not_empty"} }

func (File) FormatValue(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			if n, _ := m["visible_name"].(string); n != "" {
				names = append(names, n)
			}
		}
	}
	return strings.Join(names, joinSeparator)
}
