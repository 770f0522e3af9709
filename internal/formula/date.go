package formula

import (
	"fmt"
	"strings"
	"time"

	"sheetcore/internal/query"
)

// Форматы даты как в настройках поля.
const (
	DateFormatISO = "ISO" // 2024-01-31
	DateFormatUS  = "US"  // 01/31/2024
	DateFormatEU  = "EU"  // 31/01/2024
)

const (
	errorToNull = "error_to_null"
	timestampTZ = "timestamp with time zone"
)

// Date — дата или дата-время с форматом и часовым поясом отображения.
type Date struct {
	Format      string `json:"format"`
	IncludeTime bool   `json:"include_time,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	IsNullable  bool   `json:"nullable,omitempty"`
}

func (Date) Tag() Tag                   { return TagDate }
func (t Date) Nullable() bool           { return t.IsNullable }
func (t Date) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t Date) Equal(o Type) bool        { return sameType(t, o) }

func (t Date) String() string {
	s := "date(" + t.format()
	if t.IncludeTime {
		s += " time"
	}
	if t.Timezone != "" {
		s += " " + t.Timezone
	}
	return s + ")"
}

func (t Date) ColumnType() string {
	if t.IncludeTime {
		return timestampTZ
	}
	return "date"
}

func (t Date) format() string {
	if t.Format == "" {
		return DateFormatISO
	}
	return t.Format
}

func (t Date) timezone() string {
	if t.Timezone == "" {
		return "UTC"
	}
	return t.Timezone
}

// sqlPattern — шаблон to_char для формата.
func (t Date) sqlPattern() string {
	p := "YYYY-MM-DD"
	switch t.format() {
	case DateFormatUS:
		p = "MM/DD/YYYY"
	case DateFormatEU:
		p = "DD/MM/YYYY"
	}
	if t.IncludeTime {
		p += " HH24:MI"
	}
	return p
}

// goLayout — тот же шаблон для time.Format.
func (t Date) goLayout() string {
	l := "2006-01-02"
	switch t.format() {
	case DateFormatUS:
		l = "01/02/2006"
	case DateFormatEU:
		l = "02/01/2006"
	}
	if t.IncludeTime {
		l += " 15:04"
	}
	return l
}

func (Date) ComparableTypes() []Tag      { return []Tag{TagDate, TagText} }
func (Date) LimitComparableTypes() []Tag { return []Tag{TagDate} }
func (Date) AddableTypes() []Tag         { return []Tag{TagDuration} }
func (Date) SubtractableTypes() []Tag    { return []Tag{TagDate, TagDuration} }

// CastToText форматирует дату в часовом поясе поля.
func (t Date) CastToText(arg query.Fragment) query.Fragment {
	local := query.Call("timezone", query.Text(t.timezone()), query.Cast{Arg: arg, SQLType: timestampTZ})
	return query.Call("to_char", local, query.Text(t.sqlPattern()))
}

// WrapAtFieldLevel: дата вне допустимого диапазона становится NULL.
func (Date) WrapAtFieldLevel(e query.Fragment) query.Fragment {
	return query.Call(errorToNull, e)
}

func (Date) UnwrapAtFieldLevel(e query.Fragment) query.Fragment {
	if fn, ok := query.IsFunc(e, errorToNull); ok && len(fn.Args) == 1 {
		return fn.Args[0]
	}
	return e
}

func (Date) LookupItem(col query.Fragment) query.Fragment { return col }

// Add: date + duration — дата с форматом левого операнда.
func (t Date) Add(right Type) Type {
	t.IsNullable = anyNullable(t, right)
	return t
}

func (Date) CompileAdd(l, r query.Fragment, _ Type) query.Fragment {
	return query.Binary{Op: "+", Left: query.Cast{Arg: l, SQLType: timestampTZ}, Right: r}
}

// Subtract: date - date = duration, date - duration = date.
func (t Date) Subtract(right Type) Type {
	if right.Tag() == TagDate {
		return Duration{Format: DurationFormatDH, IsNullable: anyNullable(t, right)}
	}
	t.IsNullable = anyNullable(t, right)
	return t
}

func (Date) CompileSubtract(l, r query.Fragment, rt Type) query.Fragment {
	if rt.Tag() == TagDate {
		r = query.Cast{Arg: r, SQLType: timestampTZ}
	}
	return query.Binary{Op: "-", Left: query.Cast{Arg: l, SQLType: timestampTZ}, Right: r}
}

func (Date) OrderBy(col query.Fragment) query.Fragment { return col }

func (t Date) SearchText(col query.Fragment) query.Fragment {
	return emptyIfNull(t.CastToText(col))
}

func (Date) FilterTypes() []string {
	return []string{"date_equal", "date_before", "date_after", "empty", "not_empty"}
}

func (t Date) FormatValue(v any) string {
	var tm time.Time
	switch x := v.(type) {
	case time.Time:
		tm = x
	case string:
		p, err := time.Parse(time.RFC3339, x)
		if err != nil {
			if p, err = time.Parse("2006-01-02", x); err != nil {
				return x
			}
		}
		tm = p
	default:
		return fmt.Sprintf("%v", v)
	}
	if loc, err := time.LoadLocation(t.timezone()); err == nil {
		tm = tm.In(loc)
	}
	return tm.Format(t.goLayout())
}

// Форматы длительности.
const (
	DurationFormatHM   = "h:mm"
	DurationFormatHMS  = "h:mm:ss"
	DurationFormatDH   = "d h"
	DurationFormatDHMM = "d h:mm"
)

// Duration — интервал времени с форматом отображения.
type Duration struct {
	Format     string `json:"format"`
	IsNullable bool   `json:"nullable,omitempty"`
}

// FormatDurationFunc — SQL-функция форматирования интервала.
const FormatDurationFunc = "sheetcore_format_duration"

func (Duration) Tag() Tag                   { return TagDuration }
func (t Duration) Nullable() bool           { return t.IsNullable }
func (t Duration) WithNullable(n bool) Type { t.IsNullable = n; return t }
func (t Duration) Equal(o Type) bool        { return sameType(t, o) }
func (t Duration) String() string           { return "duration(" + t.format() + ")" }
func (Duration) ColumnType() string         { return "interval" }

func (t Duration) format() string {
	if t.Format == "" {
		return DurationFormatHM
	}
	return t.Format
}

func (Duration) ComparableTypes() []Tag      { return []Tag{TagDuration, TagText} }
func (Duration) LimitComparableTypes() []Tag { return []Tag{TagDuration} }
func (Duration) AddableTypes() []Tag         { return []Tag{TagDuration, TagDate} }
func (Duration) SubtractableTypes() []Tag    { return []Tag{TagDuration} }
func (Duration) MultipliableTypes() []Tag    { return []Tag{TagNumber} }
func (Duration) DividableTypes() []Tag       { return []Tag{TagNumber} }

func (t Duration) CastToText(arg query.Fragment) query.Fragment {
	return query.Call(FormatDurationFunc, arg, query.Text(t.format()))
}

func (Duration) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (Duration) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }
func (Duration) LookupItem(col query.Fragment) query.Fragment       { return col }

// Add: duration + date — дата правого операнда; duration + duration — duration.
func (t Duration) Add(right Type) Type {
	if d, ok := right.(Date); ok {
		d.IsNullable = anyNullable(t, right)
		return d
	}
	t.IsNullable = anyNullable(t, right)
	return t
}

func (Duration) CompileAdd(l, r query.Fragment, rt Type) query.Fragment {
	if rt.Tag() == TagDate {
		return query.Binary{Op: "+", Left: l, Right: query.Cast{Arg: r, SQLType: timestampTZ}}
	}
	return query.Binary{Op: "+", Left: l, Right: r}
}

func (t Duration) Subtract(right Type) Type {
	t.IsNullable = anyNullable(t, right)
	return t
}

func (Duration) CompileSubtract(l, r query.Fragment, _ Type) query.Fragment {
	return query.Binary{Op: "-", Left: l, Right: r}
}

// Multiply: duration * number, формат сохраняется.
func (t Duration) Multiply(right Type) Type {
	t.IsNullable = anyNullable(t, right)
	return t
}

func (Duration) CompileMultiply(l, r query.Fragment, _ Type) query.Fragment {
	return query.Binary{Op: "*", Left: l, Right: query.Cast{Arg: r, SQLType: "double precision"}}
}

func (t Duration) Divide(right Type) Type {
	t.IsNullable = anyNullable(t, right)
	return t
}

func (Duration) CompileDivide(l, r query.Fragment, _ Type) query.Fragment {
	zero := query.Const{Value: "0", SQLType: "numeric"}
	return query.Binary{Op: "/", Left: l, Right: query.Cast{Arg: query.Call("nullif", r, zero), SQLType: "double precision"}}
}

func (Duration) OrderBy(col query.Fragment) query.Fragment { return col }

func (Duration) FilterTypes() []string {
	return []string{"equal", "not_equal", "higher_than", "lower_than", "empty", "not_empty"}
}

func (t Duration) FormatValue(v any) string {
	var d time.Duration
	switch x := v.(type) {
	case time.Duration:
		d = x
	case float64:
		d = time.Duration(x * float64(time.Second))
	case int64:
		d = time.Duration(x) * time.Second
	case int:
		d = time.Duration(x) * time.Second
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return x
		}
		d = p
	default:
		return fmt.Sprintf("%v", v)
	}
	return formatDuration(d, t.format())
}

func formatDuration(d time.Duration, format string) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	days, hours := total/86400, (total%86400)/3600
	mins, secs := (total%3600)/60, total%60

	var out string
	switch format {
	case DurationFormatHMS:
		out = fmt.Sprintf("%d:%02d:%02d", total/3600, mins, secs)
	case DurationFormatDH:
		out = fmt.Sprintf("%dd %dh", days, hours)
	case DurationFormatDHMM:
		out = fmt.Sprintf("%dd %d:%02d", days, hours, mins)
	default:
		out = fmt.Sprintf("%d:%02d", total/3600, mins)
	}
	return sign + strings.TrimSpace(out)
}
