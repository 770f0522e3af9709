package formula

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetcore/internal/query"
)

func TestNumberArithmeticKeepsMaxPlaces(t *testing.T) {
	two := Number{DecimalPlaces: 2}
	zero := Number{DecimalPlaces: 0}

	assert.True(t, Contains(two.AddableTypes(), TagNumber))
	assert.Equal(t, Number{DecimalPlaces: 2}, two.Add(zero))
	assert.Equal(t, Number{DecimalPlaces: 2}, zero.Add(two))
	assert.Equal(t, Number{DecimalPlaces: 2}, zero.Subtract(two))
	assert.Equal(t, Number{DecimalPlaces: 2}, two.Multiply(zero))

	// деление всегда уходит в максимальную точность
	assert.Equal(t, Number{DecimalPlaces: MaxDecimalPlaces}, zero.Divide(zero))
}

func TestDateDurationArithmetic(t *testing.T) {
	date := Date{Format: DateFormatEU, IncludeTime: true}
	dur := Duration{Format: DurationFormatHMS, IsNullable: true}

	res := date.Add(dur)
	require.Equal(t, TagDate, res.Tag())
	assert.True(t, res.Nullable())
	assert.Equal(t, DateFormatEU, res.(Date).Format)

	res = dur.Add(date)
	require.Equal(t, TagDate, res.Tag())
	assert.True(t, res.Nullable())

	res = Date{}.Add(Duration{})
	assert.False(t, res.Nullable())

	res = date.Subtract(Date{})
	assert.Equal(t, TagDuration, res.Tag())

	res = dur.Multiply(Number{})
	assert.Equal(t, Duration{Format: DurationFormatHMS, IsNullable: true}, res)

	res = Number{}.Multiply(dur)
	assert.Equal(t, TagDuration, res.Tag())
	assert.Equal(t, DurationFormatHMS, res.(Duration).Format)

	assert.False(t, Contains(Date{}.AddableTypes(), TagDate))
}

func TestComparisonTables(t *testing.T) {
	for _, tt := range []Type{Number{}, Boolean{}, Date{}, Duration{}, SingleSelect{}} {
		assert.True(t, Contains(tt.ComparableTypes(), TagText), tt.String())
		assert.False(t, Contains(tt.LimitComparableTypes(), TagText), tt.String())
	}
	assert.True(t, Contains(Number{}.LimitComparableTypes(), TagNumber))
	assert.Empty(t, Array{Element: Text{}}.ComparableTypes())
	assert.Empty(t, MultipleSelect{}.ComparableTypes())
}

func TestWrapAndUnwrapAtFieldLevel(t *testing.T) {
	col := query.Column{Name: "field_x"}

	wrapped := Number{}.WrapAtFieldLevel(col)
	fn, ok := query.IsFunc(wrapped, errorToNaN)
	require.True(t, ok)
	assert.Equal(t, col, fn.Args[0])
	assert.Equal(t, col, Number{}.UnwrapAtFieldLevel(wrapped))
	assert.Equal(t, col, Number{}.UnwrapAtFieldLevel(col))

	wrapped = Date{}.WrapAtFieldLevel(col)
	_, ok = query.IsFunc(wrapped, errorToNull)
	require.True(t, ok)
	assert.Equal(t, col, Date{}.UnwrapAtFieldLevel(wrapped))

	assert.Equal(t, col, Text{}.WrapAtFieldLevel(col))
}

func TestCastToTextSQL(t *testing.T) {
	col := query.Column{Name: "field_m"}

	sql, _ := query.Render(Text{}.CastToText(col))
	assert.Equal(t, `"row"."field_m"`, sql)

	sql, args := query.Render(MultipleSelect{}.CastToText(col))
	assert.Equal(t, `coalesce((SELECT string_agg("e1".value->>'value', $1::text) FROM jsonb_array_elements("row"."field_m") AS "e1"), $2::text)`, sql)
	assert.Equal(t, []any{", ", ""}, args)

	sql, args = query.Render(Date{Timezone: "Europe/Moscow"}.CastToText(col))
	assert.Equal(t, `to_char(timezone($1::text, ("row"."field_m")::timestamp with time zone), $2::text)`, sql)
	assert.Equal(t, []any{"Europe/Moscow", "YYYY-MM-DD"}, args)
}

func TestArrayCastUsesElementTextRule(t *testing.T) {
	col := query.Column{Name: "field_a"}

	links := Array{Element: Link{}}
	sql, args := query.Render(links.CastToText(col))
	assert.Equal(t, `coalesce((SELECT string_agg(coalesce(coalesce(nullif((("e1".value)->'value')->>'label', $1::text), (("e1".value)->'value')->>'url'), $2::text), $3::text) FROM jsonb_array_elements("row"."field_a") AS "e1"), $4::text)`, sql)
	assert.Equal(t, []any{"", "", ", ", ""}, args)
	item := []any{map[string]any{"id": "r1", "value": map[string]any{"url": "https://x", "label": "Docs"}}}
	assert.Equal(t, "Docs", FormatValue(links, item), "SQL and Go both take the label")

	dates := Array{Element: Date{Format: DateFormatEU, Timezone: "Europe/Moscow"}}
	sql, args = query.Render(dates.CastToText(col))
	assert.Equal(t, `coalesce((SELECT string_agg(to_char(timezone($1::text, ((("e1".value)->>'value')::date)::timestamp with time zone), $2::text), $3::text) FROM jsonb_array_elements("row"."field_a") AS "e1"), $4::text)`, sql)
	assert.Equal(t, []any{"Europe/Moscow", "DD/MM/YYYY", ", ", ""}, args)
	item = []any{map[string]any{"id": "r1", "value": "2024-01-31T21:30:00Z"}}
	assert.Equal(t, "01/02/2024", FormatValue(dates, item), "formatted in the element timezone")

	sql, _ = query.Render(Array{Element: Text{}}.CastToText(col))
	assert.Equal(t, `coalesce((SELECT string_agg(("e1".value)->>'value', $1::text) FROM jsonb_array_elements("row"."field_a") AS "e1"), $2::text)`, sql)
}

func TestFormatValueOfCollections(t *testing.T) {
	assert.Equal(t, "", FormatValue(MultipleSelect{}, []any{}))
	assert.Equal(t, "", FormatValue(Array{Element: Text{}}, []any{}))
	assert.Equal(t, "", FormatValue(Array{Element: Text{}}, nil))

	ms := []any{
		map[string]any{"id": 1, "value": "red"},
		map[string]any{"id": 2, "value": "blue"},
	}
	assert.Equal(t, "red, blue", FormatValue(MultipleSelect{}, ms))

	arr := []any{
		map[string]any{"id": 1, "value": "1.5"},
		map[string]any{"id": 2, "value": 2.0},
	}
	assert.Equal(t, "1.50, 2.00", FormatValue(Array{Element: Number{DecimalPlaces: 2}}, arr))

	sel := []any{map[string]any{"id": 7, "value": "done"}}
	assert.Equal(t, "done", FormatValue(Array{Element: SingleSelect{}}, sel))
}

func TestFormatScalarValues(t *testing.T) {
	assert.Equal(t, "3", FormatValue(Number{}, "3.2"))
	assert.Equal(t, "true", FormatValue(Boolean{}, true))

	ts := time.Date(2024, 1, 31, 21, 30, 0, 0, time.UTC)
	assert.Equal(t, "31/01/2024", FormatValue(Date{Format: DateFormatEU}, ts))
	assert.Equal(t, "01/31/2024 21:30", FormatValue(Date{Format: DateFormatUS, IncludeTime: true}, ts))

	assert.Equal(t, "1:30", FormatValue(Duration{}, 90*time.Minute))
	assert.Equal(t, "1:30:05", FormatValue(Duration{Format: DurationFormatHMS}, 5405.0))
	assert.Equal(t, "1d 2h", FormatValue(Duration{Format: DurationFormatDH}, 26*time.Hour))

	assert.Equal(t, "Docs", FormatValue(Link{}, map[string]any{"url": "https://x", "label": "Docs"}))
	assert.Equal(t, "https://x", FormatValue(Link{}, map[string]any{"url": "https://x"}))
}

func TestArrayCapabilitiesDelegateToElement(t *testing.T) {
	_, ok := OrderableOf(Array{Element: Number{}})
	assert.True(t, ok)
	_, ok = OrderableOf(Array{Element: MultipleSelect{}})
	assert.False(t, ok)

	_, ok = SearchableOf(Array{Element: Text{}})
	assert.True(t, ok)
	_, ok = SearchableOf(Array{Element: Boolean{}})
	assert.False(t, ok)

	f, ok := FilterableOf(Array{Element: Text{}})
	require.True(t, ok)
	assert.Contains(t, f.FilterTypes(), "has_value_equal")
	assert.Contains(t, f.FilterTypes(), "has_value_contains")

	_, ok = FilterableOf(Invalid{})
	assert.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, tt := range []Type{
		Number{DecimalPlaces: 3, IsNullable: true},
		Date{Format: DateFormatUS, IncludeTime: true, Timezone: "UTC"},
		SingleSelect{Options: []SelectOption{{ID: 1, Value: "a", Color: "red"}}},
		Array{Element: Number{DecimalPlaces: 2}},
		Invalid{Error: "boom"},
	} {
		tag, raw, err := Encode(tt)
		require.NoError(t, err)
		got, err := Decode(tag, raw)
		require.NoError(t, err)
		assert.True(t, tt.Equal(got), "%s != %s", tt, got)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := Decode("rating", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownFormulaType))

	_, err = Decode(TagArray, []byte(`{"element_type":"rating"}`))
	assert.True(t, errors.Is(err, ErrUnknownFormulaType))

	assert.Contains(t, Tags(), TagMultipleSelect)
	assert.Len(t, Tags(), 11)
}
