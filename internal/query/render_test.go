package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPrimitives(t *testing.T) {
	sql, args := Render(Binary{
		Op:    "+",
		Left:  Column{Name: "field_a"},
		Right: Const{Value: "1", SQLType: "numeric"},
	})
	assert.Equal(t, `("row"."field_a" + $1::numeric)`, sql)
	assert.Equal(t, []any{"1"}, args)

	sql, args = Render(Cast{Arg: JSONPath{Arg: Column{Name: "field_s"}, Path: []string{"value"}, AsText: true}, SQLType: "text"})
	assert.Equal(t, `(("row"."field_s")->>'value')::text`, sql)
	assert.Empty(t, args)

	sql, _ = Render(Case{When: Raw{SQL: "true"}, Then: Text("a"), Else: Const{SQLType: "text"}})
	assert.Equal(t, `CASE WHEN true THEN $1::text ELSE null::text END`, sql)
}

func TestRenderAggregateScopesColumns(t *testing.T) {
	sql, args := Render(Aggregate{
		Func:    "jsonb_agg",
		Through: "relation_r",
		Target:  "table_t",
		Item:    Call("jsonb_build_object", Text("id"), Column{Name: "id"}, Text("value"), Column{Name: "field_n"}),
		Default: Const{Value: "[]", SQLType: "jsonb"},
	})
	require.Len(t, args, 3)
	assert.Equal(t,
		`(SELECT coalesce(jsonb_agg(jsonb_build_object($1::text, "r1"."id", $2::text, "r1"."field_n") ORDER BY "r1"."id"), $3::jsonb)`+
			` FROM "relation_r" AS "j1" JOIN "table_t" AS "r1" ON "r1"."id" = "j1"."target_id" WHERE "j1"."source_id" = "row"."id")`,
		sql)
}

func TestRenderReduce(t *testing.T) {
	sql, args := Render(Reduce{
		Func:    "string_agg",
		Array:   Column{Name: "field_m"},
		Path:    []string{"value"},
		SQLType: "text",
		Extra:   []Fragment{Text(", ")},
	})
	assert.Equal(t, `(SELECT string_agg("e1".value->>'value', $1::text) FROM jsonb_array_elements("row"."field_m") AS "e1")`, sql)
	assert.Equal(t, []any{", "}, args)

	sql, _ = Render(Reduce{Func: "sum", Array: Column{Name: "field_m"}, Path: []string{"value"}, SQLType: "numeric"})
	assert.Equal(t, `(SELECT sum(("e1".value->>'value')::numeric) FROM jsonb_array_elements("row"."field_m") AS "e1")`, sql)
}

func TestRenderReduceItemBindsElement(t *testing.T) {
	inner := Reduce{
		Func:  "string_agg",
		Array: JSONPath{Arg: Element{}, Path: []string{"value"}},
		Item:  JSONPath{Arg: Element{}, Path: []string{"value"}, AsText: true},
		Extra: []Fragment{Text("/")},
	}
	sql, args := Render(Reduce{
		Func:  "string_agg",
		Array: Column{Name: "field_m"},
		Item:  inner,
		Extra: []Fragment{Text(", ")},
	})
	assert.Equal(t, `(SELECT string_agg((SELECT string_agg(("e2".value)->>'value', $1::text) FROM jsonb_array_elements(("e1".value)->'value') AS "e2"), $2::text) FROM jsonb_array_elements("row"."field_m") AS "e1")`, sql)
	assert.Equal(t, []any{"/", ", "}, args)

	sql, _ = Render(Element{})
	assert.Equal(t, "null", sql)
}

func TestRenderIsDeterministic(t *testing.T) {
	f := Coalesce(Call("upper", Column{Name: "field_x"}), Text(""))
	a, _ := Render(f)
	b, _ := Render(f)
	assert.Equal(t, a, b)

	fn, ok := IsFunc(f, "coalesce")
	require.True(t, ok)
	assert.Len(t, fn.Args, 2)
	_, ok = IsFunc(f, "upper")
	assert.False(t, ok)
}
