package pg

import (
	"fmt"
	"sort"
	"strings"

	"sheetcore/internal/checker"
	"sheetcore/internal/formula"
	"sheetcore/internal/schema"
)

func sqlIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

// engineTables — метаданные движка: таблицы, поля и рёбра графа зависимостей.
// Рёбра удаляются вместе с зависимым полем; на цель и связь ссылки без
// каскада: перед удалением поля рёбра к нему ломаются или удаляются.
const engineTables = `
create table if not exists sheetcore_tables (
  "id"   text primary key,
  "name" text not null unique
);
create table if not exists sheetcore_fields (
  "id"              text primary key,
  "seq"             bigserial,
  "table_id"        text not null references sheetcore_tables(id) on delete cascade,
  "name"            text not null,
  "is_primary"      boolean not null default false,
  "kind"            text not null,
  "type_tag"        text null,
  "type_config"     jsonb null,
  "expression"      jsonb null,
  "relation_target" text null references sheetcore_tables(id),
  "error"           text null
);
create unique index if not exists sheetcore_fields_table_name_uq on sheetcore_fields(table_id, name);
create table if not exists sheetcore_field_dependencies (
  "id"            text primary key,
  "dependant_id"  text not null references sheetcore_fields(id) on delete cascade,
  "dependency_id" text null references sheetcore_fields(id),
  "via_id"        text null references sheetcore_fields(id),
  "broken_name"   text null,
  check (("dependency_id" is null) <> ("broken_name" is null))
);
create index if not exists sheetcore_deps_dependant_idx on sheetcore_field_dependencies(dependant_id);
create index if not exists sheetcore_deps_dependency_idx on sheetcore_field_dependencies(dependency_id);
create index if not exists sheetcore_deps_via_idx on sheetcore_field_dependencies(via_id);
create index if not exists sheetcore_deps_broken_idx on sheetcore_field_dependencies(broken_name) where dependency_id is null;
`

// engineFunctions — SQL-функции, на которые ссылаются скомпилированные формулы.
var engineFunctions = fmt.Sprintf(`
create or replace function error_to_nan(v numeric) returns numeric
  language plpgsql immutable as $$
begin
  return v;
exception when others then
  return 'NaN'::numeric;
end;
$$;
create or replace function error_to_null(v timestamp with time zone) returns timestamp with time zone
  language plpgsql immutable as $$
begin
  return v;
exception when others then
  return null;
end;
$$;
create or replace function %[1]s(v interval, fmt text) returns text
  language sql immutable as $$
  select case
    when v is null then null
    when fmt = 'd h' then (extract(day from v))::int || 'd ' || (extract(hour from v))::int || 'h'
    when fmt = 'd h:mm' then (extract(day from v))::int || 'd ' || to_char(v - date_trunc('day', v), 'FMHH24:MI')
    when fmt = 'h:mm:ss' then (extract(epoch from v)::bigint / 3600) || ':' || to_char(v, 'MI:SS')
    else (extract(epoch from v)::bigint / 3600) || ':' || to_char(v, 'MI')
  end
$$;
create or replace function %[2]s(opts jsonb, val text) returns boolean
  language sql immutable as $$
  select coalesce(exists (select 1 from jsonb_array_elements(opts) o where o->>'value' = val), false)
$$;
`, formula.FormatDurationFunc, checker.HasOptionFunc)

// EngineDDL — DDL метаданных движка и вспомогательных функций.
func EngineDDL() map[string]string {
	return map[string]string{
		"000_engine_tables":    engineTables,
		"010_engine_functions": engineFunctions,
	}
}

// GenerateDDL — таблицы строк пользовательских таблиц: колонка на каждое
// обычное поле и формулу, таблица связи на каждое поле-связь.
// Ключи упорядочены так, что внешние ключи создаются после всех таблиц.
func GenerateDDL(cat *schema.Catalog) (map[string]string, error) {
	out := make(map[string]string)
	var tables strings.Builder

	for _, t := range cat.Tables() {
		cols := []string{`"id" text primary key`}
		seen := map[string]struct{}{"id": {}}
		for _, f := range cat.FieldsOf(t.ID) {
			if f.IsRelation() {
				continue
			}
			col := f.Column()
			if _, dup := seen[col]; dup {
				return nil, fmt.Errorf("%s.%s: duplicate column %s", t.Name, f.Name, col)
			}
			seen[col] = struct{}{}
			typ := "text"
			if f.Type != nil {
				typ = f.Type.ColumnType()
			}
			cols = append(cols, fmt.Sprintf("%s %s null", sqlIdent(col), typ))
		}
		fmt.Fprintf(&tables, "create table if not exists %s (\n  %s\n);\n",
			sqlIdent(schema.TableName(t.ID)), strings.Join(cols, ",\n  "))
	}

	var rels []*schema.Field
	for _, t := range cat.Tables() {
		for _, f := range cat.FieldsOf(t.ID) {
			if f.IsRelation() {
				rels = append(rels, f)
			}
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	for _, f := range rels {
		j := f.JunctionTable()
		fmt.Fprintf(&tables, "create table if not exists %s (\n  \"source_id\" text not null,\n  \"target_id\" text not null,\n  primary key (\"source_id\", \"target_id\")\n);\n", sqlIdent(j))
		// по ключу на ограничение: уже существующее пропускается отдельно
		out["200_fk_"+j+"_source"] = fmt.Sprintf("alter table %s add constraint %s foreign key (\"source_id\") references %s(id) on delete cascade;",
			sqlIdent(j), sqlIdent(j+"_source_fk"), sqlIdent(schema.TableName(f.TableID)))
		out["200_fk_"+j+"_target"] = fmt.Sprintf("alter table %s add constraint %s foreign key (\"target_id\") references %s(id) on delete cascade;",
			sqlIdent(j), sqlIdent(j+"_target_fk"), sqlIdent(schema.TableName(f.Relation.TargetTableID)))
	}

	out["100_tables"] = tables.String()
	return out, nil
}
