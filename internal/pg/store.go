package pg

import (
	"context"
	"database/sql"
	"fmt"

	"sheetcore/internal/formula"
	"sheetcore/internal/graph"
	"sheetcore/internal/schema"
	"sheetcore/internal/store"
)

// graphLockKey — ключ advisory-блокировки, сериализующей мутации графа:
// две параллельные перестройки не должны вместе замкнуть цикл.
const graphLockKey = "sheetcore_dependency_graph"

// Store — хранилище схемы и графа в Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, graphLockKey); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("graph lock: %w", err)
	}
	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

var _ graph.Reacher = (*pgTx)(nil)

func (t *pgTx) LockFields(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := t.tx.QueryContext(ctx, `select id from sheetcore_fields where id = any($1) order by id for update`, ids)
	if err != nil {
		return fmt.Errorf("lock fields: %w", err)
	}
	return rows.Close()
}

const edgeColumns = `id, dependant_id, coalesce(dependency_id, ''), coalesce(via_id, ''), coalesce(broken_name, '')`

func (t *pgTx) edges(ctx context.Context, where string, args ...any) ([]graph.Edge, error) {
	rows, err := t.tx.QueryContext(ctx, `select `+edgeColumns+` from sheetcore_field_dependencies `+where+` order by id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.ID, &e.DependantID, &e.DependencyID, &e.ViaID, &e.BrokenName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) EdgesOf(ctx context.Context, id string) ([]graph.Edge, error) {
	return t.edges(ctx, `where dependant_id = $1`, id)
}

func (t *pgTx) EdgesTo(ctx context.Context, id string) ([]graph.Edge, error) {
	return t.edges(ctx, `where dependency_id = $1`, id)
}

func (t *pgTx) EdgesVia(ctx context.Context, id string) ([]graph.Edge, error) {
	return t.edges(ctx, `where via_id = $1`, id)
}

func (t *pgTx) BrokenEdges(ctx context.Context, name string) ([]graph.Edge, error) {
	return t.edges(ctx, `where dependency_id is null and broken_name = $1`, name)
}

func (t *pgTx) Edges(ctx context.Context) ([]graph.Edge, error) {
	return t.edges(ctx, ``)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (t *pgTx) InsertEdges(ctx context.Context, edges []graph.Edge) error {
	for _, e := range edges {
		_, err := t.tx.ExecContext(ctx,
			`insert into sheetcore_field_dependencies (id, dependant_id, dependency_id, via_id, broken_name) values ($1, $2, $3, $4, $5)`,
			e.ID, e.DependantID, nullable(e.DependencyID), nullable(e.ViaID), nullable(e.BrokenName))
		if err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
	}
	return nil
}

func (t *pgTx) UpdateEdges(ctx context.Context, edges []graph.Edge) error {
	for _, e := range edges {
		res, err := t.tx.ExecContext(ctx,
			`update sheetcore_field_dependencies set dependency_id = $2, via_id = $3, broken_name = $4 where id = $1`,
			e.ID, nullable(e.DependencyID), nullable(e.ViaID), nullable(e.BrokenName))
		if err != nil {
			return fmt.Errorf("update edge %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("edge %s: %w", e.ID, store.ErrNotFound)
		}
	}
	return nil
}

func (t *pgTx) DeleteEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `delete from sheetcore_field_dependencies where id = any($1)`, ids)
	return err
}

// Reachable — достижимость по несломанным рёбрам одним рекурсивным запросом.
func (t *pgTx) Reachable(ctx context.Context, from, to string) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx, `
with recursive reach(id) as (
  select $1::text
  union
  select d.dependency_id
    from sheetcore_field_dependencies d
    join reach r on d.dependant_id = r.id
   where d.dependency_id is not null
)
select exists (select 1 from reach where id = $2)`, from, to).Scan(&ok)
	return ok, err
}

func (t *pgTx) SaveTable(ctx context.Context, tbl schema.Table) error {
	_, err := t.tx.ExecContext(ctx,
		`insert into sheetcore_tables (id, name) values ($1, $2) on conflict (id) do update set name = excluded.name`,
		tbl.ID, tbl.Name)
	return err
}

func (t *pgTx) Tables(ctx context.Context) ([]schema.Table, error) {
	rows, err := t.tx.QueryContext(ctx, `select id, name from sheetcore_tables order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schema.Table
	for rows.Next() {
		var tbl schema.Table
		if err := rows.Scan(&tbl.ID, &tbl.Name); err != nil {
			return nil, err
		}
		out = append(out, tbl)
	}
	return out, rows.Err()
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (t *pgTx) SaveField(ctx context.Context, rec schema.FieldRecord) error {
	_, err := t.tx.ExecContext(ctx, `
insert into sheetcore_fields (id, table_id, name, is_primary, kind, type_tag, type_config, expression, relation_target, error)
values ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10)
on conflict (id) do update set
  name = excluded.name, is_primary = excluded.is_primary, kind = excluded.kind,
  type_tag = excluded.type_tag, type_config = excluded.type_config, expression = excluded.expression,
  relation_target = excluded.relation_target, error = excluded.error`,
		rec.ID, rec.TableID, rec.Name, rec.Primary, string(rec.Kind), nullable(string(rec.TypeTag)),
		jsonArg(rec.TypeConfig), jsonArg(rec.Expression), nullable(rec.RelationTarget), nullable(rec.Error))
	if err != nil {
		return fmt.Errorf("save field %s: %w", rec.Name, err)
	}
	return nil
}

func (t *pgTx) DeleteField(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `delete from sheetcore_fields where id = $1`, id)
	return err
}

func (t *pgTx) Fields(ctx context.Context) ([]schema.FieldRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
select id, table_id, name, is_primary, kind, coalesce(type_tag, ''), type_config, expression,
       coalesce(relation_target, ''), coalesce(error, '')
  from sheetcore_fields order by seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schema.FieldRecord
	for rows.Next() {
		var (
			rec       schema.FieldRecord
			kind, tag string
			cfg, expr sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TableID, &rec.Name, &rec.Primary, &kind, &tag, &cfg, &expr, &rec.RelationTarget, &rec.Error); err != nil {
			return nil, err
		}
		rec.Kind = schema.Kind(kind)
		rec.TypeTag = formula.Tag(tag)
		if cfg.Valid {
			rec.TypeConfig = []byte(cfg.String)
		}
		if expr.Valid {
			rec.Expression = []byte(expr.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
