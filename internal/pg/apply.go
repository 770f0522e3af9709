package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgconn"
)

// ApplyDDL выполняет map[ключ]sql в порядке ключей. Ожидается идемпотентный
// DDL (create ... if not exists); уже существующие объекты пропускаются.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log logr.Logger) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// duplicate_object (42710), duplicate_table (42P07), duplicate_function (42723)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07" || pgErr.Code == "42723") {
				log.V(1).Info("DDL skipped (already exists)", "step", k, "object", pgErr.ConstraintName, "message", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL apply failed at %s: %w", k, err)
		}
		log.V(2).Info("DDL applied", "step", k)
	}
	return nil
}
