package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sheetcore/internal/pg"
	"sheetcore/internal/query"
	"sheetcore/internal/schema"
)

var errFormulaErrors = errors.New("workspace has formulas with errors")

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Type-check every formula of the workspace",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			eng, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			cat := eng.Snapshot()
			failed := 0
			for _, t := range cat.Tables() {
				for _, f := range cat.FieldsOf(t.ID) {
					if !f.IsFormula() {
						continue
					}
					name := t.Name + "." + f.Name
					if f.Error != "" {
						failed++
						fmt.Fprintln(a.out, color.RedString("ERROR"), name+":", f.Error)
						continue
					}
					fmt.Fprintln(a.out, color.GreenString("OK"), name+":", f.Type.String())
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d", errFormulaErrors, failed)
			}
			return nil
		}),
	}
}

func newGraphCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the field dependency graph",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			eng, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			edges, err := eng.Edges(cmd.Context())
			if err != nil {
				return err
			}
			cat := eng.Snapshot()
			lines := make([]string, 0, len(edges))
			for _, e := range edges {
				line := qualified(cat, e.DependantID) + " -> "
				if e.DependencyID == "" {
					line += color.YellowString("%s (broken)", e.BrokenName)
				} else {
					line += qualified(cat, e.DependencyID)
				}
				if e.ViaID != "" {
					line += " via " + qualified(cat, e.ViaID)
				}
				lines = append(lines, line)
			}
			sort.Strings(lines)
			for _, l := range lines {
				fmt.Fprintln(a.out, l)
			}
			return nil
		}),
	}
}

func qualified(cat *schema.Catalog, fieldID string) string {
	f, ok := cat.FieldByID(fieldID)
	if !ok {
		return fieldID
	}
	if t, ok := cat.Table(f.TableID); ok {
		return t.Name + "." + f.Name
	}
	return f.Name
}

func newCompileCommand(a *app) *cobra.Command {
	var (
		target string
		inline bool
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a formula field to SQL",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			tableName, fieldName, ok := strings.Cut(target, ".")
			if !ok || tableName == "" || fieldName == "" {
				return fmt.Errorf("--field must be Table.Field, got %q", target)
			}
			eng, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			t, ok := eng.TableByName(tableName)
			if !ok {
				return fmt.Errorf("%w: %s", schema.ErrTableNotFound, tableName)
			}
			f, ok := eng.Snapshot().FieldByName(t.ID, fieldName)
			if !ok {
				return fmt.Errorf("%w: %s", schema.ErrFieldNotFound, target)
			}
			frag, err := eng.Compile(f.ID, inline)
			if err != nil {
				return err
			}
			sqlText, args := query.Render(frag)
			fmt.Fprintln(a.out, sqlText)
			for i, arg := range args {
				fmt.Fprintf(a.out, "-- $%d = %v\n", i+1, arg)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&target, "field", "f", "", "Formula field as Table.Field")
	cmd.Flags().BoolVar(&inline, "inline", false, "Inline referenced formulas")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

// ddl — служебные таблицы движка и таблицы рабочей области по ключам.
func ddl(cat *schema.Catalog) ([]string, map[string]string, error) {
	out := pg.EngineDDL()
	ws, err := pg.GenerateDDL(cat)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range ws {
		out[k] = v
	}
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, out, nil
}

func newDDLCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ddl",
		Short: "Print Postgres DDL for the engine and the workspace tables",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			eng, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			keys, stmts, err := ddl(eng.Snapshot())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(a.out, "-- %s\n%s\n\n", k, strings.TrimSpace(stmts[k]))
			}
			return nil
		}),
	}
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply DDL to the database (add-only)",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			if a.cfg.DBURL == "" {
				return errors.New("migrate requires --db")
			}
			// служебные таблицы нужны до загрузки схемы
			a.cfg.AutoMigrate = true
			eng, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			_, stmts, err := ddl(eng.Snapshot())
			if err != nil {
				return err
			}
			if err := pg.ApplyDDL(cmd.Context(), a.db, stmts, a.log); err != nil {
				return err
			}
			fmt.Fprintln(a.out, color.GreenString("OK"), "applied", len(stmts), "statements")
			return nil
		}),
	}
}
