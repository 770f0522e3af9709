// Package command — CLI sheetcore: загрузка рабочей области и команды
// проверки, графа, компиляции и DDL.
package command

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"sheetcore/internal/config"
	"sheetcore/internal/dsl"
	"sheetcore/internal/engine"
	"sheetcore/internal/pg"
	"sheetcore/internal/reference"
	"sheetcore/internal/store"
)

// app — состояние, собранное в PersistentPreRunE.
type app struct {
	cfg config.Config
	log logr.Logger
	out io.Writer

	db     *sql.DB
	closer io.Closer
	eng    *engine.Engine
}

func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out, log: logr.Discard()}
	cmd := &cobra.Command{
		Use:           "sheetcore",
		Short:         "Computed fields engine: type checking, dependency graph and SQL compilation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			stdr.SetVerbosity(cfg.Verbosity)
			a.log = stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("sheetcore")
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetOut(out)
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newCheckCommand(a),
		newGraphCommand(a),
		newCompileCommand(a),
		newDDLCommand(a),
		newMigrateCommand(a),
	)
	return cmd
}

func Execute() error {
	// NO_COLOR отключает раскраску вывода
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		color.NoColor = true
	}
	cmd := NewRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		return err
	}
	return nil
}

// open выбирает хранилище: Postgres, файл состояния или память.
func (a *app) open(ctx context.Context) (store.Store, error) {
	switch {
	case a.cfg.DBURL != "":
		db, err := pg.Open(ctx, a.cfg.DBURL, a.log)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		a.db = db
		if a.cfg.AutoMigrate {
			if err := pg.ApplyDDL(ctx, db, pg.EngineDDL(), a.log); err != nil {
				return nil, err
			}
		}
		return pg.NewStore(db), nil
	case a.cfg.StateFile != "":
		f, err := store.OpenFile(ctx, a.cfg.StateFile)
		if err != nil {
			return nil, err
		}
		a.closer = f
		return f, nil
	default:
		return store.NewMemory(), nil
	}
}

// load поднимает движок и применяет рабочую область, если она есть.
func (a *app) load(ctx context.Context) (*engine.Engine, error) {
	st, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	eng := engine.New(st,
		engine.WithLogger(a.log),
		engine.WithDefaultTimezone(a.cfg.DefaultTimezone),
		engine.WithMaxDecimalPlaces(a.cfg.MaxDecimalPlaces),
	)
	if err := eng.Load(ctx); err != nil {
		return nil, err
	}
	a.eng = eng
	if a.cfg.Workspace == "" {
		return eng, nil
	}
	if _, err := os.Stat(a.cfg.Workspace); os.IsNotExist(err) {
		a.log.Info("workspace not found, skipping", "path", a.cfg.Workspace)
		return eng, nil
	}

	catalogs := map[string]reference.Catalog{}
	if a.cfg.CatalogsDir != "" {
		if _, err := os.Stat(a.cfg.CatalogsDir); err == nil {
			if catalogs, err = reference.LoadCatalogs(a.cfg.CatalogsDir); err != nil {
				return nil, err
			}
		}
	}
	ws, err := dsl.Load(a.cfg.Workspace)
	if err != nil {
		return nil, err
	}
	rep, err := dsl.Apply(ctx, eng, ws, catalogs)
	if err != nil {
		return nil, err
	}
	a.log.Info("workspace applied", "created", len(rep.Created), "updated", len(rep.Updated))
	return eng, nil
}

// run закрывает хранилище после команды, в том числе при ошибке.
func (a *app) run(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if cerr := a.close(); err == nil {
			err = cerr
		}
		return err
	}
}

func (a *app) close() error {
	var err error
	if a.closer != nil {
		err = a.closer.Close()
		a.closer = nil
	}
	if a.db != nil {
		if cerr := a.db.Close(); err == nil {
			err = cerr
		}
		a.db = nil
	}
	return err
}
