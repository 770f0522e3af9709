// Package engine — жизненный цикл полей рабочей области: создание,
// изменение формулы и типа, переименование и удаление.
//
// Каждая операция идёт в одной транзакции хранилища над копией каталога;
// копия подменяет текущий каталог только после успешного коммита.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"sheetcore/internal/formula"
	"sheetcore/internal/graph"
	"sheetcore/internal/schema"
	"sheetcore/internal/store"
)

var (
	ErrNotFormula    = errors.New("field is not a formula")
	ErrNotPlain      = errors.New("field is not a plain field")
	ErrInvalidType   = errors.New("invalid field type")
	ErrInvalidTarget = errors.New("invalid relation target")
)

// Engine — точка входа для изменений схемы.
type Engine struct {
	store store.Store
	graph *graph.Maintainer
	log   logr.Logger

	defaultTimezone  string
	maxDecimalPlaces int

	write sync.Mutex // одна мутация за раз внутри процесса

	mu  sync.RWMutex
	cat *schema.Catalog
}

type Option func(*Engine)

func WithLogger(log logr.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithDefaultTimezone — пояс для полей-дат, созданных без явного пояса.
func WithDefaultTimezone(tz string) Option {
	return func(e *Engine) { e.defaultTimezone = tz }
}

// WithMaxDecimalPlaces ограничивает точность числовых полей; больше
// formula.MaxDecimalPlaces не бывает.
func WithMaxDecimalPlaces(n int) Option {
	return func(e *Engine) {
		if n >= 0 && n <= formula.MaxDecimalPlaces {
			e.maxDecimalPlaces = n
		}
	}
}

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            st,
		log:              logr.Discard(),
		maxDecimalPlaces: formula.MaxDecimalPlaces,
		cat:              schema.NewCatalog(),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.WithName("engine")
	e.graph = graph.NewMaintainer(e.log)
	return e
}

// Catalog — текущая схема только для чтения.
func (e *Engine) Catalog() schema.Resolver {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cat
}

// Snapshot — независимая копия текущей схемы.
func (e *Engine) Snapshot() *schema.Catalog {
	return e.catalog().Clone()
}

// TableByName — таблица по имени без учёта регистра.
func (e *Engine) TableByName(name string) (*schema.Table, bool) {
	return e.catalog().TableByName(name)
}

// Field — поле текущей схемы по id.
func (e *Engine) Field(id string) (*schema.Field, error) {
	return fieldByID(e.catalog(), id)
}

func (e *Engine) catalog() *schema.Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cat
}

// Load перечитывает схему из хранилища.
func (e *Engine) Load(ctx context.Context) error {
	e.write.Lock()
	defer e.write.Unlock()

	cat := schema.NewCatalog()
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tables, err := tx.Tables(ctx)
		if err != nil {
			return err
		}
		for i := range tables {
			if _, err := cat.AddTable(&tables[i]); err != nil {
				return err
			}
		}
		recs, err := tx.Fields(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			f, err := rec.Field()
			if err != nil {
				return err
			}
			if _, err := cat.AddField(f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	e.mu.Lock()
	e.cat = cat
	e.mu.Unlock()
	e.log.V(1).Info("schema loaded", "tables", len(cat.Tables()))
	return nil
}

// mutate выполняет fn над копией каталога в транзакции хранилища.
func (e *Engine) mutate(ctx context.Context, fn func(ctx context.Context, tx store.Tx, cat *schema.Catalog) error) error {
	e.write.Lock()
	defer e.write.Unlock()

	cat := e.catalog().Clone()
	if err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, tx, cat)
	}); err != nil {
		return err
	}
	e.mu.Lock()
	e.cat = cat
	e.mu.Unlock()
	return nil
}

// Edges — все рёбра графа.
func (e *Engine) Edges(ctx context.Context) ([]graph.Edge, error) {
	var out []graph.Edge
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Edges(ctx)
		return err
	})
	return out, err
}

func save(ctx context.Context, tx store.Tx, f *schema.Field) error {
	rec, err := f.Record()
	if err != nil {
		return err
	}
	return tx.SaveField(ctx, rec)
}

func fieldByID(cat *schema.Catalog, id string) (*schema.Field, error) {
	f, ok := cat.FieldByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrFieldNotFound, id)
	}
	return f, nil
}
