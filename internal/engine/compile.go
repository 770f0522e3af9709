package engine

import (
	"fmt"

	"sheetcore/internal/ast"
	"sheetcore/internal/checker"
	"sheetcore/internal/compiler"
	"sheetcore/internal/query"
	"sheetcore/internal/schema"
)

// Check типизирует выражение в контексте таблицы без изменения схемы.
func (e *Engine) Check(tableID string, expr ast.Node) (*checker.Expr, error) {
	cat := e.catalog()
	if _, ok := cat.Table(tableID); !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrTableNotFound, tableID)
	}
	return checker.Check(expr, tableID, cat)
}

// Compile — фрагмент запроса, вычисляющий формулу fieldID, с защитой поля.
// С inline ссылки на другие формулы подставляются их выражениями.
func (e *Engine) Compile(fieldID string, inline bool) (query.Fragment, error) {
	cat := e.catalog()
	f, err := fieldByID(cat, fieldID)
	if err != nil {
		return nil, err
	}
	if !f.IsFormula() {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrNotFormula)
	}
	var c *compiler.Compiler
	if inline {
		in := &inliner{cat: cat, cache: map[string]query.Fragment{}}
		in.c = compiler.New(compiler.WithInlining(in))
		c = in.c
	} else {
		c = compiler.New()
	}
	expr, err := checker.Check(f.Expression, f.TableID, cat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return c.CompileField(expr)
}

// inliner компилирует формулы, на которые ссылаются, по требованию.
// Граф ацикличен, поэтому рекурсия конечна.
type inliner struct {
	cat   schema.Resolver
	c     *compiler.Compiler
	cache map[string]query.Fragment
}

func (in *inliner) FieldFragment(fieldID string) (query.Fragment, bool) {
	if f, ok := in.cache[fieldID]; ok {
		return f, true
	}
	f, ok := in.cat.FieldByID(fieldID)
	if !ok || !f.IsFormula() {
		return nil, false
	}
	expr, err := checker.Check(f.Expression, f.TableID, in.cat)
	if err != nil {
		return nil, false
	}
	frag, err := in.c.CompileField(expr)
	if err != nil {
		return nil, false
	}
	in.cache[fieldID] = frag
	return frag, true
}
