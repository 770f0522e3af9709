// Package dsl — файлы рабочей области: таблицы, поля, типы и деревья формул в YAML.
package dsl

import "sheetcore/internal/ast"

// Workspace — описание таблиц рабочей области.
type Workspace struct {
	Tables []Table `yaml:"tables"`
}

// Table описывает таблицу и её поля в порядке объявления.
type Table struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields"`
}

// Field описывает поле. Вид задаётся тем, что заполнено: Type — обычное поле,
// Relation — связь с таблицей по имени, Formula — вычисляемое поле.
type Field struct {
	Name     string    `yaml:"name"`
	Type     string    `yaml:"type,omitempty"` // text, number places=2, single_select[a, b] и т.д.
	Primary  bool      `yaml:"primary,omitempty"`
	Relation string    `yaml:"relation,omitempty"`
	Formula  *ast.Tree `yaml:"formula,omitempty"`
}
