package schema

import (
	"errors"

	"sheetcore/internal/ast"
	"sheetcore/internal/formula"
)

var (
	ErrFieldNotFound = errors.New("field not found")
	ErrTableNotFound = errors.New("table not found")
	ErrDuplicateName = errors.New("duplicate field name")
)

// Kind — вид поля.
type Kind string

const (
	KindPlain    Kind = "plain"    // обычное поле с объявленным типом
	KindFormula  Kind = "formula"  // вычисляемое поле
	KindRelation Kind = "relation" // связь многие-ко-многим с другой таблицей
)

// Table — таблица рабочей области.
type Table struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Relation — параметры поля-связи.
type Relation struct {
	TargetTableID string
}

// Field описывает поле таблицы.
type Field struct {
	ID      string
	TableID string
	Name    string
	Primary bool
	Kind    Kind

	// Type: объявленный тип обычного поля или последний вычисленный тип формулы
	// (сохраняется для быстрой диспетчеризации без повторной проверки).
	// У поля-связи nil: его тип выводится из первичного поля целевой таблицы.
	Type formula.Type

	Expression ast.Node  // только формула
	Relation   *Relation // только связь

	Error string // формула: текст последней ошибки типов
}

func (f *Field) IsFormula() bool  { return f.Kind == KindFormula }
func (f *Field) IsRelation() bool { return f.Kind == KindRelation && f.Relation != nil }

// Clone — копия поля; дерево неизменяемо и разделяется.
func (f *Field) Clone() *Field {
	c := *f
	if f.Relation != nil {
		r := *f.Relation
		c.Relation = &r
	}
	return &c
}

// Resolver — чтение схемы. Реализации не должны возвращать общие
// изменяемые указатели за пределы своей блокировки.
type Resolver interface {
	Table(id string) (*Table, bool)
	FieldByID(id string) (*Field, bool)
	FieldByName(tableID, name string) (*Field, bool)
	FieldsOf(tableID string) []*Field
	PrimaryField(tableID string) (*Field, bool)
}
