package schema

import (
	"encoding/json"
	"fmt"

	"sheetcore/internal/ast"
	"sheetcore/internal/formula"
)

// FieldRecord — поле в виде для хранения: тип как (тег, конфигурация jsonb),
// формула как JSON-дерево.
type FieldRecord struct {
	ID             string          `json:"id"`
	TableID        string          `json:"table_id"`
	Name           string          `json:"name"`
	Primary        bool            `json:"primary,omitempty"`
	Kind           Kind            `json:"kind"`
	TypeTag        formula.Tag     `json:"type_tag,omitempty"`
	TypeConfig     json.RawMessage `json:"type_config,omitempty"`
	Expression     json.RawMessage `json:"expression,omitempty"`
	RelationTarget string          `json:"relation_target,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Record кодирует поле для хранения.
func (f *Field) Record() (FieldRecord, error) {
	rec := FieldRecord{
		ID:      f.ID,
		TableID: f.TableID,
		Name:    f.Name,
		Primary: f.Primary,
		Kind:    f.Kind,
		Error:   f.Error,
	}
	if f.Type != nil {
		tag, raw, err := formula.Encode(f.Type)
		if err != nil {
			return FieldRecord{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		rec.TypeTag, rec.TypeConfig = tag, raw
	}
	if f.Expression != nil {
		raw, err := ast.MarshalNode(f.Expression)
		if err != nil {
			return FieldRecord{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		rec.Expression = raw
	}
	if f.Relation != nil {
		rec.RelationTarget = f.Relation.TargetTableID
	}
	return rec, nil
}

// Field восстанавливает поле. Неизвестный тег типа — formula.ErrUnknownFormulaType.
func (r FieldRecord) Field() (*Field, error) {
	f := &Field{
		ID:      r.ID,
		TableID: r.TableID,
		Name:    r.Name,
		Primary: r.Primary,
		Kind:    r.Kind,
		Error:   r.Error,
	}
	if r.TypeTag != "" {
		t, err := formula.Decode(r.TypeTag, r.TypeConfig)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", r.Name, err)
		}
		f.Type = t
	}
	if len(r.Expression) > 0 {
		n, err := ast.UnmarshalNode(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", r.Name, err)
		}
		f.Expression = n
	}
	if r.RelationTarget != "" {
		f.Relation = &Relation{TargetTableID: r.RelationTarget}
	}
	return f, nil
}
