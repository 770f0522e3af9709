package schema

// Имена объектов хранения, общие для компилятора и DDL.

// TableName — таблица строк пользовательской таблицы.
func TableName(tableID string) string { return "table_" + tableID }

// Column — колонка значения поля.
func (f *Field) Column() string { return "field_" + f.ID }

// JunctionTable — таблица связи поля-связи (source_id, target_id).
func (f *Field) JunctionTable() string { return "relation_" + f.ID }
