// Package query описывает фрагменты запроса, в которые компилируются формулы.
// Фрагменты ничего не знают о формулах: это примитивы целевого бэкенда
// (колонка, вызов функции, JSON-путь, агрегация, приведение типа).
package query

// Fragment — узел фрагмента запроса. Фрагменты неизменяемы.
type Fragment interface {
	fragment()
}

// Column — обращение к колонке. Пустой Table означает «текущая строка
// текущей области»: строка таблицы или связанная строка внутри Aggregate.
type Column struct {
	Table string
	Name  string
}

// Const — константа с типом хранения (numeric, text, boolean, jsonb ...).
type Const struct {
	Value   any
	SQLType string
}

// Func — вызов функции бэкенда.
type Func struct {
	Name string
	Args []Fragment
}

// Cast — явное приведение типа.
type Cast struct {
	Arg     Fragment
	SQLType string
}

// JSONPath — извлечение по ключам jsonb. AsText: последний шаг отдаёт text.
type JSONPath struct {
	Arg    Fragment
	Path   []string
	AsText bool
}

// Binary — инфиксный оператор.
type Binary struct {
	Op    string
	Left  Fragment
	Right Fragment
}

// Case — CASE WHEN ... THEN ... ELSE ... END.
type Case struct {
	When Fragment
	Then Fragment
	Else Fragment
}

// Aggregate — агрегация по связанным строкам через таблицу связи.
// Item вычисляется в области связанной строки.
type Aggregate struct {
	Func    string
	Through string // таблица связи (source_id, target_id)
	Target  string // связанная таблица
	Item    Fragment
	Default Fragment // значение при отсутствии связанных строк
}

// Reduce — свёртка jsonb-массива: Func над элементами массива Array.
// Элемент берётся по Path и приводится к SQLType; если задан Item, свёртка
// идёт по нему, а Element внутри Item означает текущий элемент.
type Reduce struct {
	Func    string
	Array   Fragment
	Path    []string
	SQLType string
	Item    Fragment
	Extra   []Fragment
}

// Element — текущий jsonb-элемент ближайшей объемлющей Reduce.
type Element struct{}

// Raw — готовый кусок SQL без аргументов (current_date и т.п.).
type Raw struct {
	SQL string
}

func (Column) fragment()    {}
func (Const) fragment()     {}
func (Func) fragment()      {}
func (Cast) fragment()      {}
func (JSONPath) fragment()  {}
func (Binary) fragment()    {}
func (Case) fragment()      {}
func (Aggregate) fragment() {}
func (Reduce) fragment()    {}
func (Element) fragment()   {}
func (Raw) fragment()       {}

// Call — короткая запись Func.
func Call(name string, args ...Fragment) Func {
	return Func{Name: name, Args: args}
}

// Text — текстовая константа.
func Text(s string) Const { return Const{Value: s, SQLType: "text"} }

// Coalesce — coalesce(f, def).
func Coalesce(f, def Fragment) Func { return Call("coalesce", f, def) }

// IsFunc сообщает, является ли f вызовом функции name, и возвращает его.
func IsFunc(f Fragment, name string) (Func, bool) {
	fn, ok := f.(Func)
	if !ok || fn.Name != name {
		return Func{}, false
	}
	return fn, true
}
