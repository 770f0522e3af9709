package schema

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Catalog — схема в памяти: таблицы и поля. Потокобезопасна.
// Для транзакционных изменений берётся Clone, правится и подменяется целиком.
type Catalog struct {
	mu      sync.RWMutex
	tables  map[string]*Table
	fields  map[string]*Field
	byTable map[string][]string // tableID -> field ids в порядке создания
	entropy io.Reader
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Catalog{
		tables:  make(map[string]*Table),
		fields:  make(map[string]*Field),
		byTable: make(map[string][]string),
		entropy: &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(src, 0)},
	}
}

// NewID — ULID, монотонный в пределах каталога.
func (c *Catalog) NewID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newIDLocked()
}

func (c *Catalog) newIDLocked() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

// AddTable регистрирует таблицу; пустой ID генерируется.
func (c *Catalog) AddTable(t *Table) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("empty table name")
	}
	for _, ex := range c.tables {
		if ex.Name == t.Name {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
	}
	cp := *t
	if cp.ID == "" {
		cp.ID = c.newIDLocked()
	}
	c.tables[cp.ID] = &cp
	return &cp, nil
}

// AddField добавляет поле в таблицу. Имя уникально в пределах таблицы.
func (c *Catalog) AddField(f *Field) (*Field, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[f.TableID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, f.TableID)
	}
	if strings.TrimSpace(f.Name) == "" {
		return nil, fmt.Errorf("empty field name")
	}
	if _, ok := c.fieldByNameLocked(f.TableID, f.Name); ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
	}
	cp := f.Clone()
	if cp.ID == "" {
		cp.ID = c.newIDLocked()
	}
	if _, exists := c.fields[cp.ID]; exists {
		return nil, fmt.Errorf("duplicate field id %s", cp.ID)
	}
	c.fields[cp.ID] = cp
	c.byTable[cp.TableID] = append(c.byTable[cp.TableID], cp.ID)
	return cp.Clone(), nil
}

// UpdateField заменяет поле с тем же ID (имя проверяется на уникальность).
func (c *Catalog) UpdateField(f *Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.fields[f.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, f.ID)
	}
	if old.Name != f.Name {
		if other, ok := c.fieldByNameLocked(f.TableID, f.Name); ok && other.ID != f.ID {
			return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
		}
	}
	c.fields[f.ID] = f.Clone()
	return nil
}

// RemoveField удаляет поле.
func (c *Catalog) RemoveField(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fields[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, id)
	}
	delete(c.fields, id)
	ids := c.byTable[f.TableID]
	for i, x := range ids {
		if x == id {
			c.byTable[f.TableID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (c *Catalog) Table(id string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// TableByName — регистронезависимый поиск таблицы по имени.
func (c *Catalog) TableByName(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nl := strings.ToLower(strings.TrimSpace(name))
	for _, t := range c.tables {
		if strings.ToLower(t.Name) == nl {
			cp := *t
			return &cp, true
		}
	}
	return nil, false
}

// Tables — таблицы, отсортированные по имени.
func (c *Catalog) Tables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) FieldByID(id string) (*Field, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fields[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// FieldByName — точное совпадение имени в таблице.
func (c *Catalog) FieldByName(tableID, name string) (*Field, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fieldByNameLocked(tableID, name)
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

func (c *Catalog) fieldByNameLocked(tableID, name string) (*Field, bool) {
	for _, id := range c.byTable[tableID] {
		if f := c.fields[id]; f != nil && f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldsOf — поля таблицы в порядке создания.
func (c *Catalog) FieldsOf(tableID string) []*Field {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byTable[tableID]
	out := make([]*Field, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.fields[id].Clone())
	}
	return out
}

// PrimaryField — первичное поле таблицы; без явного — первое созданное.
func (c *Catalog) PrimaryField(tableID string) (*Field, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byTable[tableID]
	for _, id := range ids {
		if f := c.fields[id]; f.Primary {
			return f.Clone(), true
		}
	}
	if len(ids) > 0 {
		return c.fields[ids[0]].Clone(), true
	}
	return nil, false
}

// Clone — глубокая копия каталога с общим (потокобезопасным) источником ID.
func (c *Catalog) Clone() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := &Catalog{
		tables:  make(map[string]*Table, len(c.tables)),
		fields:  make(map[string]*Field, len(c.fields)),
		byTable: make(map[string][]string, len(c.byTable)),
		entropy: c.entropy,
	}
	for id, t := range c.tables {
		tt := *t
		cp.tables[id] = &tt
	}
	for id, f := range c.fields {
		cp.fields[id] = f.Clone()
	}
	for id, ids := range c.byTable {
		cp.byTable[id] = append([]string(nil), ids...)
	}
	return cp
}

// Names — имена полей таблицы в порядке создания.
func (c *Catalog) Names(tableID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byTable[tableID]))
	for _, id := range c.byTable[tableID] {
		out = append(out, c.fields[id].Name)
	}
	return out
}
