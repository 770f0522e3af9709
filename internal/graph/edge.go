// Package graph хранит и поддерживает граф зависимостей полей-формул.
//
// Ребро (dependant -> dependency) означает, что значение dependant зависит от
// dependency. Сломанное ребро (dependency пуст) помнит имя удалённой цели и
// восстанавливается, когда поле с этим именем появляется снова.
package graph

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Edge — ребро зависимости.
type Edge struct {
	ID           string `json:"id"`
	DependantID  string `json:"dependant_id"`
	DependencyID string `json:"dependency_id,omitempty"` // "" — ребро сломано
	ViaID        string `json:"via_id,omitempty"`        // поле-связь, если зависимость идёт через неё
	BrokenName   string `json:"broken_name,omitempty"`
}

// Broken — цель удалена, известно только её имя.
func (e Edge) Broken() bool { return e.DependencyID == "" }

// key — стабильный ключ пары (цель, связь) для сравнения наборов рёбер.
func (e Edge) key() string {
	if e.Broken() {
		return "b:" + e.BrokenName + "|v:" + e.ViaID
	}
	return "f:" + e.DependencyID + "|v:" + e.ViaID
}

var entropy = &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)}

// NewEdgeID — ULID для нового ребра.
func NewEdgeID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Tx — операции над рёбрами внутри одной транзакции хранилища.
// Все чтения видят изменения, сделанные ранее в этой же транзакции.
type Tx interface {
	// LockFields берёт блокировку на запись полей до конца транзакции.
	LockFields(ctx context.Context, ids ...string) error

	EdgesOf(ctx context.Context, dependantID string) ([]Edge, error)
	EdgesTo(ctx context.Context, dependencyID string) ([]Edge, error)
	EdgesVia(ctx context.Context, viaID string) ([]Edge, error)
	// BrokenEdges — сломанные рёбра с BrokenName == name.
	BrokenEdges(ctx context.Context, name string) ([]Edge, error)

	InsertEdges(ctx context.Context, edges []Edge) error
	UpdateEdges(ctx context.Context, edges []Edge) error
	DeleteEdges(ctx context.Context, ids []string) error
}

// Reacher — необязательная возможность хранилища ответить на вопрос
// достижимости одним запросом (например, рекурсивным CTE).
type Reacher interface {
	Reachable(ctx context.Context, from, to string) (bool, error)
}
