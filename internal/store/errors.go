package store

import (
	"errors"
	"fmt"
)

// ErrNotFound — запись, на которую ссылается операция, отсутствует.
var ErrNotFound = errors.New("not found")

func errMissingEdge(id string) error  { return fmt.Errorf("edge %s: %w", id, ErrNotFound) }
func errMissingField(id string) error { return fmt.Errorf("field %s: %w", id, ErrNotFound) }
func errMissingTable(id string) error { return fmt.Errorf("table %s: %w", id, ErrNotFound) }

func errDuplicateEdge(id string) error { return fmt.Errorf("duplicate edge %s", id) }
