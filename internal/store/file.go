package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockTimeout — сколько ждать блокировку файла состояния.
const lockTimeout = 5 * time.Second

// File — хранилище в памяти со снимком в JSON-файле. Пока File открыт,
// файл заблокирован (flock) от других процессов; каждая успешная
// транзакция сразу записывается на диск.
type File struct {
	*Memory
	path string
	lock *flock.Flock
}

// OpenFile блокирует path.lock и загружает состояние из path (если он есть).
func OpenFile(ctx context.Context, path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	lctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring state lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("timeout waiting for state lock %s", path)
	}

	f := &File{Memory: NewMemory(), path: path, lock: lock}
	f.Memory.commit = f.save
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		_ = lock.Unlock()
		return nil, err
	}
	st := newState()
	if err := json.Unmarshal(raw, st); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("state %s: %w", path, err)
	}
	f.Memory.state = st
	return f, nil
}

// save записывает состояние транзакции до её фиксации в памяти: если запись
// не удалась, транзакция не применяется.
func (f *File) save(st *State) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Close снимает блокировку файла.
func (f *File) Close() error {
	return f.lock.Unlock()
}
