package dsl

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadWorkspace читает один файл рабочей области. Неизвестные ключи — ошибка.
func LoadWorkspace(path string) (*Workspace, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ws Workspace
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&ws); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := ws.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ws, nil
}

// LoadAll собирает рабочую область из всех *.yaml / *.yml под root (файлы
// по алфавиту). Таблица с одним именем в двух файлах — ошибка.
func LoadAll(root string) (*Workspace, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	result := &Workspace{}
	seen := map[string]string{}
	for _, path := range paths {
		ws, err := LoadWorkspace(path)
		if err != nil {
			return nil, err
		}
		for _, t := range ws.Tables {
			if prev, exists := seen[t.Name]; exists {
				return nil, fmt.Errorf("duplicate table %q (files: %s, %s)", t.Name, prev, path)
			}
			seen[t.Name] = path
			result.Tables = append(result.Tables, t)
		}
	}
	return result, nil
}

// Load — файл или каталог.
func Load(path string) (*Workspace, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return LoadAll(path)
	}
	return LoadWorkspace(path)
}

func (w *Workspace) validate() error {
	tables := map[string]struct{}{}
	for _, t := range w.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("table without name")
		}
		if _, dup := tables[t.Name]; dup {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		tables[t.Name] = struct{}{}
		fields := map[string]struct{}{}
		for _, f := range t.Fields {
			if strings.TrimSpace(f.Name) == "" {
				return fmt.Errorf("%s: field without name", t.Name)
			}
			if _, dup := fields[f.Name]; dup {
				return fmt.Errorf("%s: duplicate field %q", t.Name, f.Name)
			}
			fields[f.Name] = struct{}{}
			kinds := 0
			for _, set := range []bool{f.Type != "", f.Relation != "", f.Formula != nil} {
				if set {
					kinds++
				}
			}
			if kinds != 1 {
				return fmt.Errorf("%s.%s: exactly one of type, relation, formula is required", t.Name, f.Name)
			}
		}
	}
	return nil
}
