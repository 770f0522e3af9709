package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadCatalogs читает все справочники *.yaml / *.yml из папки dir.
func LoadCatalogs(dir string) (map[string]Catalog, error) {
	result := make(map[string]Catalog)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var cat Catalog
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", name, err)
		}
		// имя справочника — из cat.Name или из имени файла
		if cat.Name == "" {
			cat.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if _, dup := result[cat.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog %q (file: %s)", cat.Name, name)
		}
		result[cat.Name] = cat
	}
	return result, nil
}
