package reference

import (
	"sort"

	"sheetcore/internal/formula"
)

// Catalog — справочник вариантов выбора для полей single/multiple select.
type Catalog struct {
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

type Item struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Color string `yaml:"color,omitempty"`
	Order int    `yaml:"order,omitempty"`
}

// Options — варианты выбора в порядке Order (при равенстве — как в файле).
// Значение варианта — Name, а без него Code; id нумеруются с 1.
func (c Catalog) Options() []formula.SelectOption {
	items := append([]Item(nil), c.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	out := make([]formula.SelectOption, 0, len(items))
	for i, it := range items {
		v := it.Name
		if v == "" {
			v = it.Code
		}
		out = append(out, formula.SelectOption{ID: i + 1, Value: v, Color: it.Color})
	}
	return out
}
