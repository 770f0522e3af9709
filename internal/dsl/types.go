package dsl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sheetcore/internal/formula"
	"sheetcore/internal/reference"
)

var (
	typeRe   = regexp.MustCompile(`^([a-z_]+)(\[[^\]]*\])?(.*)$`)
	selectRe = regexp.MustCompile(`^\[(.*)\]$`)
	optionRe = regexp.MustCompile(`^([^:]+?)(?::([A-Za-z0-9#]+))?$`)
)

// splitOptionTokens делит "k=v k2='v 2' flag" на токены, не рвёт по пробелам внутри кавычек/скобок.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// parseOptions — токены в map; флаг без значения → "true", кавычки снимаются.
func parseOptions(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	raw = strings.ReplaceAll(raw, ",", " ")
	opts := map[string]string{}
	for _, tok := range splitOptionTokens(raw) {
		if !strings.Contains(tok, "=") {
			opts[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		if len(v) >= 2 {
			if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
				v = v[1 : len(v)-1]
			}
		}
		if k != "" {
			opts[k] = v
		}
	}
	return opts
}

// ParseType разбирает описание типа обычного поля:
//
//	text | boolean | link | file
//	number places=2
//	date format=EU time tz=Europe/Moscow
//	duration format='d h'
//	single_select[todo, done:green] | multiple_select catalog=tags
//
// Флаг nullable допустим у любого типа. catalog= берёт варианты из справочника.
func ParseType(decl string, catalogs map[string]reference.Catalog) (formula.Type, error) {
	m := typeRe.FindStringSubmatch(strings.TrimSpace(decl))
	if m == nil {
		return nil, fmt.Errorf("bad type %q", decl)
	}
	base, list := m[1], m[2]
	opts := parseOptions(m[3])
	nullable := opts["nullable"] == "true"
	delete(opts, "nullable")

	if list != "" && base != "single_select" && base != "multiple_select" {
		return nil, fmt.Errorf("type %s does not take a list", base)
	}

	take := func(keys ...string) error {
		allowed := map[string]bool{}
		for _, k := range keys {
			allowed[k] = true
		}
		for k := range opts {
			if !allowed[k] {
				return fmt.Errorf("type %s: unknown option %q", base, k)
			}
		}
		return nil
	}

	var t formula.Type
	switch base {
	case "text", "boolean", "link", "file":
		if err := take(); err != nil {
			return nil, err
		}
	}
	switch base {
	case "text":
		t = formula.Text{}
	case "boolean":
		t = formula.Boolean{}
	case "link":
		t = formula.Link{}
	case "file":
		t = formula.File{}
	case "number":
		if err := take("places"); err != nil {
			return nil, err
		}
		n := formula.Number{}
		if v, ok := opts["places"]; ok {
			p, err := strconv.Atoi(v)
			if err != nil || p < 0 || p > formula.MaxDecimalPlaces {
				return nil, fmt.Errorf("number: places must be 0..%d, got %q", formula.MaxDecimalPlaces, v)
			}
			n.DecimalPlaces = p
		}
		t = n
	case "date":
		if err := take("format", "time", "tz"); err != nil {
			return nil, err
		}
		d := formula.Date{Format: formula.DateFormatISO, IncludeTime: opts["time"] == "true", Timezone: opts["tz"]}
		if v, ok := opts["format"]; ok {
			switch strings.ToUpper(v) {
			case formula.DateFormatISO, formula.DateFormatUS, formula.DateFormatEU:
				d.Format = strings.ToUpper(v)
			default:
				return nil, fmt.Errorf("date: unknown format %q", v)
			}
		}
		t = d
	case "duration":
		if err := take("format"); err != nil {
			return nil, err
		}
		d := formula.Duration{Format: formula.DurationFormatHM}
		if v, ok := opts["format"]; ok {
			switch v {
			case formula.DurationFormatHM, formula.DurationFormatHMS, formula.DurationFormatDH, formula.DurationFormatDHMM:
				d.Format = v
			default:
				return nil, fmt.Errorf("duration: unknown format %q", v)
			}
		}
		t = d
	case "single_select", "multiple_select":
		if err := take("catalog"); err != nil {
			return nil, err
		}
		options, err := selectOptions(list, opts["catalog"], catalogs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", base, err)
		}
		if base == "single_select" {
			t = formula.SingleSelect{Options: options}
		} else {
			t = formula.MultipleSelect{Options: options}
		}
	default:
		return nil, fmt.Errorf("unknown type %q", base)
	}
	if nullable {
		t = t.WithNullable(true)
	}
	return t, nil
}

// selectOptions — варианты из списка [a, b:color] или из справочника.
func selectOptions(list, catalog string, catalogs map[string]reference.Catalog) ([]formula.SelectOption, error) {
	switch {
	case list != "" && catalog != "":
		return nil, fmt.Errorf("use either an inline list or catalog=")
	case catalog != "":
		c, ok := catalogs[catalog]
		if !ok {
			return nil, fmt.Errorf("unknown catalog %q", catalog)
		}
		return c.Options(), nil
	case list == "":
		return nil, nil
	}
	inside := selectRe.FindStringSubmatch(list)[1]
	var out []formula.SelectOption
	for _, p := range strings.Split(inside, ",") {
		s := strings.Trim(strings.TrimSpace(p), `"'`)
		if s == "" {
			continue
		}
		m := optionRe.FindStringSubmatch(s)
		if m == nil {
			return nil, fmt.Errorf("bad option %q", s)
		}
		out = append(out, formula.SelectOption{ID: len(out) + 1, Value: strings.TrimSpace(m[1]), Color: m[2]})
	}
	return out, nil
}
