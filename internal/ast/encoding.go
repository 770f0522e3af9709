package ast

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Tree — контейнер корня дерева с JSON/YAML-кодированием. Так дерево
// хранится в jsonb рядом с полем и описывается в файлах рабочей области:
//
//	{op: "+", left: {field: Price}, right: {number: "1"}}
//	{call: concat, args: [{text: "a"}, {lookup: {through: Tasks, field: Name}}]}
type Tree struct {
	Root Node
}

type wireLookup struct {
	Through string `json:"through" yaml:"through"`
	Field   string `json:"field" yaml:"field"`
}

type wire struct {
	Text    *string     `json:"text,omitempty" yaml:"text,omitempty"`
	Number  *string     `json:"number,omitempty" yaml:"number,omitempty"`
	Boolean *bool       `json:"boolean,omitempty" yaml:"boolean,omitempty"`
	Field   *string     `json:"field,omitempty" yaml:"field,omitempty"`
	Lookup  *wireLookup `json:"lookup,omitempty" yaml:"lookup,omitempty"`
	Call    string      `json:"call,omitempty" yaml:"call,omitempty"`
	Args    []*wire     `json:"args,omitempty" yaml:"args,omitempty"`
	Op      string      `json:"op,omitempty" yaml:"op,omitempty"`
	Left    *wire       `json:"left,omitempty" yaml:"left,omitempty"`
	Right   *wire       `json:"right,omitempty" yaml:"right,omitempty"`
}

var errEmptyNode = errors.New("empty formula node")

func toWire(n Node) (*wire, error) {
	switch x := n.(type) {
	case Literal:
		v := x.Value
		switch x.Kind {
		case LiteralText:
			return &wire{Text: &v}, nil
		case LiteralNumber:
			return &wire{Number: &v}, nil
		case LiteralBoolean:
			b := v == "true"
			return &wire{Boolean: &b}, nil
		}
		return nil, fmt.Errorf("unknown literal kind %q", x.Kind)
	case Field:
		name := x.Name
		return &wire{Field: &name}, nil
	case Lookup:
		return &wire{Lookup: &wireLookup{Through: x.Through, Field: x.Name}}, nil
	case Call:
		w := &wire{Call: x.Func, Args: make([]*wire, 0, len(x.Args))}
		for _, a := range x.Args {
			aw, err := toWire(a)
			if err != nil {
				return nil, err
			}
			w.Args = append(w.Args, aw)
		}
		return w, nil
	case Binary:
		l, err := toWire(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := toWire(x.Right)
		if err != nil {
			return nil, err
		}
		return &wire{Op: string(x.Op), Left: l, Right: r}, nil
	case nil:
		return nil, errEmptyNode
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

func fromWire(w *wire) (Node, error) {
	if w == nil {
		return nil, errEmptyNode
	}
	switch {
	case w.Text != nil:
		return Text(*w.Text), nil
	case w.Number != nil:
		return Number(*w.Number), nil
	case w.Boolean != nil:
		return Bool(*w.Boolean), nil
	case w.Field != nil:
		return Field{Name: *w.Field}, nil
	case w.Lookup != nil:
		if w.Lookup.Through == "" || w.Lookup.Field == "" {
			return nil, fmt.Errorf("lookup needs both through and field")
		}
		return Lookup{Through: w.Lookup.Through, Name: w.Lookup.Field}, nil
	case w.Call != "":
		args := make([]Node, 0, len(w.Args))
		for i, a := range w.Args {
			n, err := fromWire(a)
			if err != nil {
				return nil, fmt.Errorf("%s arg %d: %w", w.Call, i+1, err)
			}
			args = append(args, n)
		}
		return Call{Func: w.Call, Args: args}, nil
	case w.Op != "":
		op := Operator(w.Op)
		if _, ok := operators[op]; !ok {
			return nil, fmt.Errorf("unknown operator %q", w.Op)
		}
		l, err := fromWire(w.Left)
		if err != nil {
			return nil, fmt.Errorf("left of %s: %w", w.Op, err)
		}
		r, err := fromWire(w.Right)
		if err != nil {
			return nil, fmt.Errorf("right of %s: %w", w.Op, err)
		}
		return Binary{Op: op, Left: l, Right: r}, nil
	}
	return nil, errEmptyNode
}

func (t Tree) MarshalJSON() ([]byte, error) {
	w, err := toWire(t.Root)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (t *Tree) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	n, err := fromWire(&w)
	if err != nil {
		return err
	}
	t.Root = n
	return nil
}

func (t Tree) MarshalYAML() (interface{}, error) {
	return toWire(t.Root)
}

func (t *Tree) UnmarshalYAML(value *yaml.Node) error {
	var w wire
	if err := value.Decode(&w); err != nil {
		return err
	}
	n, err := fromWire(&w)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	t.Root = n
	return nil
}

// MarshalNode / UnmarshalNode — JSON-форма узла для хранения в jsonb.
func MarshalNode(n Node) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	return json.Marshal(Tree{Root: n})
}

func UnmarshalNode(b []byte) (Node, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var t Tree
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return t.Root, nil
}
