package record

import (
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// ErrNonFinite is returned for YAML numbers JSON cannot represent (.inf, .nan).
var ErrNonFinite = errors.New("non-finite number")

// UnmarshalYAML implements yaml.Unmarshaler, preserving document key order.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	v, err := valueFromNode(node)
	if err != nil {
		return err
	}
	obj, ok := v.Obj()
	if !ok {
		return ErrNotObject
	}
	*f = *obj
	return nil
}

func valueFromNode(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return valueFromNode(n.Content[0])
	case yaml.AliasNode:
		return valueFromNode(n.Alias)
	case yaml.MappingNode:
		f := New()
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind != yaml.ScalarNode {
				return Value{}, fmt.Errorf("line %d: mapping key must be a scalar", key.Line)
			}
			val, err := valueFromNode(n.Content[i+1])
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", key.Value, err)
			}
			f.Set(key.Value, val)
		}
		return Object(f), nil
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, item := range n.Content {
			val, err := valueFromNode(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, val)
		}
		return List(items...), nil
	case yaml.ScalarNode:
		return scalarFromNode(n)
	default:
		return Value{}, fmt.Errorf("line %d: unsupported yaml node", n.Line)
	}
}

func scalarFromNode(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case "!!float":
		var fl float64
		if err := n.Decode(&fl); err != nil {
			return Value{}, err
		}
		if math.IsInf(fl, 0) || math.IsNaN(fl) {
			return Value{}, fmt.Errorf("line %d: %w: %s", n.Line, ErrNonFinite, n.Value)
		}
		return Float(fl), nil
	default:
		return String(n.Value), nil
	}
}
