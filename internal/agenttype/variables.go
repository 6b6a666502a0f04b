package agenttype

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
)

// Definition is a single variable's schema: description, required flag,
// optional default, optional variant allow-list, kind, and (for file kinds)
// the relative file_path used during materialization.
type Definition struct {
	Description string
	Required    bool
	Default     interface{}
	Variants    []interface{}
	Kind        Kind
	FilePath    string
}

// Node is one position in the variable tree: either a branch (Children
// non-nil) or a leaf pairing a Definition with its resolved Value. Dotted
// names are tree paths joined with ".", so "backoff.delay" is
// Children["backoff"].Children["delay"].
type Node struct {
	Def      *Definition
	Value    *Value
	Children map[string]*Node
}

func NewBranch() *Node {
	return &Node{Children: map[string]*Node{}}
}

func NewLeaf(def *Definition) *Node {
	return &Node{Def: def}
}

func (n *Node) IsLeaf() bool {
	return n.Def != nil
}

// FillWithValues deep-merges a YAML values mapping into the tree,
// type-checking each leaf against its declared kind and rejecting unknown
// keys. Variants are only enforced here, against user-supplied values —
// never against defaults (see ApplyDefaults).
func (n *Node) FillWithValues(values map[string]interface{}) error {
	for key, raw := range values {
		child, ok := n.Children[key]
		if !ok {
			return &UnknownKey{Name: key}
		}
		if child.IsLeaf() {
			nested, isMap := raw.(map[string]interface{})
			if child.Def.Kind == KindMapString || child.Def.Kind == KindMapFile {
				if !isMap {
					return &ValueNotParseableFromString{Name: key, Value: fmt.Sprintf("%v", raw), Kind: string(child.Def.Kind)}
				}
				val, err := coerceScalar(child.Def, nested, key)
				if err != nil {
					return err
				}
				if err := checkVariant(child.Def, raw, key); err != nil {
					return err
				}
				child.Value = val
				continue
			}
			val, err := coerceScalar(child.Def, raw, key)
			if err != nil {
				return err
			}
			if err := checkVariant(child.Def, raw, key); err != nil {
				return err
			}
			child.Value = val
		} else {
			nested, ok := raw.(map[string]interface{})
			if !ok {
				return &ValueNotParseableFromString{Name: key, Value: fmt.Sprintf("%v", raw), Kind: "object"}
			}
			if err := child.FillWithValues(nested); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyDefaults fills any still-empty leaf from its declared default,
// without variant checking — a default outside the variant set is accepted
// and passed through unchanged, per spec.
func (n *Node) ApplyDefaults() error {
	for _, child := range n.Children {
		if child.IsLeaf() {
			if child.Value == nil && child.Def.Default != nil {
				val, err := coerceScalar(child.Def, child.Def.Default, "")
				if err != nil {
					return err
				}
				child.Value = val
			}
			continue
		}
		if err := child.ApplyDefaults(); err != nil {
			return err
		}
	}
	return nil
}

// Flatten walks the tree and returns every leaf keyed by its dotted name.
func (n *Node) Flatten() map[string]*Node {
	out := map[string]*Node{}
	n.flatten("", out)
	return out
}

func (n *Node) flatten(prefix string, out map[string]*Node) {
	for name, child := range n.Children {
		dotted := name
		if prefix != "" {
			dotted = prefix + "." + name
		}
		if child.IsLeaf() {
			out[dotted] = child
		} else {
			child.flatten(dotted, out)
		}
	}
}

// ExtendFilePath mutates every file or map[string]file final value to
// prefix base onto its relative path.
func (n *Node) ExtendFilePath(base string) {
	for _, leaf := range n.Flatten() {
		if leaf.Value == nil {
			continue
		}
		switch leaf.Def.Kind {
		case KindFile:
			leaf.Value.File.Path = filepath.Join(base, leaf.Value.File.Path)
		case KindMapFile:
			for k, e := range leaf.Value.MapFile {
				e.Path = filepath.Join(base, e.Path)
				leaf.Value.MapFile[k] = e
			}
		}
	}
}

// CheckAllPopulated errors with the sorted list of unpopulated required
// variable names.
func (n *Node) CheckAllPopulated() error {
	var missing []string
	for dotted, leaf := range n.Flatten() {
		if leaf.Def.Required && leaf.Value == nil {
			missing = append(missing, dotted)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValuesNotPopulated{Names: missing}
	}
	return nil
}

func checkVariant(def *Definition, raw interface{}, name string) error {
	if len(def.Variants) == 0 {
		return nil
	}
	for _, allowed := range def.Variants {
		if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", raw) {
			return nil
		}
	}
	return &InvalidVariant{Name: name, Value: raw, Allowed: def.Variants}
}

func coerceScalar(def *Definition, raw interface{}, name string) (*Value, error) {
	switch def.Kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, &ValueNotParseableFromString{Name: name, Value: fmt.Sprintf("%v", raw), Kind: string(KindString)}
		}
		return &Value{Str: s}, nil
	case KindNumber:
		n, err := coerceNumber(raw)
		if err != nil {
			return nil, &ValueNotParseableFromString{Name: name, Value: fmt.Sprintf("%v", raw), Kind: string(KindNumber)}
		}
		return &Value{Num: n}, nil
	case KindBool:
		b, err := coerceBool(raw)
		if err != nil {
			return nil, &ValueNotParseableFromString{Name: name, Value: fmt.Sprintf("%v", raw), Kind: string(KindBool)}
		}
		return &Value{Bool: b}, nil
	case KindYAML:
		return &Value{YAML: raw}, nil
	case KindFile:
		s, ok := raw.(string)
		if !ok {
			return nil, &ValueNotParseableFromString{Name: name, Value: fmt.Sprintf("%v", raw), Kind: string(KindFile)}
		}
		return &Value{File: FileEntry{Content: s, Path: def.FilePath}}, nil
	case KindMapString:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &ValueNotParseableFromString{Name: name, Value: fmt.Sprintf("%v", raw), Kind: string(KindMapString)}
		}
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, &ValueNotParseableFromString{Name: name + "." + k, Value: fmt.Sprintf("%v", v), Kind: "string"}
			}
			out[k] = s
		}
		return &Value{MapStr: out}, nil
	case KindMapFile:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &ValueNotParseableFromString{Name: name, Value: fmt.Sprintf("%v", raw), Kind: string(KindMapFile)}
		}
		out := make(map[string]FileEntry, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, &ValueNotParseableFromString{Name: name + "." + k, Value: fmt.Sprintf("%v", v), Kind: "string"}
			}
			out[k] = FileEntry{Content: s, Path: filepath.Join(def.FilePath, k)}
		}
		return &Value{MapFile: out}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q for %q", def.Kind, name)
	}
}

func coerceNumber(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("not a number: %v", raw)
	}
}

func coerceBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("not a bool: %v", raw)
	}
}
