package agenttype

import "fmt"

// Kind enumerates the seven variable shapes an agent type can declare. Kept as
// an explicit sum type (string enum + switch-driven value slot) rather than
// a single stringly-typed value, so that each variant's final-value slot is
// unambiguous at the type level — see DESIGN.md.
type Kind string

const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBool      Kind = "bool"
	KindYAML      Kind = "yaml"
	KindFile      Kind = "file"
	KindMapString Kind = "map[string]string"
	KindMapFile   Kind = "map[string]file"
)

func (k Kind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindBool, KindYAML, KindFile, KindMapString, KindMapFile:
		return true
	default:
		return false
	}
}

// IsFile reports whether this kind carries a materialization path.
func (k Kind) IsFile() bool {
	return k == KindFile || k == KindMapFile
}

func (k Kind) String() string {
	return string(k)
}

// FileEntry is the content/path pair carried by a single file or a single
// entry of a map[string]file variable.
type FileEntry struct {
	Content string
	// Path starts as the definition's relative file_path and is extended
	// with the per-sub-agent materialization base by extend_file_path.
	Path string
}

// Value holds the resolved, kind-tagged final value of a Variable. Only the
// field matching Def.Kind is meaningful; the parsed value is kept
// kind-specific instead of a single interface{} blob.
type Value struct {
	Str     string
	Num     float64
	Bool    bool
	YAML    interface{}
	File    FileEntry
	MapStr  map[string]string
	MapFile map[string]FileEntry
}

// Native returns the value as a plain Go value suitable for YAML
// re-encoding (used by template engine rule 2, the single-token anchor
// substitution that preserves native shape).
func (v *Value) Native(kind Kind) interface{} {
	switch kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindYAML:
		return v.YAML
	case KindFile:
		return v.File.Path
	case KindMapString:
		return v.MapStr
	case KindMapFile:
		paths := make(map[string]string, len(v.MapFile))
		for k, e := range v.MapFile {
			paths[k] = e.Path
		}
		return paths
	default:
		return nil
	}
}

// AsString stringifies the value for plain-string template substitution
// (template engine rule 1).
func (v *Value) AsString(kind Kind) string {
	switch kind {
	case KindString:
		return v.Str
	case KindNumber:
		return formatNumber(v.Num)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindFile:
		return v.File.Path
	default:
		return fmt.Sprintf("%v", v.Native(kind))
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
