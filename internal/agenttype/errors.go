package agenttype

import "fmt"

// ValuesNotPopulated is returned by check_all_populated when one or more
// required variables have no final value after filling and defaulting.
type ValuesNotPopulated struct {
	Names []string
}

func (e *ValuesNotPopulated) Error() string {
	return fmt.Sprintf("values not populated for required variables: %v", e.Names)
}

// InvalidVariant is returned by fill_with_values when a user-supplied value
// is outside the definition's declared variants. Defaults outside the
// variant set are accepted and never produce this error.
type InvalidVariant struct {
	Name    string
	Value   interface{}
	Allowed []interface{}
}

func (e *InvalidVariant) Error() string {
	return fmt.Sprintf("value %v for %q is not one of the allowed variants %v", e.Value, e.Name, e.Allowed)
}

// ValueNotParseableFromString covers both C1 (a values-document scalar
// that cannot be coerced to the declared kind) and C2 (a restart-policy
// duration string that doesn't match the duration grammar).
type ValueNotParseableFromString struct {
	Name  string
	Value string
	Kind  string
}

func (e *ValueNotParseableFromString) Error() string {
	return fmt.Sprintf("value %q for %q is not parseable as %s", e.Value, e.Name, e.Kind)
}

// UnknownKey is returned by fill_with_values when the values document
// contains a key with no matching variable definition.
type UnknownKey struct {
	Name string
}

func (e *UnknownKey) Error() string {
	return fmt.Sprintf("unknown variable %q in values document", e.Name)
}

// MissingTemplateKey is returned by the template engine's plain-string pass
// when a token references a variable that does not exist in the namespaced
// set being templated.
type MissingTemplateKey struct {
	Token string
}

func (e *MissingTemplateKey) Error() string {
	return fmt.Sprintf("template key %q has no matching variable", e.Token)
}
