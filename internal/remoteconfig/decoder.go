// Package remoteconfig holds the wire shape of an incoming remote-config
// event (spec.md §4.4, §6) and the accessors the validation pipeline uses
// to pull a single body/signature out of it.
package remoteconfig

import "fmt"

type State string

const (
	StateApplying State = "applying"
	StateApplied  State = "applied"
	StateFailed   State = "failed"
)

// Signature is the algorithm/key-id/payload triple carried alongside a
// remote config, gated by an agent type's required capabilities (C5).
type Signature struct {
	Algorithm string
	KeyID     string
	PayloadB64 string
}

// Config is the decoded remote-config event: a stable hash, a state, and
// zero-or-more named YAML bodies plus an optional signature.
type Config struct {
	Hash      string
	State     State
	FailedMsg string
	Body      map[string][]byte
	Signature *Signature
}

// GetUnique returns the single concatenated body, or an error if more (or
// fewer) than one map entry exists.
func (c *Config) GetUnique() ([]byte, string, error) {
	if len(c.Body) != 1 {
		return nil, "", fmt.Errorf("expected exactly one configuration entry, got %d", len(c.Body))
	}
	for name, body := range c.Body {
		return body, name, nil
	}
	panic("unreachable")
}

// GetUniqueSignature returns the single signature block, or an error if
// more than one exists. A config with no signature returns (nil, nil).
func (c *Config) GetUniqueSignature() (*Signature, error) {
	// There is at most one Signature field today; this accessor exists so
	// callers have one place to extend to multiple signature blocks
	// without touching C10's call sites, mirroring GetUnique's shape.
	return c.Signature, nil
}

// IsEmpty reports a "reset to local" remote config: a config with no body
// entries at all. It does not look at State.
func (c *Config) IsEmpty() bool {
	return len(c.Body) == 0
}
