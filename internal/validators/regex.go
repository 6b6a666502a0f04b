// Package validators implements the per-agent-type content denylists of
// spec.md §4.6, run against the unique body extracted by C4/C10 before a
// remote config is allowed to become effective.
package validators

import (
	"fmt"
	"regexp"
)

// InvalidConfig is distinct from a signature error so C10 can report it
// without touching the verifier's error kinds.
type InvalidConfig struct {
	Reason string
}

func (e *InvalidConfig) Error() string { return fmt.Sprintf("invalid config: %s", e.Reason) }

// Validator inspects a decoded config body and returns InvalidConfig (or a
// wrapping error) if the body is rejected.
type Validator interface {
	Validate(body []byte) error
}

// RegexDenylist rejects any body matching any of its compiled patterns —
// deliberately content-blind: it runs on the concatenated body without
// structural awareness, so a denied string inside a YAML comment still
// trips it (see DESIGN.md Open Question, carried over from spec.md §9).
type RegexDenylist struct {
	patterns []*regexp.Regexp
}

func NewRegexDenylist(patterns ...string) (*RegexDenylist, error) {
	d := &RegexDenylist{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile denylist pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

func (d *RegexDenylist) Validate(body []byte) error {
	for _, re := range d.patterns {
		if re.Match(body) {
			return &InvalidConfig{Reason: fmt.Sprintf("body matches denied pattern %q", re.String())}
		}
	}
	return nil
}

// Chain runs every validator in order, failing on the first rejection.
type Chain struct {
	Validators []Validator
}

func (c *Chain) Validate(body []byte) error {
	for _, v := range c.Validators {
		if err := v.Validate(body); err != nil {
			return err
		}
	}
	return nil
}

// Registry maps an agent-type FQN to its validator chain. The sub-agent
// runtime does not consult it: each SubAgent receives one Chain via Deps.
type Registry struct {
	byFQN map[string]*Chain
}

func NewRegistry() *Registry {
	return &Registry{byFQN: map[string]*Chain{}}
}

func (r *Registry) Register(fqn string, chain *Chain) {
	r.byFQN[fqn] = chain
}

func (r *Registry) For(fqn string) *Chain {
	if c, ok := r.byFQN[fqn]; ok {
		return c
	}
	return &Chain{}
}

// InfraAgentDenylist is the denylist documented by spec.md §8 test 6: it
// rejects bodies naming the nri-flex plugin, declaring an exec: block,
// referencing a BINARY_PATH override (case-insensitive), or declaring a
// command: key — all of them
// footguns that let a remote config smuggle in arbitrary command
// execution via the infrastructure agent's integration mechanism.
func InfraAgentDenylist() (*Chain, error) {
	d, err := NewRegexDenylist(
		`nri-flex`,
		`exec:`,
		`(?i)binary_path`,
		`command:`,
	)
	if err != nil {
		return nil, err
	}
	return &Chain{Validators: []Validator{d}}, nil
}
