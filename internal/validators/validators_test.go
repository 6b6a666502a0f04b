package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexDenylistRejectsMatch(t *testing.T) {
	d, err := NewRegexDenylist(`exec:`, `(?i)binary_path`)
	require.NoError(t, err)

	err = d.Validate([]byte("integrations:\n  - name: foo\n    exec: /bin/sh\n"))
	require.Error(t, err)
	var ic *InvalidConfig
	assert.ErrorAs(t, err, &ic)
}

func TestRegexDenylistAllowsCleanBody(t *testing.T) {
	d, err := NewRegexDenylist(`exec:`)
	require.NoError(t, err)
	assert.NoError(t, d.Validate([]byte("log_level: debug\n")))
}

func TestInfraAgentDenylist(t *testing.T) {
	chain, err := InfraAgentDenylist()
	require.NoError(t, err)

	assert.Error(t, chain.Validate([]byte("plugin: nri-flex\n")))
	assert.NoError(t, chain.Validate([]byte("log_level: info\n")))
}

func TestRepositoryAllowList(t *testing.T) {
	r := NewRepositoryAllowList("newrelic/infrastructure-bundle", "newrelic/nrdot-collector")

	assert.NoError(t, r.Validate([]byte("repository: newrelic/infrastructure-bundle\n")))
	err := r.Validate([]byte("repository: evil/corp\n"))
	require.Error(t, err)
	var ic *InvalidConfig
	assert.ErrorAs(t, err, &ic)
}

func TestRepositoryAllowListIgnoresUnrelatedLines(t *testing.T) {
	r := NewRepositoryAllowList("ok/repo")
	assert.NoError(t, r.Validate([]byte("name: foo\nversion: 1.0.0\n")))
}

func TestRepositoryAllowListRejectsCommentedRepository(t *testing.T) {
	// Mirrors original_source's "valid repository and ignore comment" case:
	// the allowed repository appears on its own line, but a disallowed one
	// also appears inside a comment and trailing another line. The
	// content-blind scan matches both occurrences, so the body is rejected.
	r := NewRepositoryAllowList("newrelic/nr-otel-collector")
	body := []byte(`
config: |
  image:
    repository: newrelic/nr-otel-collector
    pullPolicy: IfNotPresent
    # repository: fake/fake
    tag: "0.8.3" # repository: fake/fake
`)
	err := r.Validate(body)
	require.Error(t, err)
	var ic *InvalidConfig
	assert.ErrorAs(t, err, &ic)
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	d1, err := NewRegexDenylist(`deny1`)
	require.NoError(t, err)
	d2, err := NewRegexDenylist(`deny2`)
	require.NoError(t, err)
	chain := &Chain{Validators: []Validator{d1, d2}}

	err = chain.Validate([]byte("deny1 and deny2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deny1")
}

func TestRegistryFallsBackToEmptyChain(t *testing.T) {
	reg := NewRegistry()
	assert.NoError(t, reg.For("unregistered.fqn").Validate([]byte("anything")))
}
