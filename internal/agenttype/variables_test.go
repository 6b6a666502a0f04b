package agenttype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree() *Node {
	root := NewBranch()
	root.Children["log_level"] = NewLeaf(&Definition{
		Kind:     KindString,
		Required: true,
		Variants: []interface{}{"debug", "info", "warn"},
	})
	root.Children["backoff"] = NewBranch()
	root.Children["backoff"].Children["delay"] = NewLeaf(&Definition{
		Kind:    KindString,
		Default: "5s",
	})
	root.Children["port"] = NewLeaf(&Definition{
		Kind:     KindNumber,
		Required: true,
	})
	return root
}

func TestFillWithValuesAndFlatten(t *testing.T) {
	root := newTree()
	err := root.FillWithValues(map[string]interface{}{
		"log_level": "info",
		"port":      8080,
		"backoff":   map[string]interface{}{"delay": "10s"},
	})
	require.NoError(t, err)
	require.NoError(t, root.ApplyDefaults())
	require.NoError(t, root.CheckAllPopulated())

	flat := root.Flatten()
	assert.Equal(t, "info", flat["log_level"].Value.Str)
	assert.Equal(t, float64(8080), flat["port"].Value.Num)
	assert.Equal(t, "10s", flat["backoff.delay"].Value.Str)
}

func TestFillWithValuesRejectsInvalidVariant(t *testing.T) {
	root := newTree()
	err := root.FillWithValues(map[string]interface{}{"log_level": "trace", "port": 1})
	require.Error(t, err)
	var iv *InvalidVariant
	assert.ErrorAs(t, err, &iv)
}

func TestFillWithValuesRejectsUnknownKey(t *testing.T) {
	root := newTree()
	err := root.FillWithValues(map[string]interface{}{"nope": "x"})
	require.Error(t, err)
	var uk *UnknownKey
	assert.ErrorAs(t, err, &uk)
}

func TestApplyDefaultsSkipsVariantCheck(t *testing.T) {
	root := newTree()
	// The default "5s" is deliberately outside the declared variants.
	root.Children["backoff"].Children["delay"].Def.Variants = []interface{}{"1s", "2s"}
	require.NoError(t, root.FillWithValues(map[string]interface{}{"log_level": "debug", "port": 1}))
	require.NoError(t, root.ApplyDefaults())
	assert.Equal(t, "5s", root.Flatten()["backoff.delay"].Value.Str)
}

func TestCheckAllPopulatedReportsMissing(t *testing.T) {
	root := newTree()
	require.NoError(t, root.FillWithValues(map[string]interface{}{"log_level": "debug"}))
	err := root.CheckAllPopulated()
	require.Error(t, err)
	var vnp *ValuesNotPopulated
	require.ErrorAs(t, err, &vnp)
	assert.Equal(t, []string{"port"}, vnp.Names)
}
