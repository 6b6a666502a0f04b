package agenttype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func strNode(v string) *Node {
	return &Node{Def: &Definition{Kind: KindString}, Value: &Value{Str: v}}
}

func TestTemplateString(t *testing.T) {
	vars := VarSet{
		{NS: NamespaceVar, Name: "log_level"}: strNode("debug"),
		{NS: NamespaceSub, Name: "id"}:        strNode("abc123"),
	}

	out, err := TemplateString("level=${nr-var:log_level} id=${nr-sub:id}", vars)
	require.NoError(t, err)
	assert.Equal(t, "level=debug id=abc123", out)
}

func TestTemplateStringMissingKey(t *testing.T) {
	_, err := TemplateString("${nr-var:missing}", VarSet{})
	require.Error(t, err)
	var mk *MissingTemplateKey
	assert.ErrorAs(t, err, &mk)
}

func TestTemplateYAMLNativeSubstitution(t *testing.T) {
	yamlDoc := "count: ${nr-var:count}\n"
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(yamlDoc), &doc))

	vars := VarSet{
		{NS: NamespaceVar, Name: "count"}: {
			Def:   &Definition{Kind: KindNumber},
			Value: &Value{Num: 7},
		},
	}
	require.NoError(t, TemplateYAML(&doc, vars))

	var out map[string]interface{}
	require.NoError(t, doc.Decode(&out))
	assert.Equal(t, 7, out["count"])
}

func TestTemplateYAMLPlainSubstitutionStaysString(t *testing.T) {
	yamlDoc := "msg: hello ${nr-var:name}\n"
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(yamlDoc), &doc))

	vars := VarSet{
		{NS: NamespaceVar, Name: "name"}: strNode("world"),
	}
	require.NoError(t, TemplateYAML(&doc, vars))

	var out map[string]interface{}
	require.NoError(t, doc.Decode(&out))
	assert.Equal(t, "hello world", out["msg"])
}
