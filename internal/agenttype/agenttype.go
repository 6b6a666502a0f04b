package agenttype

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Variable environments an agent type may declare variables under. "common"
// variables are always included; "on_host" and "k8s" are included only for
// the matching deployment shape.
const (
	EnvCommon = "common"
	EnvOnHost = "on_host"
	EnvK8s    = "k8s"
)

// AgentType is the parsed agent-type document: metadata, a variable tree
// per environment, and the raw (un-templated) runtime-config template.
type AgentType struct {
	Name      string
	Namespace string
	Version   string

	Variables map[string]*Node // env -> variable tree

	// DeploymentTemplate is the parsed "deployment:" block, kept as a YAML
	// node tree so the template engine can apply rule 2's native-value
	// substitution before the final decode into a RuntimeConfig.
	DeploymentTemplate *yaml.Node

	// RequiredCapabilities gates whether the signature verifier (C5) runs
	// against remote configs for this agent type; see spec.md §4.5.
	RequiredCapabilities []string
}

// FQN is the agent type's fully qualified name: namespace/name:version.
func (at *AgentType) FQN() string {
	return fmt.Sprintf("%s/%s:%s", at.Namespace, at.Name, at.Version)
}

func (at *AgentType) HasCapability(cap string) bool {
	for _, c := range at.RequiredCapabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// IsHost reports whether the agent type declares on_host variables or its
// deployment template has an on_host block.
func (at *AgentType) IsHost() bool {
	_, ok := at.Variables[EnvOnHost]
	return ok || at.deploymentHas("on_host")
}

// IsCluster reports whether the agent type declares k8s variables or its
// deployment template has a k8s block.
func (at *AgentType) IsCluster() bool {
	_, ok := at.Variables[EnvK8s]
	return ok || at.deploymentHas("k8s")
}

func (at *AgentType) deploymentHas(key string) bool {
	if at.DeploymentTemplate == nil {
		return false
	}
	root := at.DeploymentTemplate
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			return true
		}
	}
	return false
}

// rawVariableDoc is one "variables:<env>:" block as decoded by
// gopkg.in/yaml.v3 into plain maps; buildTree tells leaves from branches by
// the presence of a "type" key.
type rawVariableDoc = map[string]interface{}

// ParseAgentType decodes an agent-type YAML document (see spec.md §6).
func ParseAgentType(data []byte) (*AgentType, error) {
	var doc struct {
		Name       string                    `yaml:"name"`
		Namespace  string                    `yaml:"namespace"`
		Version    string                    `yaml:"version"`
		Variables  map[string]rawVariableDoc `yaml:"variables"`
		Deployment yaml.Node                 `yaml:"deployment"`
		Capabilities struct {
			Required []string `yaml:"required"`
		} `yaml:"custom_capabilities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse agent type: %w", err)
	}
	if _, err := semver.NewVersion(doc.Version); err != nil {
		return nil, fmt.Errorf("agent type %s/%s: invalid version %q: %w", doc.Namespace, doc.Name, doc.Version, err)
	}

	at := &AgentType{
		Name:                 doc.Name,
		Namespace:            doc.Namespace,
		Version:              doc.Version,
		Variables:            map[string]*Node{},
		RequiredCapabilities: doc.Capabilities.Required,
	}
	if doc.Deployment.Kind != 0 {
		depCopy := doc.Deployment
		at.DeploymentTemplate = &depCopy
	}
	for env, raw := range doc.Variables {
		branch, err := buildTree(raw)
		if err != nil {
			return nil, fmt.Errorf("variables.%s: %w", env, err)
		}
		at.Variables[env] = branch
	}
	return at, nil
}

// buildTree turns one decoded YAML mapping into a Node tree. A mapping is a
// leaf Definition when it carries a "type" key, otherwise every key is
// recursed into as a branch.
func buildTree(raw rawVariableDoc) (*Node, error) {
	root := NewBranch()
	for key, v := range raw {
		child, err := buildNode(key, v)
		if err != nil {
			return nil, err
		}
		root.Children[key] = child
	}
	return root, nil
}

func buildNode(name string, raw interface{}) (*Node, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("variable %q: expected a mapping", name)
	}
	if _, hasType := m["type"]; hasType {
		def, err := buildDefinition(name, m)
		if err != nil {
			return nil, err
		}
		return NewLeaf(def), nil
	}
	branch := NewBranch()
	for key, v := range m {
		child, err := buildNode(key, v)
		if err != nil {
			return nil, err
		}
		branch.Children[key] = child
	}
	return branch, nil
}

func buildDefinition(name string, m map[string]interface{}) (*Definition, error) {
	kindStr, _ := m["type"].(string)
	kind := Kind(kindStr)
	if !kind.Valid() {
		return nil, fmt.Errorf("variable %q: unknown type %q", name, kindStr)
	}
	def := &Definition{Kind: kind}
	if desc, ok := m["description"].(string); ok {
		def.Description = desc
	}
	if req, ok := m["required"].(bool); ok {
		def.Required = req
	}
	def.Default = m["default"]
	if variants, ok := m["variants"].([]interface{}); ok {
		def.Variants = variants
	}
	if fp, ok := m["file_path"].(string); ok {
		def.FilePath = fp
	}
	if kind.IsFile() && def.FilePath == "" {
		return nil, fmt.Errorf("variable %q: file_path is required for kind %s", name, kind)
	}
	return def, nil
}
