package agenttype

import (
	"context"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FilePersister materializes file-kind variable contents to disk. Render
// calls DeleteGenerated before writing so a changed set of file variables
// never leaves stale files behind.
type FilePersister interface {
	DeleteGenerated(ctx context.Context, base string) error
	WriteFile(ctx context.Context, path, content string) error
}

// Render performs the five steps of spec.md §4.3: env pre-pass, fill,
// populate-check, file materialization, and final templating. Failure of
// any step aborts rendering and returns no RuntimeConfig; the caller (C10)
// is responsible for leaving the previous materialized state untouched.
func Render(
	ctx context.Context,
	agentID string,
	at *AgentType,
	values map[string]interface{},
	attributes map[string]string,
	envVars map[string]string,
	acVars map[string]string,
	secrets map[string]string,
	persister FilePersister,
	baseDir string,
) (*RuntimeConfig, error) {
	if at.DeploymentTemplate == nil {
		return nil, fmt.Errorf("agent type %s has no deployment template", at.FQN())
	}

	prepassed := EnvPrepass(values, secrets)
	valuesMap, ok := prepassed.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("values document must be a mapping")
	}

	tree, err := buildEffectiveTree(at)
	if err != nil {
		return nil, err
	}

	if err := tree.FillWithValues(valuesMap); err != nil {
		return nil, err
	}
	if err := tree.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := tree.CheckAllPopulated(); err != nil {
		return nil, err
	}

	if persister != nil {
		base := filepath.Join(baseDir, "generated", agentID)
		if err := persister.DeleteGenerated(ctx, base); err != nil {
			return nil, fmt.Errorf("delete generated dir: %w", err)
		}
		tree.ExtendFilePath(base)
		if err := writeFileVariables(ctx, tree, persister); err != nil {
			return nil, fmt.Errorf("materialize files: %w", err)
		}
	}

	vars := buildVarSet(tree, attributes, envVars, acVars)

	node := cloneYAMLNode(at.DeploymentTemplate)
	if err := TemplateYAML(node, vars); err != nil {
		return nil, err
	}

	return DecodeRuntimeConfig(node)
}

// buildEffectiveTree merges the "common" variable tree with the
// deployment-specific one (on_host or k8s) into a single fresh tree, so
// repeated renders never see state left over from a previous render.
func buildEffectiveTree(at *AgentType) (*Node, error) {
	root := NewBranch()
	if common, ok := at.Variables[EnvCommon]; ok {
		mergeInto(root, cloneTree(common))
	}
	switch {
	case at.IsHost():
		if onHost, ok := at.Variables[EnvOnHost]; ok {
			mergeInto(root, cloneTree(onHost))
		}
	case at.IsCluster():
		if k8s, ok := at.Variables[EnvK8s]; ok {
			mergeInto(root, cloneTree(k8s))
		}
	default:
		return nil, fmt.Errorf("agent type %s: deployment template is neither on_host nor k8s", at.FQN())
	}
	return root, nil
}

func mergeInto(dst, src *Node) {
	for k, v := range src.Children {
		dst.Children[k] = v
	}
}

func cloneTree(n *Node) *Node {
	if n.IsLeaf() {
		defCopy := *n.Def
		return &Node{Def: &defCopy}
	}
	branch := NewBranch()
	for k, v := range n.Children {
		branch.Children[k] = cloneTree(v)
	}
	return branch
}

func writeFileVariables(ctx context.Context, tree *Node, persister FilePersister) error {
	for _, leaf := range tree.Flatten() {
		if leaf.Value == nil {
			continue
		}
		switch leaf.Def.Kind {
		case KindFile:
			if err := persister.WriteFile(ctx, leaf.Value.File.Path, leaf.Value.File.Content); err != nil {
				return err
			}
		case KindMapFile:
			for _, entry := range leaf.Value.MapFile {
				if err := persister.WriteFile(ctx, entry.Path, entry.Content); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func buildVarSet(tree *Node, attributes, envVars, acVars map[string]string) VarSet {
	vs := VarSet{}
	for dotted, leaf := range tree.Flatten() {
		if leaf.Value != nil {
			vs[Key{NS: NamespaceVar, Name: dotted}] = leaf
		}
	}
	addStringVars(vs, NamespaceSub, attributes)
	addStringVars(vs, NamespaceEnv, envVars)
	addStringVars(vs, NamespaceAC, acVars)
	return vs
}

func addStringVars(vs VarSet, ns Namespace, m map[string]string) {
	for name, val := range m {
		vs[Key{NS: ns, Name: name}] = &Node{
			Def:   &Definition{Kind: KindString},
			Value: &Value{Str: val},
		}
	}
}

func cloneYAMLNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Content = make([]*yaml.Node, len(n.Content))
	for i, c := range n.Content {
		clone.Content[i] = cloneYAMLNode(c)
	}
	clone.Alias = cloneYAMLNode(n.Alias)
	return &clone
}
