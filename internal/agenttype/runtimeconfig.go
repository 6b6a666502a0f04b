package agenttype

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the tagged sum of the two deployment shapes a render can
// produce. Exactly one of Host/Cluster is set.
type RuntimeConfig struct {
	Host    *HostRuntimeConfig
	Cluster *ClusterRuntimeConfig
}

type HostRuntimeConfig struct {
	Executables       []ExecutableConfig
	EnableFileLogging bool
}

type ExecutableConfig struct {
	Path          string
	Args          string
	Env           string
	RestartPolicy RestartPolicy
	Health        map[string]interface{}
}

// BackoffKind is the restart-policy strategy discriminator.
type BackoffKind string

const (
	BackoffNone        BackoffKind = "none"
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

type RestartPolicy struct {
	Type               BackoffKind
	BackoffDelay       time.Duration
	MaxRetries         uint
	LastRetryInterval  time.Duration
	RestartExitCodes   map[int]bool // empty => every non-success restarts
}

// ShouldRestart reports whether the given process exit code should trigger
// a restart under this policy. Code 0 is success and never restarts.
func (rp RestartPolicy) ShouldRestart(exitCode int) bool {
	if exitCode == 0 {
		return false
	}
	if rp.Type == BackoffNone {
		return false
	}
	if len(rp.RestartExitCodes) == 0 {
		return true
	}
	return rp.RestartExitCodes[exitCode]
}

type ClusterRuntimeConfig struct {
	Objects map[string]ClusterObject
	Health  map[string]interface{}
}

type ClusterObject struct {
	APIVersion string
	Kind       string
	Metadata   ObjectMetadata
	Body       map[string]interface{}
}

type ObjectMetadata struct {
	Name   string
	Labels map[string]string
}

// --- decode from a templated yaml.Node ---

type deploymentDoc struct {
	OnHost *onHostDoc `yaml:"on_host"`
	K8s    *k8sDoc    `yaml:"k8s"`
}

type onHostDoc struct {
	Executables       []executableDoc `yaml:"executables"`
	EnableFileLogging bool            `yaml:"enable_file_logging"`
}

type executableDoc struct {
	Path          string              `yaml:"path"`
	Args          string              `yaml:"args"`
	Env           string              `yaml:"env"`
	RestartPolicy restartPolicyDoc    `yaml:"restart_policy"`
	Health        map[string]interface{} `yaml:"health"`
}

type restartPolicyDoc struct {
	BackoffStrategy backoffDoc `yaml:"backoff_strategy"`
}

type backoffDoc struct {
	Type               string      `yaml:"type"`
	BackoffDelay       interface{} `yaml:"backoff_delay"`
	MaxRetries         interface{} `yaml:"max_retries"`
	LastRetryInterval  interface{} `yaml:"last_retry_interval"`
	ExitCodes          []int       `yaml:"exit_codes"`
}

type k8sDoc struct {
	Objects map[string]objectDoc   `yaml:"objects"`
	Health  map[string]interface{} `yaml:"health"`
}

type objectDoc struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   metadataDoc            `yaml:"metadata"`
	Rest       map[string]interface{} `yaml:",inline"`
}

type metadataDoc struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels"`
}

// DecodeRuntimeConfig decodes an already-templated deployment node into a
// RuntimeConfig. Exactly one of on_host/k8s must be present.
func DecodeRuntimeConfig(node *yaml.Node) (*RuntimeConfig, error) {
	var doc deploymentDoc
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode runtime config: %w", err)
	}
	switch {
	case doc.OnHost != nil && doc.K8s != nil:
		return nil, fmt.Errorf("deployment template declares both on_host and k8s")
	case doc.OnHost != nil:
		return decodeHost(doc.OnHost)
	case doc.K8s != nil:
		return decodeCluster(doc.K8s)
	default:
		return nil, fmt.Errorf("deployment template declares neither on_host nor k8s")
	}
}

func decodeHost(d *onHostDoc) (*RuntimeConfig, error) {
	host := &HostRuntimeConfig{EnableFileLogging: d.EnableFileLogging}
	for _, e := range d.Executables {
		rp, err := decodeRestartPolicy(e.RestartPolicy)
		if err != nil {
			return nil, fmt.Errorf("executable %q: %w", e.Path, err)
		}
		host.Executables = append(host.Executables, ExecutableConfig{
			Path:          e.Path,
			Args:          e.Args,
			Env:           e.Env,
			RestartPolicy: rp,
			Health:        e.Health,
		})
	}
	return &RuntimeConfig{Host: host}, nil
}

func decodeRestartPolicy(d restartPolicyDoc) (RestartPolicy, error) {
	b := d.BackoffStrategy
	kind := BackoffKind(b.Type)
	switch kind {
	case BackoffNone, BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return RestartPolicy{}, fmt.Errorf("unknown backoff strategy type %q", b.Type)
	}
	delay, err := coerceDuration(b.BackoffDelay)
	if err != nil {
		return RestartPolicy{}, err
	}
	lastInterval, err := coerceDuration(b.LastRetryInterval)
	if err != nil {
		return RestartPolicy{}, err
	}
	retries, err := coerceUint(b.MaxRetries)
	if err != nil {
		return RestartPolicy{}, err
	}
	codes := map[int]bool{}
	for _, c := range b.ExitCodes {
		codes[c] = true
	}
	return RestartPolicy{
		Type:              kind,
		BackoffDelay:      delay,
		MaxRetries:        retries,
		LastRetryInterval: lastInterval,
		RestartExitCodes:  codes,
	}, nil
}

func coerceDuration(raw interface{}) (time.Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		return ParseDuration(v)
	case time.Duration:
		return v, nil
	case float64:
		return time.Duration(v) * time.Second, nil
	case int:
		return time.Duration(v) * time.Second, nil
	default:
		return 0, fmt.Errorf("cannot parse duration from %v", raw)
	}
}

func coerceUint(raw interface{}) (uint, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return ParseRetries(int(v))
	case int:
		return ParseRetries(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, err
		}
		return ParseRetries(n)
	default:
		return 0, fmt.Errorf("cannot parse retry count from %v", raw)
	}
}

func decodeCluster(d *k8sDoc) (*RuntimeConfig, error) {
	cluster := &ClusterRuntimeConfig{Objects: map[string]ClusterObject{}, Health: d.Health}
	for key, obj := range d.Objects {
		cluster.Objects[key] = ClusterObject{
			APIVersion: obj.APIVersion,
			Kind:       obj.Kind,
			Metadata:   ObjectMetadata{Name: obj.Metadata.Name, Labels: obj.Metadata.Labels},
			Body:       obj.Rest,
		}
	}
	return &RuntimeConfig{Cluster: cluster}, nil
}
