// Package configrepo implements the persisted-configuration store of
// spec.md §4.7: per sub-agent, either a local values document or a remote
// one carrying a hash and a lifecycle state.
package configrepo

import (
	"fmt"
	"sync"

	"github.com/rancher/agent-control/internal/remoteconfig"
)

// LocalConfig is a flat values document with no hash or state tracking.
type LocalConfig struct {
	YAML []byte
}

// RemoteConfig is the persisted form of a remote-config event: its body,
// stable hash, lifecycle state, and the capabilities it declared as
// required at apply time (used by LoadRemote's capability filter).
type RemoteConfig struct {
	YAML                 []byte
	Hash                 string
	State                remoteconfig.State
	FailedMsg            string
	RequiredCapabilities []string
}

// capabilitiesSubsetOf reports whether every entry of required is present
// in available.
func capabilitiesSubsetOf(required, available []string) bool {
	have := make(map[string]bool, len(available))
	for _, c := range available {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}

// Repository is the C7 capability consumed by C10. A sub-agent id scopes
// every operation.
type Repository interface {
	LoadLocal(id string) (*LocalConfig, error)
	StoreLocal(id string, yaml []byte) error
	DeleteLocal(id string) error

	// LoadRemote returns (nil, nil) if no remote config is persisted, or if
	// one is persisted but its RequiredCapabilities is not a subset of
	// requiredCaps.
	LoadRemote(id string, requiredCaps []string) (*RemoteConfig, error)
	StoreRemote(id string, remote *RemoteConfig) error
	DeleteRemote(id string) error

	// LoadRemoteFallbackLocal returns the remote body if present and
	// capability-compatible, else the local body, else (nil, false, nil).
	LoadRemoteFallbackLocal(id string, caps []string) ([]byte, bool, error)

	// GetRemoteConfig returns the whole persisted remote record with no
	// capability filtering, or (nil, nil) if none exists.
	GetRemoteConfig(id string) (*RemoteConfig, error)

	// UpdateState transitions the persisted remote state in place. A no-op
	// if no remote config is persisted for id.
	UpdateState(id string, newState remoteconfig.State) error
}

// MemoryRepository is an in-process Repository, the default for tests and
// for deployments with no durable state requirement.
type MemoryRepository struct {
	mu      sync.Mutex
	locals  map[string]*LocalConfig
	remotes map[string]*RemoteConfig
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locals:  map[string]*LocalConfig{},
		remotes: map[string]*RemoteConfig{},
	}
}

func (r *MemoryRepository) LoadLocal(id string) (*LocalConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locals[id], nil
}

func (r *MemoryRepository) StoreLocal(id string, yaml []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locals[id] = &LocalConfig{YAML: yaml}
	return nil
}

func (r *MemoryRepository) DeleteLocal(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locals, id)
	return nil
}

func (r *MemoryRepository) LoadRemote(id string, requiredCaps []string) (*RemoteConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remote, ok := r.remotes[id]
	if !ok {
		return nil, nil
	}
	if !capabilitiesSubsetOf(remote.RequiredCapabilities, requiredCaps) {
		return nil, nil
	}
	return remote, nil
}

func (r *MemoryRepository) StoreRemote(id string, remote *RemoteConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[id] = remote
	return nil
}

func (r *MemoryRepository) DeleteRemote(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, id)
	return nil
}

func (r *MemoryRepository) LoadRemoteFallbackLocal(id string, caps []string) ([]byte, bool, error) {
	remote, err := r.LoadRemote(id, caps)
	if err != nil {
		return nil, false, err
	}
	if remote != nil {
		return remote.YAML, true, nil
	}
	local, err := r.LoadLocal(id)
	if err != nil {
		return nil, false, err
	}
	if local != nil {
		return local.YAML, false, nil
	}
	return nil, false, nil
}

func (r *MemoryRepository) GetRemoteConfig(id string) (*RemoteConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remotes[id], nil
}

func (r *MemoryRepository) UpdateState(id string, newState remoteconfig.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	remote, ok := r.remotes[id]
	if !ok {
		return nil
	}
	remote.State = newState
	return nil
}

var _ Repository = (*MemoryRepository)(nil)

// ErrNoLocalValuesSource is returned by GitValuesSource.Load when the
// checkout has no values file for an id, distinguishing "not present" from
// a read failure.
type ErrNoLocalValuesSource struct{ ID string }

func (e *ErrNoLocalValuesSource) Error() string {
	return fmt.Sprintf("no local values source entry for %q", e.ID)
}
