package configrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rancher/agent-control/internal/remoteconfig"
	"sigs.k8s.io/yaml"
)

// FileRepository persists each sub-agent's local and remote config under
// <Dir>/<id>/{local.yaml,remote.yaml,remote.meta.yaml}. Record metadata
// (hash, state, capabilities) is marshaled with sigs.k8s.io/yaml so it
// round-trips through the same codec as every other document in this
// repository.
type FileRepository struct {
	Dir string

	mu sync.Mutex
}

func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{Dir: dir}
}

type remoteMeta struct {
	Hash                 string   `json:"hash"`
	State                string   `json:"state"`
	FailedMsg            string   `json:"failedMsg,omitempty"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
}

func (r *FileRepository) agentDir(id string) string {
	return filepath.Join(r.Dir, id)
}

func (r *FileRepository) LoadLocal(id string) (*LocalConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(r.agentDir(id), "local.yaml"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading local config for %q", id)
	}
	return &LocalConfig{YAML: data}, nil
}

func (r *FileRepository) StoreLocal(id string, yaml []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.agentDir(id), 0o755); err != nil {
		return errors.Wrapf(err, "creating config dir for %q", id)
	}
	if err := os.WriteFile(filepath.Join(r.agentDir(id), "local.yaml"), yaml, 0o644); err != nil {
		return errors.Wrapf(err, "storing local config for %q", id)
	}
	return nil
}

func (r *FileRepository) DeleteLocal(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(filepath.Join(r.agentDir(id), "local.yaml"))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "deleting local config for %q", id)
	}
	return nil
}

func (r *FileRepository) readRemote(id string) (*RemoteConfig, error) {
	base := r.agentDir(id)
	metaBytes, err := os.ReadFile(filepath.Join(base, "remote.meta.yaml"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading remote config metadata for %q", id)
	}
	var meta remoteMeta
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, errors.Wrapf(err, "decoding remote config metadata for %q", id)
	}
	body, err := os.ReadFile(filepath.Join(base, "remote.yaml"))
	if err != nil {
		return nil, errors.Wrapf(err, "loading remote config body for %q", id)
	}
	return &RemoteConfig{
		YAML:                 body,
		Hash:                 meta.Hash,
		State:                remoteconfig.State(meta.State),
		FailedMsg:            meta.FailedMsg,
		RequiredCapabilities: meta.RequiredCapabilities,
	}, nil
}

func (r *FileRepository) LoadRemote(id string, requiredCaps []string) (*RemoteConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	remote, err := r.readRemote(id)
	if err != nil || remote == nil {
		return remote, err
	}
	if !capabilitiesSubsetOf(remote.RequiredCapabilities, requiredCaps) {
		return nil, nil
	}
	return remote, nil
}

func (r *FileRepository) StoreRemote(id string, remote *RemoteConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeRemote(id, remote)
}

func (r *FileRepository) writeRemote(id string, remote *RemoteConfig) error {
	base := r.agentDir(id)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return errors.Wrapf(err, "creating config dir for %q", id)
	}
	metaBytes, err := yaml.Marshal(remoteMeta{
		Hash:                 remote.Hash,
		State:                string(remote.State),
		FailedMsg:            remote.FailedMsg,
		RequiredCapabilities: remote.RequiredCapabilities,
	})
	if err != nil {
		return errors.Wrapf(err, "encoding remote config metadata for %q", id)
	}
	if err := os.WriteFile(filepath.Join(base, "remote.meta.yaml"), metaBytes, 0o644); err != nil {
		return errors.Wrapf(err, "storing remote config metadata for %q", id)
	}
	if err := os.WriteFile(filepath.Join(base, "remote.yaml"), remote.YAML, 0o644); err != nil {
		return errors.Wrapf(err, "storing remote config body for %q", id)
	}
	return nil
}

func (r *FileRepository) DeleteRemote(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := r.agentDir(id)
	for _, name := range []string{"remote.meta.yaml", "remote.yaml"} {
		if err := os.Remove(filepath.Join(base, name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "deleting %s for %q", name, id)
		}
	}
	return nil
}

func (r *FileRepository) LoadRemoteFallbackLocal(id string, caps []string) ([]byte, bool, error) {
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

func (r *FileRepository) GetRemoteConfig(id string) (*RemoteConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readRemote(id)
}

func (r *FileRepository) UpdateState(id string, newState remoteconfig.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	remote, err := r.readRemote(id)
	if err != nil {
		return err
	}
	if remote == nil {
		return nil
	}
	remote.State = newState
	if err := r.writeRemote(id, remote); err != nil {
		return fmt.Errorf("updating state for %q: %w", id, err)
	}
	return nil
}

var _ Repository = (*FileRepository)(nil)
