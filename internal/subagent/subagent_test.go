package subagent

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/rancher/agent-control/internal/configrepo"
	"github.com/rancher/agent-control/internal/healthtypes"
	"github.com/rancher/agent-control/internal/mgmtclient"
	"github.com/rancher/agent-control/internal/remoteconfig"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// orderRecorder captures the relative order of Start/Stop calls across
// every fakeSupervisor built in a test, so ordering assertions don't have
// to rely on wall-clock timestamps.
type orderRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *orderRecorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *orderRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// fakeSupervisor is a RunningSupervisor test double that never reports
// health unless told to, and records Start/Stop calls (by name, into an
// optional shared orderRecorder).
type fakeSupervisor struct {
	name     string
	recorder *orderRecorder
	healthCh chan healthtypes.Health
	stopped  chan struct{}
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		healthCh: make(chan healthtypes.Health, 4),
		stopped:  make(chan struct{}),
	}
}

func (f *fakeSupervisor) Start(context.Context) error {
	if f.recorder != nil {
		f.recorder.record("start:" + f.name)
	}
	return nil
}

func (f *fakeSupervisor) Health() <-chan healthtypes.Health { return f.healthCh }

func (f *fakeSupervisor) Stop() {
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
	if f.recorder != nil {
		f.recorder.record("stop:" + f.name)
	}
}

// fakeBuilder builds fakeSupervisors, optionally failing, and records every
// RuntimeConfig it was asked to build from. When recorder is set, each
// built supervisor is named "sup-N" in build order and reports its
// Start/Stop calls into the shared recorder.
type fakeBuilder struct {
	fail     error
	built    []*agenttype.RuntimeConfig
	lastSup  *fakeSupervisor
	recorder *orderRecorder
}

func (b *fakeBuilder) Build(_ context.Context, _ string, rc *agenttype.RuntimeConfig) (RunningSupervisor, error) {
	b.built = append(b.built, rc)
	if b.fail != nil {
		return nil, b.fail
	}
	sup := newFakeSupervisor()
	sup.name = fmt.Sprintf("sup-%d", len(b.built)-1)
	sup.recorder = b.recorder
	b.lastSup = sup
	return sup, nil
}

func simpleAgentType(t *testing.T, capabilities ...string) *agenttype.AgentType {
	t.Helper()
	const doc = `
name: test-agent
namespace: newrelic
version: 1.0.0
variables:
  common:
    log_level:
      type: string
      default: info
deployment:
  on_host:
    enable_file_logging: false
    executables:
      - path: /bin/true
        args: ""
        env: ""
        restart_policy:
          backoff_strategy:
            type: none
`
	at, err := agenttype.ParseAgentType([]byte(doc))
	require.NoError(t, err)
	at.RequiredCapabilities = capabilities
	return at
}

func newTestSubAgent(t *testing.T, builder SupervisorBuilder, repo configrepo.Repository, mgmt mgmtclient.ManagementClient, capabilities ...string) *SubAgent {
	t.Helper()
	at := simpleAgentType(t, capabilities...)
	deps := Deps{
		Repository:       repo,
		Validators:       nil,
		ManagementClient: mgmt,
		Builder:          builder,
		BaseDir:          t.TempDir(),
		Log:              testLogger(),
	}
	return New("agent-1", at, capabilities, deps)
}

func TestHandleRemoteConfigAppliesNewConfig(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	builder := &fakeBuilder{}
	a := newTestSubAgent(t, builder, repo, mgmt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	body := []byte("log_level: debug\n")
	cfg := &remoteconfig.Config{
		Hash:  "hash-1",
		State: remoteconfig.StateApplying,
		Body:  map[string][]byte{"values.yaml": body},
	}
	a.SubmitRemoteConfig(cfg)

	require.Eventually(t, func() bool {
		remote, _ := repo.GetRemoteConfig("agent-1")
		return remote != nil && remote.State == remoteconfig.StateApplied
	}, 2*time.Second, 10*time.Millisecond)

	remote, err := repo.GetRemoteConfig("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", remote.Hash)
	assert.Equal(t, body, remote.YAML)
	assert.Len(t, builder.built, 1)
}

// TestHandleRemoteConfigStopsOldBeforeStartingNew asserts the ordering
// spec.md §4.10/§8 requires: the old supervisor is stopped only after a new
// one has been built, and the new one is started only after the old one has
// stopped — never the other way around.
func TestHandleRemoteConfigStopsOldBeforeStartingNew(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	recorder := &orderRecorder{}
	builder := &fakeBuilder{recorder: recorder}
	a := newTestSubAgent(t, builder, repo, mgmt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	a.SubmitRemoteConfig(&remoteconfig.Config{
		Hash:  "hash-old",
		State: remoteconfig.StateApplying,
		Body:  map[string][]byte{"values.yaml": []byte("log_level: info\n")},
	})
	require.Eventually(t, func() bool {
		remote, _ := repo.GetRemoteConfig("agent-1")
		return remote != nil && remote.Hash == "hash-old" && remote.State == remoteconfig.StateApplied
	}, 2*time.Second, 10*time.Millisecond)

	a.SubmitRemoteConfig(&remoteconfig.Config{
		Hash:  "hash-new",
		State: remoteconfig.StateApplying,
		Body:  map[string][]byte{"values.yaml": []byte("log_level: debug\n")},
	})
	require.Eventually(t, func() bool {
		remote, _ := repo.GetRemoteConfig("agent-1")
		return remote != nil && remote.Hash == "hash-new" && remote.State == remoteconfig.StateApplied
	}, 2*time.Second, 10*time.Millisecond)

	events := recorder.snapshot()
	stopOldIdx, startNewIdx := -1, -1
	for i, e := range events {
		if e == "stop:sup-0" {
			stopOldIdx = i
		}
		if e == "start:sup-1" {
			startNewIdx = i
		}
	}
	require.NotEqual(t, -1, stopOldIdx, "old supervisor must have been stopped: %v", events)
	require.NotEqual(t, -1, startNewIdx, "new supervisor must have been started: %v", events)
	assert.Less(t, stopOldIdx, startNewIdx, "old supervisor must stop before the new one starts: %v", events)
}

func TestHandleRemoteConfigSameHashShortCircuits(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	builder := &fakeBuilder{}
	a := newTestSubAgent(t, builder, repo, mgmt)

	require.NoError(t, repo.StoreRemote("agent-1", &configrepo.RemoteConfig{
		YAML:  []byte("log_level: info\n"),
		Hash:  "same-hash",
		State: remoteconfig.StateApplied,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	cfg := &remoteconfig.Config{
		Hash:  "same-hash",
		State: remoteconfig.StateApplying,
		Body:  map[string][]byte{"values.yaml": []byte("log_level: info\n")},
	}
	a.SubmitRemoteConfig(cfg)

	time.Sleep(50 * time.Millisecond)
	// The single build is the bootstrap one from the persisted remote config.
	assert.Len(t, builder.built, 1, "an unchanged hash must not trigger a rebuild")
}

func TestHandleRemoteConfigBuildFailureIsNotPersisted(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	builder := &fakeBuilder{fail: assertErr{"boom"}}
	a := newTestSubAgent(t, builder, repo, mgmt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	cfg := &remoteconfig.Config{
		Hash:  "hash-2",
		State: remoteconfig.StateApplying,
		Body:  map[string][]byte{"values.yaml": []byte("log_level: debug\n")},
	}
	a.SubmitRemoteConfig(cfg)

	require.Eventually(t, func() bool {
		remote, _ := repo.GetRemoteConfig("agent-1")
		return remote == nil
	}, time.Second, 10*time.Millisecond, "a failed build must never be persisted as remote state")
}

func TestHandleRemoteConfigResetToLocal(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	builder := &fakeBuilder{}
	a := newTestSubAgent(t, builder, repo, mgmt)

	require.NoError(t, repo.StoreLocal("agent-1", []byte("log_level: info\n")))
	require.NoError(t, repo.StoreRemote("agent-1", &configrepo.RemoteConfig{
		YAML:  []byte("log_level: debug\n"),
		Hash:  "hash-3",
		State: remoteconfig.StateApplied,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	cfg := &remoteconfig.Config{
		Hash:  "reset-hash",
		State: remoteconfig.StateApplying,
		Body:  map[string][]byte{},
	}
	a.SubmitRemoteConfig(cfg)

	require.Eventually(t, func() bool {
		remote, _ := repo.GetRemoteConfig("agent-1")
		return remote == nil
	}, time.Second, 10*time.Millisecond, "reset-to-local must delete the persisted remote config")

	assert.GreaterOrEqual(t, len(builder.built), 1)
}

func TestHandleRemoteConfigIncomingFailedIsNotPersisted(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	builder := &fakeBuilder{}
	a := newTestSubAgent(t, builder, repo, mgmt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	cfg := &remoteconfig.Config{
		Hash:      "hash-4",
		State:     remoteconfig.StateFailed,
		FailedMsg: "server-side validation failed",
	}
	a.SubmitRemoteConfig(cfg)

	time.Sleep(50 * time.Millisecond)
	remote, err := repo.GetRemoteConfig("agent-1")
	require.NoError(t, err)
	assert.Nil(t, remote)
	assert.Empty(t, builder.built)
}

func TestInitSupervisorBuildsFromPersistedLocal(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	builder := &fakeBuilder{}
	require.NoError(t, repo.StoreLocal("agent-1", []byte("log_level: info\n")))

	a := newTestSubAgent(t, builder, repo, mgmt)
	require.NoError(t, a.initSupervisor(context.Background()))

	assert.Len(t, builder.built, 1)
	assert.NotNil(t, a.current)
}

func TestValidateAndVerifyRequiresSignatureWhenCapabilityDeclared(t *testing.T) {
	repo := configrepo.NewMemoryRepository()
	mgmt := mgmtclient.NewLoggingClient(testLogger())
	builder := &fakeBuilder{}
	a := newTestSubAgent(t, builder, repo, mgmt, "signed_config")

	cfg := &remoteconfig.Config{Hash: "h", Signature: nil}
	err := a.validateAndVerify(context.Background(), cfg, []byte("log_level: info\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a signed config")
}

// assertErr is a trivial error for build-failure tests.
type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
