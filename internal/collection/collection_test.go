package collection

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/rancher/agent-control/internal/configrepo"
	"github.com/rancher/agent-control/internal/healthtypes"
	"github.com/rancher/agent-control/internal/mgmtclient"
	"github.com/rancher/agent-control/internal/remoteconfig"
	"github.com/rancher/agent-control/internal/subagent"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeSupervisor struct {
	healthCh chan healthtypes.Health
}

func (f *fakeSupervisor) Start(context.Context) error       { return nil }
func (f *fakeSupervisor) Health() <-chan healthtypes.Health { return f.healthCh }
func (f *fakeSupervisor) Stop()                              {}

type fakeBuilder struct{}

func (fakeBuilder) Build(context.Context, string, *agenttype.RuntimeConfig) (subagent.RunningSupervisor, error) {
	return &fakeSupervisor{healthCh: make(chan healthtypes.Health)}, nil
}

func newAgent(t *testing.T, id string) *subagent.SubAgent {
	t.Helper()
	const doc = `
name: test-agent
namespace: newrelic
version: 1.0.0
deployment:
  on_host:
    executables:
      - path: /bin/true
        restart_policy:
          backoff_strategy:
            type: none
`
	at, err := agenttype.ParseAgentType([]byte(doc))
	require.NoError(t, err)
	deps := subagent.Deps{
		Repository:       configrepo.NewMemoryRepository(),
		ManagementClient: mgmtclient.NewLoggingClient(testLogger()),
		Builder:          fakeBuilder{},
		BaseDir:          t.TempDir(),
		Log:              testLogger(),
	}
	return subagent.New(id, at, nil, deps)
}

func TestCollectionStartAndStopAll(t *testing.T) {
	c := New(testLogger())
	ctx := context.Background()

	c.Start(ctx, "agent-a", newAgent(t, "agent-a"))
	c.Start(ctx, "agent-b", newAgent(t, "agent-b"))

	assert.Equal(t, []string{"agent-a", "agent-b"}, c.IDs())

	done := make(chan error, 1)
	go func() { done <- c.StopAll() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return in time")
	}

	assert.Empty(t, c.IDs())
}

func TestCollectionSubmitRemoteConfigIgnoresUnknownID(t *testing.T) {
	c := New(testLogger())
	// Should not panic or block even though no agent is registered.
	c.SubmitRemoteConfig("missing", &remoteconfig.Config{Hash: "h"})
}

func TestCollectionStartReplacesExistingAgent(t *testing.T) {
	c := New(testLogger())
	ctx := context.Background()

	c.Start(ctx, "agent-a", newAgent(t, "agent-a"))
	c.Start(ctx, "agent-a", newAgent(t, "agent-a"))

	assert.Equal(t, []string{"agent-a"}, c.IDs())
	require.NoError(t, c.StopAll())
}
