// Package mgmtclient is the ManagementClient capability consumed by C10: it
// carries configuration state and health out over an OpAMP-shaped wire
// protocol whose transport is out of scope for this module.
package mgmtclient

import (
	"context"
	"sync"

	"github.com/rancher/agent-control/internal/healthtypes"
	"github.com/rancher/agent-control/internal/remoteconfig"
	"github.com/sirupsen/logrus"
)

// ManagementClient is exactly-once-free: redelivery of any report is
// acceptable to the server side of the protocol.
type ManagementClient interface {
	SetRemoteConfigStatus(ctx context.Context, hash string, state remoteconfig.State, errMsg string) error
	UpdateEffectiveConfig(ctx context.Context, agentID string, effectiveConfig []byte) error
	SetHealth(ctx context.Context, agentID string, health healthtypes.Health) error
	Stop(ctx context.Context) error
}

// LoggingClient is an in-process ManagementClient: it logs every report and
// keeps the latest health and effective config per agent id and the latest
// remote-config status per hash, for deployments with no real upstream
// wired up yet. The `status` CLI subcommand does not read it.
type LoggingClient struct {
	log *logrus.Entry

	mu               sync.Mutex
	lastRemoteStatus map[string]RemoteStatusReport
	lastEffective    map[string][]byte
	lastHealth       map[string]healthtypes.Health
	stopped          bool
}

type RemoteStatusReport struct {
	Hash   string
	State  remoteconfig.State
	ErrMsg string
}

func NewLoggingClient(log *logrus.Entry) *LoggingClient {
	return &LoggingClient{
		log:              log,
		lastRemoteStatus: map[string]RemoteStatusReport{},
		lastEffective:    map[string][]byte{},
		lastHealth:       map[string]healthtypes.Health{},
	}
}

func (c *LoggingClient) SetRemoteConfigStatus(_ context.Context, hash string, state remoteconfig.State, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"hash": hash, "state": state, "error": errMsg}).Info("remote config status")
	c.lastRemoteStatus[hash] = RemoteStatusReport{Hash: hash, State: state, ErrMsg: errMsg}
	return nil
}

func (c *LoggingClient) UpdateEffectiveConfig(_ context.Context, agentID string, effectiveConfig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.WithField("agent_id", agentID).Debug("effective config updated")
	c.lastEffective[agentID] = effectiveConfig
	return nil
}

func (c *LoggingClient) SetHealth(_ context.Context, agentID string, health healthtypes.Health) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.lastHealth[agentID]
	if !seen || !prev.Equal(health) {
		c.log.WithFields(logrus.Fields{"agent_id": agentID, "health": health.String()}).Info("health transition")
	}
	c.lastHealth[agentID] = health
	return nil
}

func (c *LoggingClient) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.log.Info("management client stopped")
	return nil
}

// Health returns the last reported health for agentID.
func (c *LoggingClient) Health(agentID string) (healthtypes.Health, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.lastHealth[agentID]
	return h, ok
}

var _ ManagementClient = (*LoggingClient)(nil)
