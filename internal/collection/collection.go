// Package collection holds the set of running sub-agents for a single
// agent-control process and coordinates their startup and shutdown
// (spec.md §4.11).
package collection

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rancher/agent-control/internal/remoteconfig"
	"github.com/rancher/agent-control/internal/subagent"
	"github.com/sirupsen/logrus"
)

// StartedSubAgent pairs a running SubAgent with the cancel function for the
// context its Run loop was started with.
type StartedSubAgent struct {
	Agent  *subagent.SubAgent
	cancel context.CancelFunc
}

// Collection owns every sub-agent for the lifetime of one process. All
// methods are safe for concurrent use.
type Collection struct {
	mu     sync.Mutex
	agents map[string]*StartedSubAgent
	log    *logrus.Entry
}

func New(log *logrus.Entry) *Collection {
	return &Collection{agents: map[string]*StartedSubAgent{}, log: log}
}

// Start registers id's sub-agent and launches its event loop. Starting an id
// that is already registered replaces the old entry after stopping it, so
// callers never leak a goroutine across a config reload that changes the
// set of configured sub-agents.
func (c *Collection) Start(ctx context.Context, id string, agent *subagent.SubAgent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.agents[id]; ok {
		existing.cancel()
		existing.Agent.Stop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.agents[id] = &StartedSubAgent{Agent: agent, cancel: cancel}
	go agent.Run(runCtx)
}

// SubmitRemoteConfig routes a decoded remote-config event to its sub-agent,
// ignoring ids the collection has no record of (the server sent a config
// for an agent type this process never registered).
func (c *Collection) SubmitRemoteConfig(id string, cfg *remoteconfig.Config) {
	c.mu.Lock()
	started, ok := c.agents[id]
	c.mu.Unlock()
	if !ok {
		c.log.WithField("agent_id", id).Warn("received remote config for an unregistered sub-agent")
		return
	}
	started.Agent.SubmitRemoteConfig(cfg)
}

// IDs returns the currently registered sub-agent ids in a deterministic
// order, for iteration that doesn't vary between runs.
func (c *Collection) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every registered sub-agent in deterministic (sorted-id)
// order and returns the first error encountered, after attempting to stop
// every agent regardless of earlier failures.
func (c *Collection) StopAll() error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	agents := make([]*StartedSubAgent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, c.agents[id])
	}
	c.mu.Unlock()

	var firstErr error
	for i, started := range agents {
		id := ids[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					err := errors.Errorf("panic stopping sub-agent %s: %v", id, r)
					c.log.WithError(err).Error("sub-agent shutdown panicked")
					if firstErr == nil {
						firstErr = err
					}
				}
			}()
			started.cancel()
			started.Agent.Stop()
		}()
	}

	c.mu.Lock()
	c.agents = map[string]*StartedSubAgent{}
	c.mu.Unlock()

	return firstErr
}
