package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/rancher/agent-control/internal/healthtypes"
	"github.com/rancher/agent-control/internal/subagent"
	"github.com/rancher/agent-control/internal/supervisor/cluster"
	"github.com/rancher/agent-control/internal/supervisor/onhost"
	"github.com/sirupsen/logrus"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
)

// hostGroup aggregates the onhost.Supervisors for every executable of a
// rendered HostRuntimeConfig into a single RunningSupervisor: the sub-agent
// runtime only ever talks to one supervisor per config generation, so a
// multi-executable agent type needs a fan-in point.
type hostGroup struct {
	supervisors []*onhost.Supervisor
	health      chan healthtypes.Health
	stop        chan struct{}
}

// newHostGroup only constructs the per-executable supervisors; none of them
// is started here. That way a BuildHealthChecker failure partway through a
// multi-executable agent type never leaves an earlier executable's child
// process or health probe running with nothing to stop it — construction
// is all-or-nothing, and Start is a separate step the caller controls.
func newHostGroup(agentID string, cfg *agenttype.HostRuntimeConfig, logDir string, log *logrus.Entry) (*hostGroup, error) {
	g := &hostGroup{health: make(chan healthtypes.Health, 16), stop: make(chan struct{})}
	for i, execCfg := range cfg.Executables {
		checker, err := onhost.BuildHealthChecker(execCfg.Health)
		if err != nil {
			return nil, fmt.Errorf("executable %d (%s): %w", i, execCfg.Path, err)
		}
		exec := onhost.NewExecutable(execCfg, checker)
		entry := log.WithField("executable", execCfg.Path)
		sup := onhost.New(exec, cfg.EnableFileLogging, filepath.Join(logDir, agentID), entry)
		g.supervisors = append(g.supervisors, sup)
	}
	return g, nil
}

// Start begins every executable's supervisor loop. onhost.Supervisor.Start
// never fails synchronously (it only spawns its owning goroutine), so this
// never needs to unwind a partial start.
func (g *hostGroup) Start(ctx context.Context) error {
	for _, sup := range g.supervisors {
		sup.Start(ctx)
		go g.forward(sup)
	}
	return nil
}

func (g *hostGroup) forward(sup *onhost.Supervisor) {
	for h := range sup.Health() {
		select {
		case g.health <- h:
		case <-g.stop:
			return
		}
	}
}

func (g *hostGroup) Health() <-chan healthtypes.Health { return g.health }

func (g *hostGroup) Stop() {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	for _, sup := range g.supervisors {
		sup.Stop()
	}
}

var _ subagent.RunningSupervisor = (*hostGroup)(nil)

// clusterGroup adapts cluster.Supervisor to subagent.RunningSupervisor; the
// two already agree on shape, including the Build/Start split (Start is
// only called once, by the sub-agent runtime, after any previous
// supervisor has been stopped).
type clusterGroup struct {
	sup *cluster.Supervisor
}

func (g *clusterGroup) Start(ctx context.Context) error   { return g.sup.Start(ctx) }
func (g *clusterGroup) Health() <-chan healthtypes.Health { return g.sup.Health() }
func (g *clusterGroup) Stop()                             { g.sup.Stop() }

var _ subagent.RunningSupervisor = (*clusterGroup)(nil)

// builder is the concrete subagent.SupervisorBuilder: it picks onhost vs
// cluster based on which half of the rendered RuntimeConfig is populated.
type builder struct {
	logDir    string
	namespace string
	applier   cluster.ObjectApplier
	log       *logrus.Entry
}

func newBuilder(logDir, namespace string, ctrlClient ctrlclient.Client, log *logrus.Entry) *builder {
	var applier cluster.ObjectApplier
	if ctrlClient != nil {
		applier = cluster.NewControllerRuntimeApplier(ctrlClient)
	}
	return &builder{logDir: logDir, namespace: namespace, applier: applier, log: log}
}

// Build only constructs the supervisor; it never starts it. The sub-agent
// runtime decides when to call Start, after stopping whatever supervisor
// this one is replacing.
func (b *builder) Build(ctx context.Context, agentID string, rc *agenttype.RuntimeConfig) (subagent.RunningSupervisor, error) {
	switch {
	case rc.Host != nil:
		return newHostGroup(agentID, rc.Host, b.logDir, b.log.WithField("agent_id", agentID))
	case rc.Cluster != nil:
		if b.applier == nil {
			return nil, fmt.Errorf("agent %s rendered a cluster runtime config but no kubernetes client is configured", agentID)
		}
		sup := cluster.New(b.namespace, rc.Cluster, b.applier, b.log.WithField("agent_id", agentID))
		return &clusterGroup{sup: sup}, nil
	default:
		return nil, fmt.Errorf("agent %s rendered an empty runtime config", agentID)
	}
}

var _ subagent.SupervisorBuilder = (*builder)(nil)
