// Package subagent implements the per-sub-agent runtime state machine
// (spec.md §4.10): a single cooperative event loop that applies remote
// config, swaps supervisors, and forwards health upstream.
package subagent

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/rancher/agent-control/internal/configrepo"
	"github.com/rancher/agent-control/internal/healthtypes"
	"github.com/rancher/agent-control/internal/mgmtclient"
	"github.com/rancher/agent-control/internal/remoteconfig"
	"github.com/rancher/agent-control/internal/signature"
	"github.com/rancher/agent-control/internal/validators"
	"github.com/rancher/agent-control/pkg/durations"
	"github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"
)

// RunningSupervisor is the shape both onhost.Supervisor and
// cluster.Supervisor satisfy; the subagent package never imports either
// concrete package, only this capability. Build and Start are deliberately
// separate: §4.10's ordering rule requires a new supervisor to be fully
// built *before* the old one is stopped, and only started *after* the old
// one has stopped (build -> stop old -> start new). Collapsing build and
// start into one step would make that order impossible to express.
type RunningSupervisor interface {
	Start(ctx context.Context) error
	Health() <-chan healthtypes.Health
	Stop()
}

// SupervisorBuilder constructs (but does not start) a supervisor for a
// rendered runtime config. Implementations live in cmd/agent-control,
// which is the only place that knows about both onhost and cluster
// concrete types.
type SupervisorBuilder interface {
	Build(ctx context.Context, agentID string, rc *agenttype.RuntimeConfig) (RunningSupervisor, error)
}

// Deps bundles everything a SubAgent needs beyond its own identity and
// agent type, so construction reads as one call instead of a constructor
// with a dozen positional arguments.
type Deps struct {
	Repository     configrepo.Repository
	Verifier       signature.Verifier
	Validators     *validators.Chain
	ManagementClient mgmtclient.ManagementClient
	Persister      agenttype.FilePersister
	Builder        SupervisorBuilder
	BaseDir        string
	Attributes     map[string]string
	EnvVars        map[string]string
	ACVars         map[string]string
	Secrets        map[string]string
	Log            *logrus.Entry
}

type eventKind int

const (
	eventHealth eventKind = iota
	eventStop
)

type internalEvent struct {
	kind   eventKind
	health healthtypes.Health
}

// SubAgent owns one supervisor lifecycle behind a single-threaded loop.
type SubAgent struct {
	id           string
	agentType    *agenttype.AgentType
	capabilities []string
	deps         Deps

	remoteConfigCh chan *remoteconfig.Config
	internalCh     chan internalEvent
	stopCh         chan struct{}
	doneCh         chan struct{}

	current       RunningSupervisor
	currentCancel context.CancelFunc
	lastHealth    *healthtypes.Health
}

func New(id string, at *agenttype.AgentType, capabilities []string, deps Deps) *SubAgent {
	return &SubAgent{
		id:             id,
		agentType:      at,
		capabilities:   capabilities,
		deps:           deps,
		remoteConfigCh: make(chan *remoteconfig.Config, 8),
		internalCh:     make(chan internalEvent, 32),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// SubmitRemoteConfig enqueues a remote-config event for processing by Run's
// loop. It never blocks indefinitely: the channel is buffered, the loop is
// the only reader, and once Run has returned the event is dropped.
func (a *SubAgent) SubmitRemoteConfig(cfg *remoteconfig.Config) {
	select {
	case a.remoteConfigCh <- cfg:
	case <-a.doneCh:
	}
}

// Stop requests graceful shutdown and blocks until Run has returned.
func (a *SubAgent) Stop() {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	<-a.doneCh
}

// Run is the cooperative event loop. It bootstraps a supervisor from
// persisted config, then multiplexes remote-config events, internal
// events, and the uptime tick until stopped.
func (a *SubAgent) Run(ctx context.Context) {
	defer close(a.doneCh)

	if err := a.initSupervisor(ctx); err != nil {
		a.deps.Log.WithError(err).WithField("agent_id", a.id).Error("failed to initialize sub-agent")
	}

	ticker := time.NewTicker(durations.UptimeTick)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			a.shutdown(ctx)
			return
		case cfg := <-a.remoteConfigCh:
			a.handleRemoteConfig(ctx, cfg)
		case ev := <-a.internalCh:
			a.handleInternalEvent(ctx, ev)
		case <-ticker.C:
			// Liveness tick only; health reporting is driven by supervisor
			// events, not by this timer.
		}
	}
}

func (a *SubAgent) handleInternalEvent(ctx context.Context, ev internalEvent) {
	switch ev.kind {
	case eventHealth:
		if a.lastHealth == nil || !a.lastHealth.Equal(ev.health) {
			a.deps.Log.WithFields(logrus.Fields{"agent_id": a.id, "health": ev.health.String()}).Info("health transition")
		}
		h := ev.health
		a.lastHealth = &h
		if a.deps.ManagementClient != nil {
			_ = a.deps.ManagementClient.SetHealth(ctx, a.id, ev.health)
		}
	case eventStop:
		a.shutdown(ctx)
	}
}

func (a *SubAgent) shutdown(ctx context.Context) {
	a.stopCurrent()
	if a.deps.ManagementClient != nil {
		_ = a.deps.ManagementClient.Stop(ctx)
	}
}

// initSupervisor is bootstrap/init_supervisor from spec.md §4.10.
func (a *SubAgent) initSupervisor(ctx context.Context) error {
	body, fromRemote, err := a.deps.Repository.LoadRemoteFallbackLocal(a.id, a.capabilities)
	if err != nil {
		return errors.Wrap(err, "loading persisted config")
	}
	if body == nil {
		if a.deps.ManagementClient != nil {
			_ = a.deps.ManagementClient.UpdateEffectiveConfig(ctx, a.id, nil)
		}
		return nil
	}

	sup, buildErr := a.buildFromYAML(ctx, body)
	if buildErr == nil {
		buildErr = a.startAndSetCurrent(ctx, sup)
	}
	if buildErr == nil {
		if a.deps.ManagementClient != nil {
			_ = a.deps.ManagementClient.UpdateEffectiveConfig(ctx, a.id, body)
		}
	} else {
		a.deps.Log.WithError(buildErr).WithField("agent_id", a.id).Error("failed to build initial supervisor")
	}

	if !fromRemote {
		return nil
	}
	remote, err := a.deps.Repository.GetRemoteConfig(a.id)
	if err != nil || remote == nil || remote.State != remoteconfig.StateApplying {
		return nil
	}
	if buildErr != nil {
		_ = a.deps.Repository.UpdateState(a.id, remoteconfig.StateFailed)
		a.reportRemoteState(ctx, remote.Hash, remoteconfig.StateFailed, buildErr.Error())
	} else {
		_ = a.deps.Repository.UpdateState(a.id, remoteconfig.StateApplied)
		a.reportRemoteState(ctx, remote.Hash, remoteconfig.StateApplied, "")
	}
	return nil
}

// handleRemoteConfig is handle_remote_config from spec.md §4.10.
func (a *SubAgent) handleRemoteConfig(ctx context.Context, cfg *remoteconfig.Config) {
	stored, _ := a.deps.Repository.GetRemoteConfig(a.id)
	if stored != nil && cfg.Hash == stored.Hash && stored.State != remoteconfig.StateApplying {
		a.reportRemoteState(ctx, cfg.Hash, stored.State, stored.FailedMsg)
		return
	}
	if cfg.State == remoteconfig.StateFailed {
		a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateFailed, cfg.FailedMsg)
		return
	}
	a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateApplying, "")

	if cfg.IsEmpty() {
		a.handleResetToLocal(ctx, cfg)
		return
	}

	body, _, err := cfg.GetUnique()
	if err != nil {
		a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateFailed, err.Error())
		return
	}
	if err := a.validateAndVerify(ctx, cfg, body); err != nil {
		a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateFailed, err.Error())
		return
	}
	// Build the new supervisor before touching the old one: the old
	// supervisor must keep running until a replacement actually exists.
	sup, buildErr := a.buildFromYAML(ctx, body)
	if buildErr != nil {
		a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateFailed, buildErr.Error())
		return
	}

	remote := &configrepo.RemoteConfig{
		YAML:                 body,
		Hash:                 cfg.Hash,
		State:                remoteconfig.StateApplying,
		RequiredCapabilities: a.agentType.RequiredCapabilities,
	}
	if err := a.deps.Repository.StoreRemote(a.id, remote); err != nil {
		a.deps.Log.WithError(err).WithField("agent_id", a.id).Error("failed to persist remote config")
	}
	if a.deps.ManagementClient != nil {
		_ = a.deps.ManagementClient.UpdateEffectiveConfig(ctx, a.id, body)
	}
	// Old stopped, then new started — never the reverse: §4.10's ordering
	// rule and the §3 invariant that at most one supervisor runs at a time.
	a.stopCurrent()
	if startErr := a.startAndSetCurrent(ctx, sup); startErr != nil {
		a.deps.Log.WithError(startErr).WithField("agent_id", a.id).Error("failed to start supervisor for new remote config")
		_ = a.deps.Repository.UpdateState(a.id, remoteconfig.StateFailed)
		a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateFailed, startErr.Error())
		return
	}
	_ = a.deps.Repository.UpdateState(a.id, remoteconfig.StateApplied)
	a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateApplied, "")
}

func (a *SubAgent) handleResetToLocal(ctx context.Context, cfg *remoteconfig.Config) {
	_ = a.deps.Repository.DeleteRemote(a.id)
	local, err := a.deps.Repository.LoadLocal(a.id)
	if err != nil || local == nil {
		a.stopCurrent()
		a.current = nil
		if a.deps.ManagementClient != nil {
			_ = a.deps.ManagementClient.UpdateEffectiveConfig(ctx, a.id, nil)
		}
		a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateApplied, "")
		return
	}

	sup, buildErr := a.buildFromYAML(ctx, local.YAML)
	if a.deps.ManagementClient != nil {
		_ = a.deps.ManagementClient.UpdateEffectiveConfig(ctx, a.id, local.YAML)
	}
	// Old stopped, then new started — same non-negotiable order as the
	// remote-config swap path, even though the reset is reported "applied"
	// unconditionally below.
	a.stopCurrent()
	if buildErr != nil {
		a.deps.Log.WithError(buildErr).WithField("agent_id", a.id).Error("failed to rebuild supervisor from local config on reset")
	} else if startErr := a.startAndSetCurrent(ctx, sup); startErr != nil {
		a.deps.Log.WithError(startErr).WithField("agent_id", a.id).Error("failed to start supervisor from local config on reset")
	}
	// The requested reset is accepted regardless of whether the local
	// config could be rendered; only the running supervisor reflects it.
	a.reportRemoteState(ctx, cfg.Hash, remoteconfig.StateApplied, "")
}

func (a *SubAgent) validateAndVerify(ctx context.Context, cfg *remoteconfig.Config, body []byte) error {
	if a.agentType.HasCapability(signature.CapabilitySignedConfig) {
		sig, err := cfg.GetUniqueSignature()
		if err != nil {
			return err
		}
		if sig == nil {
			return fmt.Errorf("agent type %s requires a signed config but none was provided", a.agentType.FQN())
		}
		if a.deps.Verifier == nil {
			return fmt.Errorf("agent type %s requires signature verification but none is configured", a.agentType.FQN())
		}
		if err := a.deps.Verifier.VerifySignature(ctx, sig.Algorithm, sig.KeyID, body, sig.PayloadB64); err != nil {
			return err
		}
	}
	if a.deps.Validators != nil {
		if err := a.deps.Validators.Validate(body); err != nil {
			return err
		}
	}
	return nil
}

// buildFromYAML renders the effective runtime config and constructs a
// supervisor for it. It never starts the supervisor: starting is a
// separate, later step so callers can insert a stop-old-supervisor step
// between build and start (see startAndSetCurrent).
func (a *SubAgent) buildFromYAML(ctx context.Context, body []byte) (RunningSupervisor, error) {
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(body, &values); err != nil {
		return nil, errors.Wrap(err, "decoding values document")
	}
	rc, err := agenttype.Render(
		ctx, a.id, a.agentType, values,
		a.deps.Attributes, a.deps.EnvVars, a.deps.ACVars, a.deps.Secrets,
		a.deps.Persister, a.deps.BaseDir,
	)
	if err != nil {
		return nil, errors.Wrap(err, "rendering runtime config")
	}
	sup, err := a.deps.Builder.Build(ctx, a.id, rc)
	if err != nil {
		return nil, errors.Wrap(err, "building supervisor")
	}
	return sup, nil
}

// startAndSetCurrent starts an already-built supervisor and, only on
// success, installs it as a.current and begins forwarding its health
// events. Callers must call this after stopping any previous supervisor.
func (a *SubAgent) startAndSetCurrent(ctx context.Context, sup RunningSupervisor) error {
	if err := sup.Start(ctx); err != nil {
		return errors.Wrap(err, "starting supervisor")
	}
	a.setCurrent(ctx, sup)
	return nil
}

func (a *SubAgent) setCurrent(ctx context.Context, sup RunningSupervisor) {
	a.current = sup
	fctx, cancel := context.WithCancel(ctx)
	a.currentCancel = cancel
	go a.forwardHealth(fctx, sup)
}

func (a *SubAgent) forwardHealth(ctx context.Context, sup RunningSupervisor) {
	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-sup.Health():
			if !ok {
				return
			}
			select {
			case a.internalCh <- internalEvent{kind: eventHealth, health: h}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *SubAgent) stopCurrent() {
	if a.currentCancel != nil {
		a.currentCancel()
		a.currentCancel = nil
	}
	if a.current != nil {
		a.current.Stop()
		a.current = nil
	}
}

func (a *SubAgent) reportRemoteState(ctx context.Context, hash string, state remoteconfig.State, errMsg string) {
	if a.deps.ManagementClient == nil {
		return
	}
	_ = a.deps.ManagementClient.SetRemoteConfigStatus(ctx, hash, state, errMsg)
}
