package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/rancher/agent-control/internal/healthtypes"
	"github.com/rancher/agent-control/pkg/durations"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Supervisor applies a cluster runtime config's objects once and then polls
// their status on a fixed interval, publishing aggregate health — unhealthy
// if any managed object is unhealthy.
type Supervisor struct {
	namespace string
	objects   map[string]*unstructured.Unstructured
	applier   ObjectApplier
	log       *logrus.Entry
	interval  time.Duration

	health chan healthtypes.Health
	stop   chan struct{}
	done   chan struct{}
}

func New(namespace string, cfg *agenttype.ClusterRuntimeConfig, applier ObjectApplier, log *logrus.Entry) *Supervisor {
	objects := make(map[string]*unstructured.Unstructured, len(cfg.Objects))
	for key, obj := range cfg.Objects {
		u := &unstructured.Unstructured{Object: map[string]interface{}{}}
		for k, v := range obj.Body {
			u.Object[k] = v
		}
		u.SetAPIVersion(obj.APIVersion)
		u.SetKind(obj.Kind)
		u.SetName(obj.Metadata.Name)
		if obj.Metadata.Labels != nil {
			u.SetLabels(obj.Metadata.Labels)
		}
		objects[key] = u
	}
	return &Supervisor{
		namespace: namespace,
		objects:   objects,
		applier:   applier,
		log:       log,
		interval:  durations.DefaultClusterPollInterval,
		health:    make(chan healthtypes.Health, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Supervisor) Health() <-chan healthtypes.Health { return s.health }

// Start applies every managed object once, then begins the periodic
// health-poll loop in its own goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.applyAll(ctx); err != nil {
		return err
	}
	s.health <- healthtypes.NewHealthy("applied", time.Now())
	go s.pollLoop(ctx)
	return nil
}

func (s *Supervisor) applyAll(ctx context.Context) error {
	for _, key := range s.sortedKeys() {
		if err := s.applier.Apply(ctx, s.namespace, s.objects[key]); err != nil {
			return errors.Wrapf(err, "applying object %q", key)
		}
	}
	return nil
}

func (s *Supervisor) sortedKeys() []string {
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Supervisor) pollLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	startTime := time.Now()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx, startTime)
		}
	}
}

func (s *Supervisor) pollOnce(ctx context.Context, startTime time.Time) {
	var unhealthy []string
	for _, key := range s.sortedKeys() {
		status, err := s.applier.Status(ctx, s.namespace, s.objects[key])
		if err != nil {
			var missing *MissingK8sObjectField
			if errors.As(err, &missing) {
				unhealthy = append(unhealthy, fmt.Sprintf("%s: %s", key, missing.Error()))
				continue
			}
			s.log.WithError(err).WithField("object", key).Error("failed to read object status")
			unhealthy = append(unhealthy, fmt.Sprintf("%s: %s", key, err.Error()))
			continue
		}
		if !status.Healthy {
			unhealthy = append(unhealthy, fmt.Sprintf("%s: %s", key, status.LastError))
		}
	}

	if len(unhealthy) == 0 {
		s.health <- healthtypes.NewHealthy("applied", startTime)
		return
	}
	s.health <- healthtypes.NewUnhealthy("degraded", fmt.Sprintf("unhealthy objects: %v", unhealthy), startTime)
}

// Stop halts the poll loop. Applied objects are left in place — the
// supervisor never deletes objects it did not explicitly remove.
func (s *Supervisor) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
