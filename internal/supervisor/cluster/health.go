package cluster

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/cli-utils/pkg/kstatus/status"
)

// DeriveHealth inspects an applied object's replica status: it is healthy
// when ready_replicas >= replicas - max_unavailable, where max_unavailable
// is read from the declared rolling-update strategy (percentages rounded
// per Kubernetes convention: floor for max_unavailable). A paused object is
// always unhealthy with a descriptive message.
func DeriveHealth(object *unstructured.Unstructured) (ObjectStatus, error) {
	kind := object.GetKind()
	name := object.GetName()

	if paused, found, _ := unstructured.NestedBool(object.Object, "spec", "paused"); found && paused {
		return ObjectStatus{Healthy: false, LastError: "object is paused"}, nil
	}

	replicas, found, err := unstructured.NestedInt64(object.Object, "spec", "replicas")
	if err != nil || !found {
		return ObjectStatus{}, &MissingK8sObjectField{Kind: kind, Name: name, Field: "spec.replicas"}
	}

	readyReplicas, found, err := unstructured.NestedInt64(object.Object, "status", "readyReplicas")
	if err != nil || !found {
		return ObjectStatus{}, &MissingK8sObjectField{Kind: kind, Name: name, Field: "status.readyReplicas"}
	}

	maxUnavailable, err := readMaxUnavailable(object, replicas)
	if err != nil {
		return ObjectStatus{}, err
	}

	if readyReplicas >= replicas-maxUnavailable {
		return ObjectStatus{Healthy: true}, nil
	}
	msg := fmt.Sprintf(
		"%d/%d replicas ready, need at least %d",
		readyReplicas, replicas, replicas-maxUnavailable,
	)
	if extra := kstatusMessage(object); extra != "" {
		msg = msg + ": " + extra
	}
	return ObjectStatus{Healthy: false, LastError: msg}, nil
}

// kstatusMessage asks cli-utils' generic status computation (the same
// mechanism the teacher registers as a summarizer in
// internal/helmdeployer/kustomize/kstatus.go) for a human-readable
// condition message to attach to an unhealthy replica count. The replica
// math above remains the source of truth for Healthy; this only enriches
// the diagnostic.
func kstatusMessage(object *unstructured.Unstructured) string {
	result, err := status.Compute(object)
	if err != nil || result == nil {
		return ""
	}
	return result.Message
}

// readMaxUnavailable reads spec.strategy.rollingUpdate.maxUnavailable,
// defaulting to 0 when no rolling-update strategy is declared. A string
// value ending in "%" is treated as a percentage of replicas, rounded down
// per Kubernetes convention; otherwise it's a plain integer count.
func readMaxUnavailable(object *unstructured.Unstructured, replicas int64) (int64, error) {
	raw, found, err := unstructured.NestedFieldNoCopy(object.Object, "spec", "strategy", "rollingUpdate", "maxUnavailable")
	if err != nil || !found || raw == nil {
		return 0, nil
	}

	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if strings.HasSuffix(s, "%") {
			pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
			if err != nil {
				return 0, fmt.Errorf("parsing maxUnavailable percentage %q: %w", v, err)
			}
			return int64(math.Floor(float64(replicas) * pct / 100)), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing maxUnavailable %q: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported maxUnavailable value type %T", raw)
	}
}
