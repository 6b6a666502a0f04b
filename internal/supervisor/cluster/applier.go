// Package cluster implements the cluster supervisor (spec.md §4.9): it
// applies a rendered map of declarative objects idempotently and derives
// health from their replica status.
package cluster

import (
	"context"

	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ObjectStatus is what Status() reports for one applied object.
type ObjectStatus struct {
	Healthy   bool
	LastError string
}

// ObjectApplier is the C9 capability: apply a namespaced object (create or
// update, never delete), and read back its health-relevant status.
type ObjectApplier interface {
	Apply(ctx context.Context, namespace string, object *unstructured.Unstructured) error
	Status(ctx context.Context, namespace string, object *unstructured.Unstructured) (ObjectStatus, error)
}

// ControllerRuntimeApplier wraps a controller-runtime client, the teacher's
// object-application mechanism in pkg/helmdeployer and internal/cmd/agent/
// deployer, generalized here from Helm releases to arbitrary unstructured
// objects.
type ControllerRuntimeApplier struct {
	Client client.Client
}

func NewControllerRuntimeApplier(c client.Client) *ControllerRuntimeApplier {
	return &ControllerRuntimeApplier{Client: c}
}

// Apply creates the object if absent, or updates it in place (preserving
// resourceVersion) if it already exists. It never deletes an object this
// supervisor did not itself create.
func (a *ControllerRuntimeApplier) Apply(ctx context.Context, namespace string, object *unstructured.Unstructured) error {
	object = object.DeepCopy()
	object.SetNamespace(namespace)

	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(object.GroupVersionKind())
	err := a.Client.Get(ctx, client.ObjectKeyFromObject(object), existing)
	switch {
	case apierrors.IsNotFound(err):
		if err := a.Client.Create(ctx, object); err != nil {
			return errors.Wrapf(err, "creating %s/%s", object.GetKind(), object.GetName())
		}
		return nil
	case err != nil:
		return errors.Wrapf(err, "getting %s/%s", object.GetKind(), object.GetName())
	}

	object.SetResourceVersion(existing.GetResourceVersion())
	if err := a.Client.Update(ctx, object); err != nil {
		return errors.Wrapf(err, "updating %s/%s", object.GetKind(), object.GetName())
	}
	return nil
}

// Status reads the live object back and derives health from its replica
// counts (see health.go).
func (a *ControllerRuntimeApplier) Status(ctx context.Context, namespace string, object *unstructured.Unstructured) (ObjectStatus, error) {
	live := &unstructured.Unstructured{}
	live.SetGroupVersionKind(object.GroupVersionKind())
	key := client.ObjectKeyFromObject(object)
	key.Namespace = namespace
	if err := a.Client.Get(ctx, key, live); err != nil {
		return ObjectStatus{}, errors.Wrapf(err, "getting %s/%s for status", object.GetKind(), object.GetName())
	}
	return DeriveHealth(live)
}
