package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func deployment(replicas, ready int64, maxUnavailable interface{}) *unstructured.Unstructured {
	spec := map[string]interface{}{
		"replicas": replicas,
	}
	if maxUnavailable != nil {
		spec["strategy"] = map[string]interface{}{
			"rollingUpdate": map[string]interface{}{
				"maxUnavailable": maxUnavailable,
			},
		}
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"kind": "Deployment",
		"metadata": map[string]interface{}{
			"name": "my-deploy",
		},
		"spec": spec,
		"status": map[string]interface{}{
			"readyReplicas": ready,
		},
	}}
}

func TestDeriveHealthFullyReady(t *testing.T) {
	status, err := DeriveHealth(deployment(3, 3, nil))
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestDeriveHealthWithinMaxUnavailableCount(t *testing.T) {
	status, err := DeriveHealth(deployment(10, 9, int64(1)))
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestDeriveHealthWithMaxUnavailablePercentage(t *testing.T) {
	// 10 replicas, 25% maxUnavailable -> floor(2.5) = 2, need >= 8.
	status, err := DeriveHealth(deployment(10, 8, "25%"))
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	status, err = DeriveHealth(deployment(10, 7, "25%"))
	require.NoError(t, err)
	assert.False(t, status.Healthy)
}

func TestDeriveHealthBelowThreshold(t *testing.T) {
	status, err := DeriveHealth(deployment(3, 1, nil))
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Contains(t, status.LastError, "1/3")
}

func TestDeriveHealthPaused(t *testing.T) {
	obj := deployment(3, 3, nil)
	obj.Object["spec"].(map[string]interface{})["paused"] = true
	status, err := DeriveHealth(obj)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Contains(t, status.LastError, "paused")
}

func TestDeriveHealthMissingField(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"kind":     "Deployment",
		"metadata": map[string]interface{}{"name": "x"},
	}}
	_, err := DeriveHealth(obj)
	require.Error(t, err)
	var mf *MissingK8sObjectField
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "spec.replicas", mf.Field)
}
