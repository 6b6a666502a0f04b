package cluster

import "fmt"

// MissingK8sObjectField is returned when health derivation needs a status
// field (replicas, readyReplicas, ...) an applied object doesn't carry.
type MissingK8sObjectField struct {
	Kind  string
	Name  string
	Field string
}

func (e *MissingK8sObjectField) Error() string {
	return fmt.Sprintf("object %s/%s is missing status field %q", e.Kind, e.Name, e.Field)
}
