// Package healthtypes defines the Health sum type shared by both supervisor
// implementations and forwarded upstream by the sub-agent runtime.
package healthtypes

import "time"

// Health is either Healthy or Unhealthy, each carrying the time the
// supervised unit (process or cluster object set) started.
type Health struct {
	Healthy   bool
	Status    string
	LastError string
	StartTime time.Time
}

func NewHealthy(status string, start time.Time) Health {
	return Health{Healthy: true, Status: status, StartTime: start}
}

func NewUnhealthy(status, lastError string, start time.Time) Health {
	return Health{Healthy: false, Status: status, LastError: lastError, StartTime: start}
}

// Equal reports whether two health reports describe the same condition,
// ignoring StartTime; used to decide whether a transition should be logged.
func (h Health) Equal(other Health) bool {
	return h.Healthy == other.Healthy && h.Status == other.Status && h.LastError == other.LastError
}

func (h Health) String() string {
	if h.Healthy {
		return "healthy: " + h.Status
	}
	return "unhealthy: " + h.LastError
}
