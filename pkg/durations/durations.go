// Package durations centralizes the timing constants the supervisors and
// the sub-agent runtime use, so a single place documents every cadence and
// timeout instead of them being scattered as unexported literals. Kept from
// the teacher's equivalent package (a flat const block of named
// time.Duration values), repurposed from fleet's cluster/bundle cadences to
// agent-control's own.
package durations

import "time"

const (
	// UptimeTick is C10's liveness-tick period (spec.md §4.10).
	UptimeTick = time.Second * 60
	// TerminationGracePeriod is how long C8 waits after sending a graceful
	// termination signal before force-killing the child (spec.md §4.8).
	TerminationGracePeriod = time.Second * 10
	// DefaultHealthProbeInterval is the cadence of a host executable's
	// HTTP/TCP health probe; the probe spec does not change it.
	DefaultHealthProbeInterval = time.Second * 15
	// DefaultHealthProbeTimeout bounds a single probe attempt.
	DefaultHealthProbeTimeout = time.Second * 5
	// DefaultClusterPollInterval is C9's cadence for re-reading managed
	// objects' replica status.
	DefaultClusterPollInterval = time.Second * 15
	// CertificateFetchTimeout bounds a single HTTPS certificate fetch in C5.
	CertificateFetchTimeout = time.Second * 10
	// MinRestartBackoff floors the restart-policy backoff delay so a
	// misconfigured agent type with backoff_delay=0 can't busy-loop restarts.
	MinRestartBackoff = time.Second
)
