package unipoll

import (
	"time"

	"github.com/jpalmerr/unipoll/internal/controller"
	"github.com/jpalmerr/unipoll/internal/poller"
)

// Error kinds reported in [CycleResult.ErrorKind].
const (
	// ErrorKindAuth means the controller rejected the credentials, including
	// a second 401 after re-authenticating.
	ErrorKindAuth = controller.KindAuth

	// ErrorKindAPI means the controller answered with a non-2xx status or an
	// error envelope.
	ErrorKindAPI = controller.KindAPI

	// ErrorKindTransport covers connection failures and timeouts.
	ErrorKindTransport = controller.KindTransport

	// ErrorKindParse means a response body was not the expected JSON shape.
	ErrorKindParse = controller.KindParse

	// ErrorKindOther covers everything else, including recovered panics.
	ErrorKindOther = controller.KindOther
)

// CycleResult holds the outcome of one poll cycle.
//
// CycleResult is passed to callbacks registered via [WithCycleCallback] and
// returned by [Exporter.Probe]. On success the counts describe the snapshot
// now being served; on failure the previous snapshot stays in place and
// Err holds the cause.
type CycleResult struct {
	// ID correlates the cycle with its log lines ("cycle_id").
	ID string

	// Success reports whether the snapshot was replaced.
	Success bool

	// Devices, Clients and Sites count the records kept in the snapshot.
	Devices int
	Clients int
	Sites   int

	// Skipped* count records dropped during normalization.
	SkippedDevices int
	SkippedClients int
	SkippedSites   int

	// Err is nil on success.
	Err error

	// ErrorKind classifies Err. Empty on success.
	ErrorKind string

	StartedAt time.Time
	Duration  time.Duration
}

func toPublicResult(r poller.CycleResult) CycleResult {
	return CycleResult{
		ID:             r.ID,
		Success:        r.State == poller.StateSuccess,
		Devices:        r.Devices,
		Clients:        r.Clients,
		Sites:          r.Sites,
		SkippedDevices: r.Skipped.Devices,
		SkippedClients: r.Skipped.Clients,
		SkippedSites:   r.Skipped.Sites,
		Err:            r.Err,
		ErrorKind:      r.ErrKind,
		StartedAt:      r.StartedAt,
		Duration:       r.Duration,
	}
}
