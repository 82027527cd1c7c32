package privacy

import "time"

// Observer receives notifications about scans and degraded operations.
// Implementations must be safe for concurrent use.
type Observer interface {
	ScanCompleted(backend string, findings []Finding, elapsed time.Duration)
	BackendDegraded(backend string, err error)
	MaskFallback(piiType string)
}

type nopObserver struct{}

func (nopObserver) ScanCompleted(string, []Finding, time.Duration) {}
func (nopObserver) BackendDegraded(string, error)                  {}
func (nopObserver) MaskFallback(string)                            {}

// NopObserver discards every notification.
var NopObserver Observer = nopObserver{}
