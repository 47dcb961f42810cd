package watch

// FetchStatus classifies how extraction ended for one source
type FetchStatus string

const (
	// FetchOK means the extractor produced a record
	FetchOK FetchStatus = "ok"
	// FetchEmpty means the source was reachable but no row matched
	FetchEmpty FetchStatus = "empty"
	// FetchError means extraction failed outright
	FetchError FetchStatus = "error"
)

// DeliveryStatus classifies the delivery gate's decision for one record
type DeliveryStatus string

const (
	// Delivered means the outbound send succeeded and the day's
	// delivery slot is now taken
	Delivered DeliveryStatus = "delivered"
	// Skipped means a delivery already succeeded today
	Skipped DeliveryStatus = "skipped"
	// DeliveryFailed means the outbound send was attempted and rejected
	DeliveryFailed DeliveryStatus = "failed"
	// NotAttempted means the record did not qualify for delivery
	// (not persisted, or not dated today)
	NotAttempted DeliveryStatus = "not_attempted"
)

// SourceOutcome summarizes one source's pass through the pipeline
type SourceOutcome struct {
	Source    string
	Fetch     FetchStatus
	DayKey    int
	Persisted bool
	Delivery  DeliveryStatus
	Err       error
}

// SatisfiesObligation reports whether this outcome put a record with the
// given day key into the store.
func (o SourceOutcome) SatisfiesObligation(today int) bool {
	return o.Persisted && o.DayKey == today
}
