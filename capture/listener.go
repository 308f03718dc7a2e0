package capture

import "github.com/ridelog-data/ridelog/model"

// Listener is the outward notification seam of the capture service. All
// callbacks are invoked synchronously from capture internals and must
// return quickly.
type Listener interface {
	// OnFixAcquired fires when location updates become recent enough to
	// count as a geolocation fix.
	OnFixAcquired()

	// OnFixLost fires when updates stop arriving or grow stale.
	OnFixLost()

	// OnLocation delivers accepted locations, throttled by the configured
	// skip rate. Storage is unaffected by the throttling.
	OnLocation(location model.GeoLocation)

	// OnLifecycleEvent mirrors every event appended to the measurement's
	// event log.
	OnLifecycleEvent(event model.Event)

	// OnMeasurementPaused fires during startup recovery when an
	// interrupted (never finalized) measurement is found in storage.
	OnMeasurementPaused(id model.MeasurementID)
}

// NopListener ignores all notifications. Embed it to implement only the
// callbacks of interest.
type NopListener struct{}

func (NopListener) OnFixAcquired()                            {}
func (NopListener) OnFixLost()                                {}
func (NopListener) OnLocation(model.GeoLocation)              {}
func (NopListener) OnLifecycleEvent(model.Event)              {}
func (NopListener) OnMeasurementPaused(model.MeasurementID)   {}
