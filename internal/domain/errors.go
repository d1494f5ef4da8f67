package domain

import "errors"

// Error kinds surfaced by the tracking core. All of them are recoverable:
// callers present them as "no data" states.
var (
	ErrUnknownTrip       = errors.New("unknown trip")
	ErrUnknownRoute      = errors.New("unknown route")
	ErrUnknownStop       = errors.New("unknown stop")
	ErrAmbiguousRoute    = errors.New("ambiguous route name")
	ErrUnknownOrigin     = errors.New("unknown origin")
	ErrEmptyStationList  = errors.New("empty station list")
	ErrUnresolvedVehicle = errors.New("unresolved vehicle")
	ErrStaleSnapshot     = errors.New("stale snapshot")

	ErrMalformedFeed   = errors.New("malformed static feed")
	ErrMalformedRecord = errors.New("malformed vehicle record")
)
