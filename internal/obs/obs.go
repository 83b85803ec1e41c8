package obs

import "time"

// RequestContext describes one inbound lookup request.
type RequestContext struct {
	RequestID     string
	Transport     string
	Method        string
	Path          string
	Lat           float64
	Lon           float64
	Status        int
	Duration      time.Duration
	Source        string
	ErrorCategory string
	UserAgent     string
	RemoteAddr    string
}

// DispatchContext describes one outbound geocoder call.
type DispatchContext struct {
	Key           string
	Kind          string
	Waiters       int
	Duration      time.Duration
	Found         bool
	Reason        string
	ErrorCategory string
}
