package lookup

// Source says how a lookup was answered.
type Source string

const (
	SourceHit       Source = "hit"
	SourceDedup     Source = "dedup"
	SourceImmediate Source = "immediate"
	SourceQueued    Source = "queued"
	SourceRejected  Source = "rejected"
)

// Slot is the state of the single dispatch slot.
type Slot int

const (
	// SlotIdle means the next miss dispatches straight away.
	SlotIdle Slot = iota
	// SlotActive means a dispatch is running.
	SlotActive
	// SlotCooldown means nothing is running but the quiet window has not
	// elapsed; misses are queued.
	SlotCooldown
)

func (s Slot) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotActive:
		return "active"
	case SlotCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

type dispatchKind string

const (
	kindImmediate dispatchKind = "immediate"
	kindDeferred  dispatchKind = "deferred"
)

// Stats is a point-in-time view of the coalescer.
type Stats struct {
	Slot         string `json:"slot"`
	Waiters      int    `json:"waiters"`
	Pending      int    `json:"pending"`
	CacheEntries int    `json:"cache_entries"`
	Closed       bool   `json:"closed"`
}
