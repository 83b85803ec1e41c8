package cache

import "time"

// Entry is a resolved lookup. Found is false when the lookup succeeded but
// had nothing to report; Reason then carries the upstream's explanation,
// if it gave one.
type Entry struct {
	Name     string
	Found    bool
	Reason   string
	StoredAt time.Time
}

type Store interface {
	Get(key Key) (Entry, bool)
	Put(key Key, entry Entry)
	Len() int
}
