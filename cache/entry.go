package cache

import "time"

// Entry is a cached origin response.
// Entries are never mutated once stored; a newer fetch replaces them wholesale.
type Entry struct {
	Body []byte
	// ContentType is the origin's Content-Type, empty if the origin sent none.
	ContentType string
	CreatedAt   time.Time
	TTL         time.Duration
}

// Valid reports whether the entry may still be served as fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Sub(e.CreatedAt) <= e.TTL
}

// Expired reports whether the sweep should purge the entry at now,
// i.e. whether CreatedAt + TTL <= now.
func (e Entry) Expired(now time.Time) bool {
	return !e.CreatedAt.Add(e.TTL).After(now)
}

// Remaining returns the time left until the entry expires.
// It is zero or negative for expired entries.
func (e Entry) Remaining(now time.Time) time.Duration {
	return e.TTL - now.Sub(e.CreatedAt)
}
