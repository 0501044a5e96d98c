package proxycache

import "sync/atomic"

// Stats counts how requests were served since the server started.
type Stats struct {
	Requests      int64 `json:"requests"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	StaleServed   int64 `json:"stale_served"`
	OriginFetches int64 `json:"origin_fetches"`
	Errors        int64 `json:"errors"`
}

type stats struct {
	requests      atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	staleServed   atomic.Int64
	originFetches atomic.Int64
	errors        atomic.Int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Requests:      s.requests.Load(),
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		StaleServed:   s.staleServed.Load(),
		OriginFetches: s.originFetches.Load(),
		Errors:        s.errors.Load(),
	}
}
