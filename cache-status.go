package proxycache

import (
	"fmt"
	"time"
)

// cacheName identifies this cache in Cache-Status header values.
const cacheName = "proxy-cache"

type CacheStatusFwdReason string

const (
	// The cache did not contain a response for the request.
	CacheStatusFwdMiss CacheStatusFwdReason = "miss"

	// The cache contained a response for the request, but it was stale.
	CacheStatusFwdStale CacheStatusFwdReason = "stale"
)

// CacheStatus builds a Cache-Status header value (RFC 9211).
type CacheStatus struct {
	hit       bool
	fwdReason CacheStatusFwdReason
	stored    bool
	ttl       time.Duration
	detail    string
}

func (cs *CacheStatus) Hit(ttl time.Duration) {
	cs.hit = true
	cs.ttl = ttl
}

func (cs *CacheStatus) Forward(reason CacheStatusFwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	var status string
	if cs.hit {
		status = cacheName + "; hit"
		if cs.ttl > 0 {
			status = fmt.Sprintf("%s; ttl=%d", status, int(cs.ttl.Seconds()))
		}
	} else {
		status = fmt.Sprintf("%s; fwd=%s", cacheName, cs.fwdReason)
	}
	if cs.stored {
		status += "; stored"
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
