package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 300000 * time.Millisecond

// State is the outcome of a Lookup.
type State int

const (
	// Missing means there is no entry for the key.
	Missing State = iota
	// Fresh means the entry is within its TTL and may be served.
	Fresh
	// Expired means the entry was found past its TTL and has been removed.
	// It must not be served as fresh, but it may be used as a stale fallback.
	Expired
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Expired:
		return "expired"
	default:
		return "missing"
	}
}

type Config struct {
	// Storage for the entries. A MemCache is used if nil.
	Provider Provider
	// Lifetime of new entries. DefaultTTL is used if zero.
	TTL time.Duration
	// Period of the background sweep. Defaults to TTL; negative disables the sweep.
	SweepInterval time.Duration
	// Clock used for stamping and expiring entries. Defaults to time.Now.
	Now func() time.Time
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Listing is a key with the time left until its entry expires.
type Listing struct {
	Key       string
	Remaining time.Duration
}

// Store is a concurrency-safe TTL cache of origin responses.
//
// Expiry happens in two independent ways: Lookup treats an expired entry as a miss
// and removes it, and a background sweep purges expired entries every SweepInterval
// whether or not they are read.
//
// The store has no size bound. Memory grows with the number of distinct keys
// stored within one TTL; callers exposed to high key cardinality (e.g. many distinct
// POST bodies) should size the TTL accordingly.
type Store struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStore creates a store and starts the background sweep.
// Call Close to stop it.
func NewStore(config Config) *Store {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	s := &Store{
		provider: config.Provider,
		ttl:      config.TTL,
		now:      config.Now,
		log:      logger.With().Str("component", "cache").Logger(),
	}
	if s.provider == nil {
		s.provider = NewMemCache()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}

	interval := config.SweepInterval
	if interval == 0 {
		interval = s.ttl
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if interval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(interval)
	}

	return s
}

// TTL returns the lifetime given to new entries.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Now returns the current time of the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// NewEntry creates an entry stamped with the store clock and TTL.
func (s *Store) NewEntry(body []byte, contentType string) Entry {
	return Entry{
		Body:        body,
		ContentType: contentType,
		CreatedAt:   s.now(),
		TTL:         s.ttl,
	}
}

// Get returns the fresh entry stored under key.
func (s *Store) Get(key string) (Entry, bool) {
	entry, state := s.Lookup(key)
	if state != Fresh {
		return Entry{}, false
	}
	return entry, true
}

// Lookup finds the entry stored under key.
// An entry past its TTL is removed and returned with state Expired.
// A fresh entry stored under key after the read is left in place.
// Provider errors are logged and reported as Missing.
func (s *Store) Lookup(key string) (Entry, State) {
	entry, ok, err := s.provider.Get(key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return Entry{}, Missing
	}
	if !ok {
		return Entry{}, Missing
	}
	now := s.now()
	if entry.Valid(now) {
		return entry, Fresh
	}
	// another connection may have stored a fresh entry since the read
	removed, err := s.provider.DeleteIfStale(key, now)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not remove expired entry")
	} else if removed {
		s.log.Debug().Str("key", key).Msg("Removed expired cache entry during request")
	}
	return entry, Expired
}

// Put stores the entry under key, replacing any previous entry.
func (s *Store) Put(key string, entry Entry) error {
	if err := s.provider.Put(key, entry); err != nil {
		return err
	}
	s.log.Debug().Str("key", key).Dur("ttl", entry.TTL).Msg("Added new cache entry")
	return nil
}

// Remove deletes the entry for key and reports whether there was one.
func (s *Store) Remove(key string) bool {
	removed, err := s.provider.Delete(key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not remove cache entry")
		return false
	}
	return removed
}

// List returns the stored keys with strictly positive remaining TTL, ordered by key.
func (s *Store) List() []Listing {
	entries, err := s.provider.All()
	if err != nil {
		s.log.Error().Err(err).Msg("Could not list cache entries")
		return nil
	}
	now := s.now()
	listings := make([]Listing, 0, len(entries))
	for _, ke := range entries {
		if remaining := ke.Entry.Remaining(now); remaining > 0 {
			listings = append(listings, Listing{Key: ke.Key, Remaining: remaining})
		}
	}
	return listings
}

// Sweep removes every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	removed, err := s.provider.DeleteExpired(s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("Could not sweep cache")
		return 0
	}
	for _, key := range removed {
		s.log.Debug().Str("key", key).Msg("Removed expired cache entry")
	}
	return len(removed)
}

// Close stops the sweep and closes the provider.
// It is safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		err = s.provider.Close()
	})
	return err
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Msgf("Starting cache sweep every %s", interval)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Trace().Int("removed", n).Msg("Cache sweep done")
			}
		}
	}
}
