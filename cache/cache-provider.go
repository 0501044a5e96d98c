package cache

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Provider is the storage behind a Store.
// It keeps entries by key and knows nothing about freshness
// except for DeleteExpired, which the sweep uses to purge in bulk.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the entry stored under key.
	// The boolean is false if there is no such entry.
	Get(key string) (Entry, bool, error)
	// Put stores the entry under key, replacing any previous entry.
	Put(key string, entry Entry) error
	// Delete removes the entry for key.
	// It returns true if an entry was removed.
	Delete(key string) (bool, error)
	// DeleteIfStale removes the entry for key only if it is no longer valid at now,
	// checked atomically with the removal. An entry replaced in the meantime is kept.
	// It returns true if an entry was removed.
	DeleteIfStale(key string, now time.Time) (bool, error)
	// All returns every stored entry, expired or not, ordered by key.
	All() ([]KeyedEntry, error)
	// DeleteExpired removes every entry whose CreatedAt + TTL is not after now
	// and returns the removed keys.
	DeleteExpired(now time.Time) ([]string, error)
	// Close releases the resources held by the provider.
	Close() error
}

// KeyedEntry is an entry together with its key.
type KeyedEntry struct {
	Key   string
	Entry Entry
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]Entry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]Entry),
	}
}

func (m MemCache) Get(key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	return entry, ok, nil
}

func (m MemCache) Put(key string, entry Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = entry
	return nil
}

func (m MemCache) Delete(key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[key]
	delete(m.db, key)
	return ok, nil
}

func (m MemCache) DeleteIfStale(key string, now time.Time) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[key]
	if !ok || entry.Valid(now) {
		return false, nil
	}
	delete(m.db, key)
	return true, nil
}

func (m MemCache) All() ([]KeyedEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]KeyedEntry, 0, len(m.db))
	for key, entry := range m.db {
		entries = append(entries, KeyedEntry{Key: key, Entry: entry})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m MemCache) DeleteExpired(now time.Time) ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	removed := make([]string, 0)
	for key, entry := range m.db {
		if entry.Expired(now) {
			delete(m.db, key)
			removed = append(removed, key)
		}
	}
	return removed, nil
}

func (m MemCache) Close() error {
	return nil
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache opens (or creates) a cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	// a single connection keeps the shared in-memory db alive and serializes access
	db.SetMaxOpenConns(1)
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			body BLOB,
			content_type TEXT,
			created_at INTEGER,
			ttl INTEGER
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (created_at + ttl)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(key string) (Entry, bool, error) {
	var entry Entry
	var created, ttl int64
	err := s.db.QueryRow("SELECT body, content_type, created_at, ttl FROM cache WHERE key = ?", key).
		Scan(&entry.Body, &entry.ContentType, &created, &ttl)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry.CreatedAt = time.Unix(0, created)
	entry.TTL = time.Duration(ttl)
	return entry, true, nil
}

func (s SQLiteCache) Put(key string, entry Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, body, content_type, created_at, ttl) VALUES (?, ?, ?, ?, ?)`,
		key, entry.Body, entry.ContentType, entry.CreatedAt.UnixNano(), int64(entry.TTL))
	return err
}

func (s SQLiteCache) Delete(key string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s SQLiteCache) DeleteIfStale(key string, now time.Time) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.Exec("DELETE FROM cache WHERE key = ? AND created_at + ttl < ?", key, now.UnixNano())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s SQLiteCache) All() ([]KeyedEntry, error) {
	rows, err := s.db.Query("SELECT key, body, content_type, created_at, ttl FROM cache ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]KeyedEntry, 0)
	for rows.Next() {
		var ke KeyedEntry
		var created, ttl int64
		if err := rows.Scan(&ke.Key, &ke.Entry.Body, &ke.Entry.ContentType, &created, &ttl); err != nil {
			return entries, err
		}
		ke.Entry.CreatedAt = time.Unix(0, created)
		ke.Entry.TTL = time.Duration(ttl)
		entries = append(entries, ke)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) DeleteExpired(now time.Time) ([]string, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	cutoff := now.UnixNano()
	rows, err := s.db.Query("SELECT key FROM cache WHERE created_at + ttl <= ?", cutoff)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := s.db.Exec("DELETE FROM cache WHERE created_at + ttl <= ?", cutoff); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
