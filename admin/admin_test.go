package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proxycache "github.com/always-cache/proxy-cache"
	"github.com/always-cache/proxy-cache/cache"
)

type fakeAdmin struct {
	mu          sync.Mutex
	entries     map[string]time.Duration
	shutdowns   int
	shutdownErr error
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{entries: map[string]time.Duration{
		"GET-/index.html":   90 * time.Second,
		"POST-/form-abc123": 1500 * time.Millisecond,
	}}
}

func (f *fakeAdmin) ListEntries() []cache.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	listings := make([]cache.Listing, 0, len(f.entries))
	for _, key := range []string{"GET-/index.html", "POST-/form-abc123"} {
		if remaining, ok := f.entries[key]; ok {
			listings = append(listings, cache.Listing{Key: key, Remaining: remaining})
		}
	}
	return listings
}

func (f *fakeAdmin) RemoveEntry(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok
}

func (f *fakeAdmin) RequestShutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return f.shutdownErr
}

func (f *fakeAdmin) Stats() proxycache.Stats {
	return proxycache.Stats{Requests: 7, Hits: 3}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestListEntries(t *testing.T) {
	h := NewRouter(newFakeAdmin(), zerolog.Nop())

	rr := do(t, h, http.MethodGet, "/entries")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var entries []Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	assert.Equal(t, []Entry{
		{Key: "GET-/index.html", ExpiresIn: "1m30s", ExpiresInSeconds: 90},
		{Key: "POST-/form-abc123", ExpiresIn: "1s", ExpiresInSeconds: 1},
	}, entries)
}

func TestListEntriesEmptyIsArray(t *testing.T) {
	a := newFakeAdmin()
	a.entries = map[string]time.Duration{}
	rr := do(t, NewRouter(a, zerolog.Nop()), http.MethodGet, "/entries")
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestRemoveEntryWithSlashesInKey(t *testing.T) {
	a := newFakeAdmin()
	h := NewRouter(a, zerolog.Nop())

	rr := do(t, h, http.MethodDelete, "/entries/GET-/index.html")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotContains(t, a.entries, "GET-/index.html")

	rr = do(t, h, http.MethodDelete, "/entries/GET-/index.html")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRemoveEntryWithoutKey(t *testing.T) {
	rr := do(t, NewRouter(newFakeAdmin(), zerolog.Nop()), http.MethodDelete, "/entries/")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStats(t *testing.T) {
	rr := do(t, NewRouter(newFakeAdmin(), zerolog.Nop()), http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rr.Code)

	var stats proxycache.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.EqualValues(t, 7, stats.Requests)
	assert.EqualValues(t, 3, stats.Hits)
}

func TestShutdown(t *testing.T) {
	a := newFakeAdmin()
	h := NewRouter(a, zerolog.Nop())

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/shutdown").Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/shutdown").Code)
	assert.Equal(t, 1, a.shutdowns)

	a.shutdownErr = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/shutdown").Code)
}

func TestConsoleListAndRemove(t *testing.T) {
	a := newFakeAdmin()
	out := &bytes.Buffer{}
	c := NewConsole(a, strings.NewReader("1\n2\nGET-/index.html\n2\nnope\n9\n"), out)

	require.NoError(t, c.Run())

	text := out.String()
	assert.Contains(t, text, "Key: GET-/index.html (Expires in: 90 seconds)")
	assert.Contains(t, text, "Key: POST-/form-abc123 (Expires in: 1 seconds)")
	assert.Contains(t, text, "Cache entry removed: GET-/index.html")
	assert.Contains(t, text, "No cache entry found for key: nope")
	assert.Contains(t, text, "Invalid choice. Please try again.")
	assert.Equal(t, 0, a.shutdowns)
}

func TestConsoleEmptyCache(t *testing.T) {
	a := newFakeAdmin()
	a.entries = map[string]time.Duration{}
	out := &bytes.Buffer{}

	require.NoError(t, NewConsole(a, strings.NewReader("1\n"), out).Run())
	assert.Contains(t, out.String(), "No pages in cache.")
}

func TestConsoleStop(t *testing.T) {
	a := newFakeAdmin()
	out := &bytes.Buffer{}

	// input after the stop command is not read
	require.NoError(t, NewConsole(a, strings.NewReader("3\n1\n"), out).Run())
	assert.Equal(t, 1, a.shutdowns)
	assert.Contains(t, out.String(), "Server stopped.")
	assert.NotContains(t, out.String(), "Cached pages:")
}
