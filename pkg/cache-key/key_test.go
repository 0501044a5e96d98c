package cachekey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetKeyIsMethodAndPath(t *testing.T) {
	if key := Key("GET", "/index.html", nil); key != "GET-/index.html" {
		t.Fatalf("Key is %s", key)
	}
}

func TestGetKeyIgnoresBody(t *testing.T) {
	assert.Equal(t, Key("GET", "/page", nil), Key("GET", "/page", []byte("ignored")))
}

func TestKeyIsDeterministic(t *testing.T) {
	cases := []struct {
		method string
		path   string
		body   []byte
	}{
		{"GET", "/", nil},
		{"HEAD", "/a?b=c", nil},
		{"POST", "/submit", []byte("a=1")},
		{"PUT", "/items/1", []byte(`{"name":"x"}`)},
		{"POST", "/empty", nil},
	}
	for _, c := range cases {
		assert.Equal(t, Key(c.method, c.path, c.body), Key(c.method, c.path, c.body), "%s %s", c.method, c.path)
	}
}

func TestPostKeysDifferByBody(t *testing.T) {
	first := Key("POST", "/submit", []byte("a=1"))
	second := Key("POST", "/submit", []byte("a=2"))

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, "POST-/submit-"), first)
	assert.True(t, strings.HasSuffix(first, BodyHash([]byte("a=1"))), first)
}

func TestBodyKeyDoesNotAliasPath(t *testing.T) {
	// a body hash must never make a POST key look like the GET key of another path
	assert.NotEqual(t, Key("GET", "/submit", nil), Key("POST", "/submit", nil))
}

func TestHasBody(t *testing.T) {
	assert.True(t, HasBody("POST"))
	assert.True(t, HasBody("post"))
	assert.True(t, HasBody("PATCH"))
	assert.False(t, HasBody("GET"))
	assert.False(t, HasBody("DELETE"))
}
