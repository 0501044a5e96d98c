package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const separator = "-"

// bodyMethods are the methods whose request body is part of the cache key.
var bodyMethods = map[string]struct{}{
	"POST":  {},
	"PUT":   {},
	"PATCH": {},
}

// HasBody reports whether requests with the given method carry a body.
// The comparison is case-insensitive.
func HasBody(method string) bool {
	_, ok := bodyMethods[strings.ToUpper(method)]
	return ok
}

// Key returns the cache key for a request.
// For GET-like methods the key is `method-path`.
// If the method carries a body, the hex SHA-256 of the body is appended,
// so requests to the same path with different bodies never share an entry.
func Key(method, path string, body []byte) string {
	key := method + separator + path
	if HasBody(method) {
		key += separator + BodyHash(body)
	}
	return key
}

// BodyHash returns the lowercase hex SHA-256 of a request body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
