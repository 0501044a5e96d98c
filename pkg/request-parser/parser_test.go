package parser

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(raw string) (*Request, error) {
	return Parse(bufio.NewReader(strings.NewReader(raw)))
}

func TestParseGet(t *testing.T) {
	req, err := parse("GET /index.html HTTP/1.1\r\nHost: localhost\r\nAccept: text/html\r\n\r\n")
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/index.html", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Version)
	assert.Equal(t, map[string]string{"host": "localhost", "accept": "text/html"}, req.Header)
	assert.Empty(t, req.Body)
}

func TestHeaderNamesAreLowercaseAndLastWins(t *testing.T) {
	req, err := parse("GET / HTTP/1.1\r\nX-Thing: one\r\nx-thing: two\r\nBroken-Line\r\n\r\n")
	require.NoError(t, err)

	assert.Equal(t, "two", req.Get("X-Thing"))
	assert.Len(t, req.Header, 1)
}

func TestHeaderValueKeepsLaterSeparators(t *testing.T) {
	req, err := parse("GET / HTTP/1.1\nX-Time: 12: 30\n\n")
	require.NoError(t, err)
	assert.Equal(t, "12: 30", req.Get("x-time"))
}

func TestParsePostBody(t *testing.T) {
	req, err := parse("POST /submit HTTP/1.1\r\nContent-Length: 3\r\n\r\na=1trailing")
	require.NoError(t, err)
	assert.Equal(t, "a=1", string(req.Body))
}

func TestPostWithoutLengthHasEmptyBody(t *testing.T) {
	req, err := parse("POST /submit HTTP/1.1\r\n\r\na=1")
	require.NoError(t, err)
	assert.Empty(t, req.Body)
}

func TestGetBodyIsNotRead(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"))
	req, err := Parse(r)
	require.NoError(t, err)
	assert.Empty(t, req.Body)
	rest, _ := io.ReadAll(r)
	assert.Equal(t, "abc", string(rest))
}

func TestShortBodyFails(t *testing.T) {
	_, err := parse("POST /submit HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBadRequest))
}

func TestInvalidContentLength(t *testing.T) {
	_, err := parse("POST /submit HTTP/1.1\r\nContent-Length: lots\r\n\r\n")
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = parse("POST /submit HTTP/1.1\r\nContent-Length: -3\r\n\r\n")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestMalformedRequestLine(t *testing.T) {
	lines := []string{
		"",
		"GET\r\n\r\n",
		"GET /\r\n\r\n",
		"GET / HTTP/1.1 extra\r\n\r\n",
		"GET  / HTTP/1.1\r\n\r\n",
		"POST /submit\r\nContent-Length: 3\r\n\r\na=1",
		"DELETE / HTTP/1.1 x y\r\n\r\n",
		"\r\n\r\n",
	}
	for _, line := range lines {
		_, err := parse(line)
		assert.ErrorIs(t, err, ErrBadRequest, "%q", line)
	}
}

func TestPathMustStartWithSlash(t *testing.T) {
	for _, path := range []string{"@127.0.0.1:9000/secret", "index.html", "http://other.host/", "*"} {
		_, err := parse("GET " + path + " HTTP/1.1\r\n\r\n")
		assert.ErrorIs(t, err, ErrBadRequest, "%q", path)
	}

	req, err := parse("GET //double/slash HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "//double/slash", req.Path)
}

func TestRequestWithoutHeaderTerminator(t *testing.T) {
	req, err := parse("GET /x HTTP/1.0\r\nHost: a")
	require.NoError(t, err)
	assert.Equal(t, "a", req.Get("host"))
}
