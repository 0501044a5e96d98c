// Package parser reads a single plaintext HTTP/1.x request from a connection.
//
// Only what the proxy needs is understood: the request line, header lines and a
// fixed-length body for methods that carry one. Chunked bodies are not decoded.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	cachekey "github.com/always-cache/proxy-cache/pkg/cache-key"
)

// ErrBadRequest is returned when the request line is malformed.
var ErrBadRequest = errors.New("bad request")

const headerSeparator = ": "

// Request is a parsed client request.
type Request struct {
	Method  string
	Path    string
	Version string
	// Header maps lowercase header names to values. The last occurrence of a name wins.
	Header map[string]string
	// Body is empty unless the method carries a body and content-length was given.
	Body []byte
}

// Get returns the value of the named header, case-insensitively.
func (r *Request) Get(name string) string {
	return r.Header[strings.ToLower(name)]
}

// Parse reads one request from r.
// It fails with ErrBadRequest unless the request line has exactly three tokens
// and the path starts with "/".
// If the declared body is longer than what the peer sends, Parse blocks until the
// peer closes the connection and then returns an I/O error.
func Parse(r *bufio.Reader) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty request", ErrBadRequest)
		}
		return nil, err
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: malformed request line %q", ErrBadRequest, line)
	}
	// the path is appended to the origin URL, so anything but an origin-form path
	// could change the host the request goes to
	if !strings.HasPrefix(parts[1], "/") {
		return nil, fmt.Errorf("%w: path must start with /: %q", ErrBadRequest, parts[1])
	}

	req := &Request{
		Method:  parts[0],
		Path:    parts[1],
		Version: parts[2],
		Header:  make(map[string]string),
	}

	for {
		line, err := readLine(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, headerSeparator)
		if !found {
			continue
		}
		req.Header[strings.ToLower(name)] = value
	}

	if !cachekey.HasBody(req.Method) {
		return req, nil
	}
	length, err := contentLength(req)
	if err != nil {
		return nil, err
	}
	if length > 0 {
		// grow with what actually arrives instead of trusting the declared length
		body := &bytes.Buffer{}
		if _, err := io.CopyN(body, r, length); err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		req.Body = body.Bytes()
	}
	return req, nil
}

func contentLength(req *Request) (int64, error) {
	value := strings.TrimSpace(req.Get("Content-Length"))
	if value == "" {
		return 0, nil
	}
	length, err := strconv.ParseInt(value, 10, 64)
	if err != nil || length < 0 {
		return 0, fmt.Errorf("%w: invalid content-length %q", ErrBadRequest, value)
	}
	return length, nil
}

// readLine reads a line terminated by LF or CRLF and returns it without the terminator.
// A final line without terminator is returned as is; io.EOF is only returned if nothing was read.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
