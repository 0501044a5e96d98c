package serializer

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// DefaultContentType is sent when the origin did not provide a content type.
const DefaultContentType = "text/html; charset=UTF-8"

// DefaultVersion is used for responses written before a request version is known.
const DefaultVersion = "HTTP/1.1"

// Response is a complete response to write to a client connection.
type Response struct {
	Version       string
	StatusCode    int
	StatusMessage string
	ContentType   string
	Body          []byte
	// CacheStatus is the value of the Cache-Status header. It is omitted if empty.
	CacheStatus string
}

// WriteTo writes the response in wire format:
// status line, Content-Type, Content-Length, Connection: close, optional Cache-Status,
// an empty line and the body.
// Content-Length is always the length of Body, whatever the origin declared.
func (res Response) WriteTo(w io.Writer) (int64, error) {
	version := res.Version
	if version == "" {
		version = DefaultVersion
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "%s %d %s\r\n", version, res.StatusCode, res.StatusMessage)
	fmt.Fprintf(buf, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(buf, "Content-Length: %s\r\n", strconv.Itoa(len(res.Body)))
	buf.WriteString("Connection: close\r\n")
	if res.CacheStatus != "" {
		fmt.Fprintf(buf, "Cache-Status: %s\r\n", res.CacheStatus)
	}
	buf.WriteString("\r\n")
	buf.Write(res.Body)
	return buf.WriteTo(w)
}

// Error returns a response with a minimal HTML body describing the status.
func Error(statusCode int, message string) Response {
	body := fmt.Sprintf("<html><body><h1>Error %d</h1><p>%s</p></body></html>", statusCode, message)
	return Response{
		Version:       DefaultVersion,
		StatusCode:    statusCode,
		StatusMessage: message,
		ContentType:   DefaultContentType,
		Body:          []byte(body),
	}
}
