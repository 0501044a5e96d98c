package origin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	cachekey "github.com/always-cache/proxy-cache/pkg/cache-key"
	parser "github.com/always-cache/proxy-cache/pkg/request-parser"
)

// ConnectTimeout bounds connection establishment to the origin.
// Reading the response has no deadline.
const ConnectTimeout = 5000 * time.Millisecond

// Outcome classifies an origin exchange.
type Outcome int

const (
	// Unreachable means the origin could not be contacted or the response could not be read.
	Unreachable Outcome = iota
	// Success is a 200 with a fully read body. Only these responses are cached.
	Success
	// NotFound is a 404.
	NotFound
	// Other is any other status, relayed as is.
	Other
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NotFound:
		return "not-found"
	case Other:
		return "other"
	default:
		return "unreachable"
	}
}

// Result is the classified origin response.
type Result struct {
	Outcome Outcome
	// StatusCode and StatusMessage are the origin's status, e.g. 200 and "OK".
	StatusCode    int
	StatusMessage string
	ContentType   string
	Body          []byte
	// Err is set when Outcome is Unreachable.
	Err error
}

// ErrForeignHost is reported when a request path would send the request to a host
// other than the origin.
var ErrForeignHost = errors.New("request path leaves the origin host")

// skipHeaders are request headers that are not forwarded.
// connection and proxy-connection are hop-by-hop; the rest are managed by the transport,
// and a content coding could not be passed back to the client anyway.
var skipHeaders = map[string]struct{}{
	"connection":       {},
	"proxy-connection": {},
	"host":             {},
	"content-length":   {},
	"accept-encoding":  {},
}

// Client forwards requests to a single origin.
type Client struct {
	baseURL    string
	host       string
	httpClient *http.Client
}

type Option func(*Client)

// WithTransport replaces the transport used for origin requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// New creates a client for the origin at baseURL.
// Request paths are appended to baseURL as is.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing origin url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("origin url must be absolute http(s): %q", baseURL)
	}

	dialer := &net.Dialer{Timeout: ConnectTimeout}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		host:    u.Host,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: ConnectTimeout,
				// a fresh connection per request, so a dropped idle connection is never retried
				DisableKeepAlives: true,
			},
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the origin base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch sends the request to the origin exactly once and classifies the result.
func (c *Client) Fetch(ctx context.Context, r *parser.Request) Result {
	var body io.Reader
	if cachekey.HasBody(r.Method) && len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, body)
	if err != nil {
		return Result{Outcome: Unreachable, Err: fmt.Errorf("creating origin request: %w", err)}
	}
	if req.URL.Host != c.host {
		return Result{Outcome: Unreachable, Err: fmt.Errorf("%w: %q", ErrForeignHost, r.Path)}
	}
	for name, value := range r.Header {
		if _, skip := skipHeaders[name]; skip {
			continue
		}
		req.Header.Set(name, value)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Outcome: Unreachable, Err: err}
	}
	defer res.Body.Close()

	result := Result{
		StatusCode:    res.StatusCode,
		StatusMessage: statusMessage(res),
		ContentType:   res.Header.Get("Content-Type"),
	}
	if res.StatusCode == http.StatusNotFound {
		result.Outcome = NotFound
		return result
	}

	result.Body, err = io.ReadAll(res.Body)
	if err != nil {
		return Result{Outcome: Unreachable, Err: fmt.Errorf("reading origin response: %w", err)}
	}
	if res.StatusCode == http.StatusOK {
		result.Outcome = Success
	} else {
		result.Outcome = Other
	}
	return result
}

// statusMessage returns the reason phrase of the response, e.g. "OK" for "200 OK".
func statusMessage(res *http.Response) string {
	if _, msg, found := strings.Cut(res.Status, " "); found && msg != "" {
		return msg
	}
	return http.StatusText(res.StatusCode)
}
