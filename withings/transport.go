package withings

//go:generate mockgen -source=transport.go -destination=mock_transport_test.go -package=withings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// maxRedirects matches the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is used when NewHTTPTransport is given no client.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps body reads. Token responses are small JSON
	// payloads.
	maxResponseBytes = 1024 * 1024
)

// Request is a single outbound HTTP request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the status and full body of an HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs HTTP requests for the Client. Implementations return
// an error only when no response was received.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport implements Transport on top of an *http.Client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps httpClient. If httpClient is nil,
// NewHTTPClient(30*time.Second) is used.
func NewHTTPTransport(httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = NewHTTPClient(httpClientTimeout)
	}

	return &HTTPTransport{client: httpClient}
}

// NewHTTPClient returns an *http.Client with the given timeout that only
// follows redirects to the original host. A non-positive timeout falls
// back to 30 seconds.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = httpClientTimeout
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so client secrets in a replayed
// body never reach another domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// Do sends req and reads at most 1 MiB of the response body.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", httpReq.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", httpReq.URL.Host, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
