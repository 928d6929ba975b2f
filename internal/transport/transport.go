// Package transport is the Provider Transport stage: it builds the outbound
// HTTP request for a resolved ProviderHandle, decides JSON vs SSE transport
// mode, sends it against an ordered list of candidate base URLs, and
// classifies the outcome into a corepipe.RetrySignal for the executor.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/routecodex/routecodex/internal/corepipe"
)

// basicAuthValue base64-encodes user:pass for a Basic auth header.
func basicAuthValue(user, pass string) string {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, pass)
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Basic ")
}

// NewHTTPTransport returns a tuned *http.Transport with connection pooling
// and DNS caching shared across every provider client.
func NewHTTPTransport(resolver *dnscache.Resolver, forceHTTP2 bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   forceHTTP2,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// defaultStreamIdleTimeout and defaultStreamAbsoluteTimeout bound a streaming upstream
// call: idle resets on every received byte, absolute does not.
const (
	defaultStreamIdleTimeout     = 120 * time.Second
	defaultStreamAbsoluteTimeout = 500 * time.Second
)

// Client sends pipeline requests to one provider family's upstream,
// trying each BaseURLCandidates entry in order before the caller rotates
// credentials.
type Client struct {
	HTTP                *http.Client
	StreamIdleTimeout    time.Duration
	StreamAbsoluteTimeout time.Duration
	classifier           ErrorClassifier
}

// NewClient returns a Client wrapping httpClient, using family-specific
// error classification.
func NewClient(httpClient *http.Client, family string) *Client {
	return &Client{
		HTTP:                  httpClient,
		StreamIdleTimeout:     defaultStreamIdleTimeout,
		StreamAbsoluteTimeout: defaultStreamAbsoluteTimeout,
		classifier:            classifierFor(family),
	}
}

// Result is the outcome of one attempt against one base URL candidate.
type Result struct {
	StatusCode int
	Body       []byte          // non-streaming JSON body
	Stream     io.ReadCloser   // non-nil when the response is SSE
	BaseURL    string          // which candidate served the response
}

// Send builds and sends the request for handle, walking BaseURLCandidates
// in order on retryable-transport failures (DNS/connect/timeout) without
// consulting the executor. HTTP-level failures (4xx/5xx) are returned as a
// successful Result so the caller's error classifier can inspect status.
func (c *Client) Send(ctx context.Context, req *corepipe.PipelineRequest, handle corepipe.ProviderHandle, path string, body []byte) (*Result, error) {
	wantSSE := wantsUpstreamSSE(req, handle)

	var lastErr error
	for _, baseURL := range candidateList(handle) {
		httpReq, err := c.build(ctx, baseURL, path, req, handle, body, wantSSE)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTP.Do(httpReq)
		if err != nil {
			lastErr = err
			if !isNetworkRetryable(err) {
				return nil, err
			}
			continue
		}

		if wantSSE && isEventStream(resp.Header.Get("Content-Type")) {
			return &Result{StatusCode: resp.StatusCode, Stream: c.wrapStream(ctx, resp.Body), BaseURL: baseURL}, nil
		}

		data, err := readLimited(resp.Body, 32<<20)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("transport: read response: %w", err)
		}
		return &Result{StatusCode: resp.StatusCode, Body: data, BaseURL: baseURL}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("transport: no base url candidates for %s", handle.ProviderKey)
	}
	return nil, lastErr
}

// wantsUpstreamSSE decides whether to ask the upstream for an event-stream
// response. Responses-protocol requests always speak SSE upstream
// regardless of the client's own stream flag -- the normalizer converts
// back to a single JSON object when the client didn't ask for streaming.
// Otherwise the provider's declared streaming preference (auto|always|
// never) governs, falling back to the client's stream flag under "auto".
func wantsUpstreamSSE(req *corepipe.PipelineRequest, handle corepipe.ProviderHandle) bool {
	if req.Payload.Kind == corepipe.PayloadResponses {
		return true
	}
	switch handle.StreamPreference {
	case "always":
		return true
	case "never":
		return false
	default:
		return req.Stream
	}
}

// candidateList returns handle's base URLs, defaulting to a single empty
// placeholder so callers always have at least one entry to loop over.
func candidateList(handle corepipe.ProviderHandle) []string {
	if len(handle.BaseURLCandidates) == 0 {
		return []string{""}
	}
	return handle.BaseURLCandidates
}

// build constructs the outbound HTTP request in three passes: the base
// request (method/URL/body/content-type), the auth header, then any
// family-specific header finalization already applied by compat onto
// req.Headers.
func (c *Client) build(ctx context.Context, baseURL, path string, req *corepipe.PipelineRequest, handle corepipe.ProviderHandle, body []byte, wantSSE bool) (*http.Request, error) {
	url := baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newBodyReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if wantSSE {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	applyAuth(httpReq.Header, handle.Auth)

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func applyAuth(h http.Header, auth corepipe.AuthContext) {
	switch auth.Kind {
	case corepipe.AuthAPIKey, corepipe.AuthBearer, corepipe.AuthOAuth:
		headerName := auth.HeaderName
		if headerName == "" {
			headerName = "Authorization"
		}
		if auth.Key != "" {
			h.Set(headerName, auth.Prefix+auth.Key)
		}
	case corepipe.AuthBasic:
		if auth.Username != "" {
			h.Set("Authorization", "Basic "+basicAuthValue(auth.Username, auth.Password))
		}
	}
}

func isEventStream(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}

func isNetworkRetryable(err error) bool {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return true
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	return false
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func newBodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

// ErrStreamIdleTimeout is the cancellation cause when a streaming upstream
// goes silent for longer than StreamIdleTimeout.
var ErrStreamIdleTimeout = errors.New("UPSTREAM_STREAM_IDLE_TIMEOUT")

// wrapStream applies idle and absolute timeouts to a streaming response
// body: a background goroutine cancels the context if no byte arrives
// within StreamIdleTimeout, or if StreamAbsoluteTimeout elapses regardless
// of activity. The caller's ctx cancellation (client disconnect) also
// tears the stream down.
func (c *Client) wrapStream(ctx context.Context, body io.ReadCloser) io.ReadCloser {
	streamCtx, cancel := context.WithCancelCause(ctx)
	idle := time.NewTimer(c.StreamIdleTimeout)
	absolute := time.NewTimer(c.StreamAbsoluteTimeout)

	go func() {
		defer idle.Stop()
		defer absolute.Stop()
		select {
		case <-streamCtx.Done():
		case <-idle.C:
			cancel(ErrStreamIdleTimeout)
			body.Close()
		case <-absolute.C:
			cancel(context.DeadlineExceeded)
			body.Close()
		}
	}()

	return &timeoutReadCloser{
		r:            bufio.NewReader(body),
		body:         body,
		cancel:       func() { cancel(nil) },
		ctx:          streamCtx,
		idle:         idle,
		idleDuration: c.StreamIdleTimeout,
	}
}

// timeoutReadCloser resets the idle timer on every successful read and
// aborts the read the moment the wrapping context is cancelled.
type timeoutReadCloser struct {
	r            *bufio.Reader
	body         io.ReadCloser
	cancel       context.CancelFunc
	ctx          context.Context
	idle         *time.Timer
	idleDuration time.Duration
}

func (t *timeoutReadCloser) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		if cause := context.Cause(t.ctx); cause != nil {
			return 0, cause
		}
		return 0, err
	}
	n, err := t.r.Read(p)
	if n > 0 {
		t.idle.Reset(t.idleDuration)
	}
	return n, err
}

func (t *timeoutReadCloser) Close() error {
	t.cancel()
	return t.body.Close()
}
