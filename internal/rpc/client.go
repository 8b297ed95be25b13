// Package rpc is the HTTP JSON-RPC transport used for getwork,
// getblocktemplate and their long-poll variants.
package rpc

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/decred/go-socks/socks"

	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/pkg/errors"
)

// JSON-RPC error codes the callers branch on
const (
	CodeMethodNotFound = -32601
)

// UserAgent is sent with every request
var UserAgent = "gominer/dev"

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type response struct {
	Result       jsonx.RawMessage `json:"result"`
	Error        *Error           `json:"error"`
	ID           any              `json:"id"`
	RejectReason string           `json:"reject-reason"`
}

// Error is a JSON-RPC error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Reply is a decoded response plus the headers the miner cares about
type Reply struct {
	Result jsonx.RawMessage

	// RejectReason comes from the top-level reject-reason field or the
	// X-Reject-Reason header.
	RejectReason string

	// LongPollPath is the X-Long-Polling header, absolute or relative.
	LongPollPath string

	// Stratum is the X-Stratum header advertising a stratum endpoint.
	Stratum string
}

// Options configures a Client
type Options struct {
	Timeout   time.Duration
	Proxy     string
	ProxyUser string
	ProxyPass string
}

// Client talks JSON-RPC over HTTP to one pool. Long-poll requests share
// the transport but have no client timeout.
type Client struct {
	url    string
	user   string
	pass   string
	client *http.Client
	lp     *http.Client
	nextID atomic.Int64
}

// NewClient creates a client for endpoint with basic-auth credentials
func NewClient(endpoint, user, pass string, opts Options) *Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     opts.Proxy,
			Username: opts.ProxyUser,
			Password: opts.ProxyPass,
		}
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return proxy.Dial(network, addr)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	c := &Client{
		url:  endpoint,
		user: user,
		pass: pass,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		lp: &http.Client{
			Timeout:   0,
			Transport: transport,
		},
	}
	c.nextID.Store(1)
	return c
}

// URL returns the endpoint
func (c *Client) URL() string { return c.url }

// Call performs one request against the pool URL
func (c *Client) Call(ctx context.Context, method string, params any) (*Reply, error) {
	return c.do(ctx, c.client, c.url, method, params)
}

// LongPoll performs a request against a long-poll URL that the server
// holds open until new work exists.
func (c *Client) LongPoll(ctx context.Context, endpoint, method string, params any) (*Reply, error) {
	return c.do(ctx, c.lp, endpoint, method, params)
}

func (c *Client) do(ctx context.Context, client *http.Client, endpoint, method string, params any) (*Reply, error) {
	if params == nil {
		params = []any{}
	}
	body, err := jsonx.Marshal(request{
		ID:     c.nextID.Add(1) - 1,
		Method: method,
		Params: params,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, method, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, method, "build request")
	}
	if c.user != "" || c.pass != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Mining-Extensions", "longpoll noncerange reject-reason")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, method, "request failed").
			WithContext("endpoint", Endpoint(endpoint))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, method, "read response")
	}

	var r response
	decodeErr := jsonx.Unmarshal(data, &r)

	if resp.StatusCode != http.StatusOK {
		// some daemons send a useful JSON-RPC error with a non-200 status
		if decodeErr == nil && r.Error != nil {
			return nil, rpcError(method, r.Error)
		}
		return nil, errors.New(errors.ErrorTypeTransport, method,
			fmt.Sprintf("http status %s", resp.Status)).
			WithContext("endpoint", Endpoint(endpoint)).
			WithContext("body", strings.TrimSpace(string(data)))
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, errors.ErrorTypeDecode, method, "decode response")
	}
	if r.Error != nil {
		return nil, rpcError(method, r.Error)
	}

	reply := &Reply{
		Result:       r.Result,
		RejectReason: r.RejectReason,
		LongPollPath: resp.Header.Get("X-Long-Polling"),
		Stratum:      resp.Header.Get("X-Stratum"),
	}
	if reply.RejectReason == "" {
		reply.RejectReason = resp.Header.Get("X-Reject-Reason")
	}
	return reply, nil
}

func rpcError(method string, e *Error) error {
	return errors.Wrap(e, errors.ErrorTypeProtocol, method, "server error").
		WithContext("code", e.Code).
		WithRetryable(false)
}

// IsMethodNotFound reports whether err is the server refusing a method
func IsMethodNotFound(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	if e.Code == CodeMethodNotFound {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "method not found") || strings.Contains(msg, "not supported")
}

// ResolveLongPollURL turns an X-Long-Polling or longpolluri value into an
// absolute URL relative to base. Credentials of base are not copied.
func ResolveLongPollURL(base, lp string) string {
	if lp == "" {
		return base
	}
	if strings.HasPrefix(lp, "http://") || strings.HasPrefix(lp, "https://") {
		return lp
	}
	b, err := url.Parse(base)
	if err != nil {
		return base
	}
	ref, err := url.Parse(lp)
	if err != nil {
		return base
	}
	return b.ResolveReference(ref).String()
}

// Endpoint strips credentials for logging
func Endpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if idx := strings.Index(raw, "@"); idx != -1 {
			return raw[idx+1:]
		}
		return raw
	}
	u.User = nil
	return u.String()
}
