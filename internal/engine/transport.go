package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/header-rotator/internal/types"
	xproxy "golang.org/x/net/proxy"
)

// TransportRequest is everything the transport collaborator needs for one
// attempt: the materialized fingerprint headers and the chosen proxy.
type TransportRequest struct {
	Method  string
	URL     string
	Headers []types.Header
	Body    []byte
	Proxy   *types.ProxyEndpoint
}

// TransportResponse is the raw outcome handed to the classifier.
type TransportResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Transport performs one HTTP exchange. Implementations must honor ctx for
// cancellation and deadlines; this is the engine's only blocking collaborator
// besides persistence I/O.
type Transport interface {
	RoundTrip(ctx context.Context, req TransportRequest) (*TransportResponse, error)
}

// HTTPTransport is the default net/http-backed transport. Clients are cached
// per proxy so connection pools survive across attempts.
type HTTPTransport struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		timeout: timeout,
		clients: make(map[string]*http.Client),
	}
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req TransportRequest) (*TransportResponse, error) {
	client, err := t.client(req.Proxy)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &TransportResponse{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    data,
	}, nil
}

func (t *HTTPTransport) client(endpoint *types.ProxyEndpoint) (*http.Client, error) {
	key := ""
	if endpoint != nil {
		key = endpoint.URL()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if client, ok := t.clients[key]; ok {
		return client, nil
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   t.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   t.timeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // public proxies routinely MITM TLS
		},
	}

	if endpoint != nil {
		switch endpoint.Scheme {
		case "socks5":
			var auth *xproxy.Auth
			if endpoint.Username != "" {
				auth = &xproxy.Auth{User: endpoint.Username, Password: endpoint.Password}
			}
			dialer, err := xproxy.SOCKS5("tcp", fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port), auth, xproxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks5 dialer: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(xproxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			}
		default:
			proxyURL, err := url.Parse(endpoint.URL())
			if err != nil {
				return nil, fmt.Errorf("parse proxy URL: %w", err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   t.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	t.clients[key] = client
	return client, nil
}
