package engine

import (
	"context"

	"github.com/google/uuid"
)

// RequestOptions tunes one session request. Headers override the selected
// profile's template by name.
type RequestOptions struct {
	Headers map[string]string
	Body    []byte
	NoProxy bool
}

// Session pins a sticky token so successive requests reuse the same profile
// and proxy while they stay healthy. A session is cheap: it holds no
// connections of its own, only the token.
type Session struct {
	engine *Engine
	token  string
}

// Session returns a request facade bound to the given sticky key. With an
// empty key and stickiness enabled, a fresh random token is minted so the
// session still coheres across its own requests.
func (e *Engine) Session(stickyKey string) *Session {
	if stickyKey == "" && e.cfg.Sticky.Enabled {
		stickyKey = uuid.NewString()
	}
	return &Session{engine: e, token: stickyKey}
}

// Token returns the session's sticky token, empty when stickiness is off.
func (s *Session) Token() string {
	return s.token
}

// Do runs one logical request through the engine under this session's token.
func (s *Session) Do(ctx context.Context, method, url string, opts RequestOptions) (*Result, error) {
	return s.engine.Do(ctx, Request{
		Method:    method,
		URL:       url,
		Headers:   opts.Headers,
		Body:      opts.Body,
		StickyKey: s.token,
		NoProxy:   opts.NoProxy,
	})
}

// Get is shorthand for a GET request with default options.
func (s *Session) Get(ctx context.Context, url string) (*Result, error) {
	return s.Do(ctx, "GET", url, RequestOptions{})
}

// Post is shorthand for a POST request carrying a body.
func (s *Session) Post(ctx context.Context, url string, body []byte, headers map[string]string) (*Result, error) {
	return s.Do(ctx, "POST", url, RequestOptions{Headers: headers, Body: body})
}
