// Package withings implements the Withings flavour of OAuth2. Withings
// requires action=requesttoken on every token request and reports failures
// inside a 200 response body, so the standard oauth2 exchange cannot be
// used as is.
package withings

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTokenURL is the Withings OAuth2 token endpoint.
	DefaultTokenURL = "https://wbsapi.withings.net/v2/oauth2"

	// DefaultAuthorizationURL is the page users are sent to for consent.
	DefaultAuthorizationURL = "https://account.withings.com/oauth2_user/authorize2"

	actionRequestToken = "requesttoken"

	contentTypeForm = "application/x-www-form-urlencoded"
)

// DefaultScopes are requested when the caller does not name any.
var DefaultScopes = []string{"user.info", "user.metrics", "user.activity"}

// Client performs Withings token exchanges. It holds no per-call state and
// is safe for concurrent use.
type Client struct {
	transport Transport
	tokenURL  string
	authURL   string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the transport used for token requests.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.tokenURL = u
		}
	}
}

// WithAuthorizationURL overrides the authorization page URL.
func WithAuthorizationURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.authURL = u
		}
	}
}

// WithLogger sets the logger. Secrets are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client. Without options it talks to the production
// endpoints through NewHTTPTransport(nil).
func NewClient(opts ...Option) *Client {
	c := &Client{
		tokenURL: DefaultTokenURL,
		authURL:  DefaultAuthorizationURL,
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		c.transport = NewHTTPTransport(nil)
	}

	return c
}

// TokenURL returns the token endpoint the client posts to.
func (c *Client) TokenURL() string { return c.tokenURL }

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, req AuthorizationCodeExchange) (*ExchangeResult, error) {
	return c.Exchange(ctx, req)
}

// RefreshAccessToken trades a refresh token for a new access token.
func (c *Client) RefreshAccessToken(ctx context.Context, req RefreshTokenExchange) (*ExchangeResult, error) {
	return c.Exchange(ctx, req)
}

// Exchange validates req, sends exactly one POST to the token endpoint and
// normalizes the reply. It never retries. Failures are *ArgumentError,
// *NetworkError or *ProviderError.
func (c *Client) Exchange(ctx context.Context, req TokenRequest) (*ExchangeResult, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	if err := req.validate(); err != nil {
		return nil, err
	}

	op := req.Operation()

	header := make(http.Header)
	header.Set("Content-Type", contentTypeForm)

	resp, err := c.transport.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    c.tokenURL,
		Header: header,
		Body:   []byte(encodeForm(req.formParams())),
	})
	if err != nil {
		c.logger.Warn("withings token request failed",
			slog.String("operation", string(op)),
			slog.String("error", err.Error()),
		)

		return nil, &NetworkError{Err: fmt.Errorf("%s request: %w", op, err)}
	}

	result, err := decodeTokenResponse(op, resp)
	if err != nil {
		c.logger.Warn("withings token exchange rejected",
			slog.String("operation", string(op)),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	c.logger.Debug("withings token exchange succeeded",
		slog.String("operation", string(op)),
		slog.String("userid", result.UserID),
		slog.Int64("expires_in", result.ExpiresIn),
	)

	return result, nil
}

// normalizeRequest accepts pointer variants and rejects nil requests.
func normalizeRequest(req TokenRequest) (TokenRequest, error) {
	switch r := req.(type) {
	case nil:
		return nil, &ArgumentError{Field: "request"}
	case *AuthorizationCodeExchange:
		if r == nil {
			return nil, &ArgumentError{Field: "request"}
		}

		return *r, nil
	case *RefreshTokenExchange:
		if r == nil {
			return nil, &ArgumentError{Field: "request"}
		}

		return *r, nil
	}

	return req, nil
}

type formParam struct {
	key   string
	value string
}

// encodeForm encodes params in the given order. url.Values sorts keys,
// which would move action=requesttoken away from the front.
func encodeForm(params []formParam) string {
	var b strings.Builder

	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}

		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}

	return b.String()
}

// decodeTokenResponse maps a token endpoint reply to a result. Withings
// answers HTTP 200 with {"status": <code>, "body": {...}} and only
// status 0 means success. Older endpoints put token fields at the top
// level, so both shapes are read.
func decodeTokenResponse(op Operation, resp *Response) (*ExchangeResult, error) {
	httpOK := resp.StatusCode >= 200 && resp.StatusCode < 300

	if !gjson.ValidBytes(resp.Body) || !gjson.ParseBytes(resp.Body).IsObject() {
		if !httpOK {
			return nil, &NetworkError{Err: fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, sanitizeResponseBody(resp.Body))}
		}

		return nil, &NetworkError{Err: fmt.Errorf("decoding token response: %s", sanitizeResponseBody(resp.Body))}
	}

	parsed := gjson.ParseBytes(resp.Body)
	status := parsed.Get("status")
	errMsg := parsed.Get("error").String()

	if !httpOK && !status.Exists() && errMsg == "" {
		return nil, &NetworkError{Err: fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, sanitizeResponseBody(resp.Body))}
	}

	if !isZeroStatus(status) || errMsg != "" {
		if errMsg == "" {
			errMsg = unknownProviderError
		}

		return nil, &ProviderError{Status: status.Int(), Message: errMsg}
	}

	if !httpOK {
		return nil, &NetworkError{Err: fmt.Errorf("token endpoint returned status %d", resp.StatusCode)}
	}

	fields := parsed.Get("body")
	if !fields.IsObject() {
		fields = parsed
	}

	// A failure can also be reported one level down, inside body.
	nested := fields.Get("status")
	if msg := fields.Get("error").String(); msg != "" || (nested.Exists() && !isZeroStatus(nested)) {
		if msg == "" {
			msg = unknownProviderError
		}

		return nil, &ProviderError{Status: nested.Int(), Message: msg}
	}

	accessToken := fields.Get("access_token").String()
	if accessToken == "" {
		return nil, &NetworkError{Err: fmt.Errorf("token response missing access_token")}
	}

	tokenType := fields.Get("token_type").String()
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &ExchangeResult{
		Operation:    op,
		AccessToken:  accessToken,
		RefreshToken: fields.Get("refresh_token").String(),
		TokenType:    tokenType,
		ExpiresIn:    fields.Get("expires_in").Int(),
		Scope:        fields.Get("scope").String(),
		UserID:       fields.Get("userid").String(),
		CSRFToken:    fields.Get("csrf_token").String(),
	}, nil
}

// isZeroStatus reports whether status is the number 0, the only value
// Withings uses for success. A numeric string is accepted; booleans,
// objects and other strings are not.
func isZeroStatus(status gjson.Result) bool {
	switch status.Type {
	case gjson.Number:
		return status.Num == 0
	case gjson.String:
		n, err := strconv.ParseFloat(strings.TrimSpace(status.Str), 64)
		return err == nil && n == 0
	}

	return false
}

// sanitizeResponseBody truncates a body to 256 bytes and replaces control
// characters so it can be embedded in error messages and logs.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
