package nodes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/withings-auth/internal/credentials"
	apperrors "github.com/alexjbarnes/withings-auth/internal/errors"
	"github.com/alexjbarnes/withings-auth/withings"
)

// Operation selects what AccessTokenNode does.
type Operation string

const (
	OpGetAuthURL         Operation = "getAuthUrl"
	OpGetAccessToken     Operation = "getAccessToken"
	OpRefreshAccessToken Operation = "refreshAccessToken"
)

// Instructions accompany a generated authorization URL.
const Instructions = "1. Visit the authorization_url above\n" +
	"2. Authorize the application\n" +
	"3. Copy the full callback URL\n" +
	"4. Use the 'Get Access Token' operation with the callback URL"

// AccessTokenParams are the node parameters. Any of the string parameters
// can be overridden per item by the item field named in its json tag.
type AccessTokenParams struct {
	Operation         Operation `json:"-"`
	ClientID          string    `json:"client_id"`
	ClientSecret      string    `json:"client_secret"`
	RedirectURI       string    `json:"redirect_uri"`
	Scopes            string    `json:"scopes"`
	State             string    `json:"state"`
	CallbackURL       string    `json:"callback_url"`
	AuthorizationCode string    `json:"code"`
	RefreshToken      string    `json:"refresh_token"`
}

// AccessTokenNode drives the Withings OAuth2 flow: it builds the consent
// URL, exchanges authorization codes and refreshes tokens.
type AccessTokenNode struct {
	client *withings.Client
	params AccessTokenParams
	opts   BatchOptions
	logger *slog.Logger
}

// NewAccessTokenNode creates the node. Empty client id, secret, redirect
// URI and scopes fall back to the OAuth2 credential in creds.
func NewAccessTokenNode(client *withings.Client, creds credentials.Data, params AccessTokenParams, opts BatchOptions, logger *slog.Logger) *AccessTokenNode {
	creds = credentials.OAuth2.WithDefaults(creds)

	fallback := func(v *string, key string) {
		if *v == "" {
			*v = creds[key]
		}
	}

	fallback(&params.ClientID, "clientId")
	fallback(&params.ClientSecret, "clientSecret")
	fallback(&params.RedirectURI, "redirectUri")
	fallback(&params.Scopes, "scope")

	return &AccessTokenNode{client: client, params: params, opts: opts, logger: logger}
}

// Execute runs the configured operation for every item.
func (n *AccessTokenNode) Execute(ctx context.Context, items []Item) ([]Item, error) {
	var fn itemFunc

	switch n.params.Operation {
	case OpGetAuthURL:
		fn = n.authURL
	case OpGetAccessToken:
		fn = n.exchangeCode
	case OpRefreshAccessToken:
		fn = n.refresh
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownOperation, n.params.Operation)
	}

	n.logger.Debug("access token node executing",
		slog.String("operation", string(n.params.Operation)),
		slog.Int("items", len(items)),
	)

	return runBatch(ctx, items, n.opts, fn)
}

// paramsFor applies item overrides to the node parameters.
func (n *AccessTokenNode) paramsFor(item Item) AccessTokenParams {
	p := n.params

	override := func(v *string, key string) {
		if s, ok := item.JSON[key].(string); ok && s != "" {
			*v = s
		}
	}

	override(&p.ClientID, "client_id")
	override(&p.ClientSecret, "client_secret")
	override(&p.RedirectURI, "redirect_uri")
	override(&p.Scopes, "scopes")
	override(&p.State, "state")
	override(&p.CallbackURL, "callback_url")
	override(&p.AuthorizationCode, "code")
	override(&p.RefreshToken, "refresh_token")

	return p
}

func (n *AccessTokenNode) authURL(_ context.Context, _ int, item Item) (map[string]any, error) {
	p := n.paramsFor(item)
	scopes := withings.SplitScopes(p.Scopes)

	u, err := n.client.AuthorizationURL(withings.AuthorizationURLRequest{
		ClientID:    p.ClientID,
		RedirectURI: p.RedirectURI,
		Scope:       scopes,
		State:       p.State,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"authorization_url": u,
		"instructions":      Instructions,
		"client_id":         p.ClientID,
		"redirect_uri":      p.RedirectURI,
		"scopes":            withings.JoinScopes(scopes),
	}, nil
}

func (n *AccessTokenNode) exchangeCode(ctx context.Context, _ int, item Item) (map[string]any, error) {
	p := n.paramsFor(item)

	code := p.AuthorizationCode
	if code == "" {
		if p.CallbackURL == "" {
			return nil, &withings.ArgumentError{Field: "callback_url"}
		}

		cb, err := withings.ParseCallback(p.CallbackURL)
		if err != nil {
			return nil, err
		}

		code = cb.Code
	}

	res, err := n.client.ExchangeCode(ctx, withings.AuthorizationCodeExchange{
		ClientID:          p.ClientID,
		ClientSecret:      p.ClientSecret,
		AuthorizationCode: code,
		RedirectURI:       p.RedirectURI,
	})
	if err != nil {
		return nil, err
	}

	return ResultFields(res), nil
}

func (n *AccessTokenNode) refresh(ctx context.Context, _ int, item Item) (map[string]any, error) {
	p := n.paramsFor(item)

	res, err := n.client.RefreshAccessToken(ctx, withings.RefreshTokenExchange{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RefreshToken: p.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	return ResultFields(res), nil
}

// ResultFields renders an exchange result as item fields. Optional fields
// the provider did not send are left out.
func ResultFields(res *withings.ExchangeResult) map[string]any {
	fields := map[string]any{
		"operation":    string(res.Operation),
		"access_token": res.AccessToken,
		"token_type":   res.TokenType,
	}

	optional := map[string]string{
		"refresh_token": res.RefreshToken,
		"scope":         res.Scope,
		"userid":        res.UserID,
		"csrf_token":    res.CSRFToken,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}

	if res.ExpiresIn > 0 {
		fields["expires_in"] = res.ExpiresIn
	}

	return fields
}
