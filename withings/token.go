package withings

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Token converts the result to an *oauth2.Token. Expiry is computed from
// ExpiresIn relative to now and left zero when the provider sent none.
// userid, scope and csrf_token are available through Token.Extra.
func (r *ExchangeResult) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
	}

	if r.ExpiresIn > 0 {
		tok.ExpiresIn = r.ExpiresIn
		tok.Expiry = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	return tok.WithExtra(map[string]interface{}{
		"userid":     r.UserID,
		"scope":      r.Scope,
		"csrf_token": r.CSRFToken,
	})
}

// refreshSource obtains new tokens with the Withings refresh exchange.
type refreshSource struct {
	ctx          context.Context
	client       *Client
	clientID     string
	clientSecret string

	mu           sync.Mutex
	refreshToken string
}

func (s *refreshSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.client.RefreshAccessToken(s.ctx, RefreshTokenExchange{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		RefreshToken: s.refreshToken,
	})
	if err != nil {
		return nil, err
	}

	tok := res.Token()
	// Withings rotates refresh tokens; keep the old one if none came back.
	if tok.RefreshToken == "" {
		tok.RefreshToken = s.refreshToken
	} else {
		s.refreshToken = tok.RefreshToken
	}

	return tok, nil
}

// TokenSource returns an oauth2.TokenSource that serves tok until it
// expires and then refreshes it through c. ctx is used for refresh
// requests.
func TokenSource(ctx context.Context, c *Client, clientID, clientSecret string, tok *oauth2.Token) oauth2.TokenSource {
	src := &refreshSource{
		ctx:          ctx,
		client:       c,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
	if tok != nil {
		src.refreshToken = tok.RefreshToken
	}

	return oauth2.ReuseTokenSource(tok, src)
}
