package withings

// Operation identifies which token exchange produced a result.
type Operation string

const (
	OperationAuthorizationCode Operation = "authorization_code"
	OperationRefreshToken      Operation = "refresh_token"
)

// TokenRequest is one of AuthorizationCodeExchange or RefreshTokenExchange.
// The interface is sealed; Exchange accepts only those two variants.
type TokenRequest interface {
	Operation() Operation
	validate() error
	formParams() []formParam
}

// AuthorizationCodeExchange trades an authorization code for tokens.
// RedirectURI must match the one used to obtain the code; the provider
// enforces that, not this package.
type AuthorizationCodeExchange struct {
	ClientID          string
	ClientSecret      string
	AuthorizationCode string
	RedirectURI       string
}

// RefreshTokenExchange trades a refresh token for a new access token.
type RefreshTokenExchange struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Operation implements TokenRequest.
func (AuthorizationCodeExchange) Operation() Operation { return OperationAuthorizationCode }

// Operation implements TokenRequest.
func (RefreshTokenExchange) Operation() Operation { return OperationRefreshToken }

func (r AuthorizationCodeExchange) validate() error {
	return requireFields(
		field{"client_id", r.ClientID},
		field{"client_secret", r.ClientSecret},
		field{"code", r.AuthorizationCode},
		field{"redirect_uri", r.RedirectURI},
	)
}

func (r RefreshTokenExchange) validate() error {
	return requireFields(
		field{"client_id", r.ClientID},
		field{"client_secret", r.ClientSecret},
		field{"refresh_token", r.RefreshToken},
	)
}

func (r AuthorizationCodeExchange) formParams() []formParam {
	return []formParam{
		{"action", actionRequestToken},
		{"grant_type", string(OperationAuthorizationCode)},
		{"client_id", r.ClientID},
		{"client_secret", r.ClientSecret},
		{"code", r.AuthorizationCode},
		{"redirect_uri", r.RedirectURI},
	}
}

func (r RefreshTokenExchange) formParams() []formParam {
	return []formParam{
		{"action", actionRequestToken},
		{"grant_type", string(OperationRefreshToken)},
		{"client_id", r.ClientID},
		{"client_secret", r.ClientSecret},
		{"refresh_token", r.RefreshToken},
	}
}

// ExchangeResult is the normalized success value of a token exchange.
// Optional fields the provider omitted are left at their zero value.
type ExchangeResult struct {
	Operation    Operation `json:"operation"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	UserID       string    `json:"userid,omitempty"`
	CSRFToken    string    `json:"csrf_token,omitempty"`
}

// AuthorizationURLRequest holds the inputs for building an authorization URL.
type AuthorizationURLRequest struct {
	ClientID    string
	RedirectURI string
	Scope       []string
	State       string
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return &ArgumentError{Field: f.name}
		}
	}

	return nil
}
