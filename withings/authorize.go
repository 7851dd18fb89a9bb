package withings

import (
	"net/url"
	"strings"
)

// BuildAuthorizationURL returns the Withings consent page URL for the
// production authorization endpoint. Empty scope falls back to
// DefaultScopes; an empty state is omitted from the query.
func BuildAuthorizationURL(clientID, redirectURI string, scope []string, state string) (string, error) {
	return buildAuthorizationURL(DefaultAuthorizationURL, AuthorizationURLRequest{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scope:       scope,
		State:       state,
	})
}

// AuthorizationURL is BuildAuthorizationURL against the client's
// configured authorization endpoint.
func (c *Client) AuthorizationURL(req AuthorizationURLRequest) (string, error) {
	return buildAuthorizationURL(c.authURL, req)
}

func buildAuthorizationURL(endpoint string, req AuthorizationURLRequest) (string, error) {
	if err := requireFields(
		field{"client_id", req.ClientID},
		field{"redirect_uri", req.RedirectURI},
	); err != nil {
		return "", err
	}

	params := []formParam{
		{"response_type", "code"},
		{"client_id", req.ClientID},
		{"redirect_uri", req.RedirectURI},
		{"scope", JoinScopes(req.Scope)},
	}
	if req.State != "" {
		params = append(params, formParam{"state", req.State})
	}

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}

	return endpoint + sep + encodeForm(params), nil
}

// JoinScopes joins scopes with commas, the separator Withings expects.
// Blank entries are dropped and an empty result yields DefaultScopes.
func JoinScopes(scope []string) string {
	kept := make([]string, 0, len(scope))

	for _, s := range scope {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}

	if len(kept) == 0 {
		kept = DefaultScopes
	}

	return strings.Join(kept, ",")
}

// SplitScopes parses a comma or space separated scope string.
func SplitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

// ValidEndpoint reports whether u is an absolute http(s) URL usable as a
// token or authorization endpoint.
func ValidEndpoint(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}

	return parsed.Scheme == "https" || parsed.Scheme == "http"
}
