package withings

import (
	"net/url"
	"strings"
)

// Callback holds the parameters Withings appends to the redirect URI after
// the user grants access.
type Callback struct {
	Code  string
	State string
}

// ParseCallback extracts the authorization code and state from a redirect
// URL. A bare query string ("code=...&state=...") is accepted too. If the
// user denied access the provider's error is returned as a ProviderError.
func ParseCallback(rawURL string) (*Callback, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, &ArgumentError{Field: "callback_url"}
	}

	query, err := callbackQuery(rawURL)
	if err != nil {
		return nil, &ArgumentError{Field: "callback_url", Message: err.Error()}
	}

	if oauthErr := query.Get("error"); oauthErr != "" {
		msg := oauthErr
		if desc := query.Get("error_description"); desc != "" {
			msg += ": " + desc
		}

		return nil, &ProviderError{Message: msg}
	}

	code := query.Get("code")
	if code == "" {
		return nil, &ArgumentError{
			Field:   "code",
			Message: "no authorization code found in callback URL, copy the complete URL containing the code= parameter",
		}
	}

	return &Callback{Code: code, State: query.Get("state")}, nil
}

func callbackQuery(raw string) (url.Values, error) {
	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "/") {
		return url.ParseQuery(strings.TrimPrefix(raw, "?"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	return url.ParseQuery(u.RawQuery)
}
