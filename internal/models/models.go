// Package models defines types shared across internal packages.
package models

import "time"

// PendingState is an authorization request waiting for its callback. It
// ties the CSRF state value to the redirect URI and scopes that were sent.
type PendingState struct {
	State       string    `json:"state"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      []string  `json:"scopes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ExchangeRecord is the non-secret audit trail of a completed token
// exchange. Tokens themselves are never recorded.
type ExchangeRecord struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	UserID    string    `json:"userid,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
