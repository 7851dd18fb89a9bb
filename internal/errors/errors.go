package errors

import "errors"

// Credential errors.
var (
	ErrNoAccessToken     = errors.New("no access token available, complete the OAuth2 flow first")
	ErrUnknownCredential = errors.New("unknown credential type")
	ErrMissingField      = errors.New("required credential field missing")
)

// Global variable errors.
var (
	ErrDuplicateVariable = errors.New("duplicate variable name")
	ErrInvalidVariable   = errors.New("variable value is not valid JSON")
)

// Node and service errors.
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUnknownState     = errors.New("unknown or expired authorization state")
)
