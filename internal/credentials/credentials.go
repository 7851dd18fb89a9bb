// Package credentials describes the credential types the integration
// registers with the host and applies them to outgoing requests.
// Definitions are plain data; composition is done with Merge.
package credentials

import (
	"fmt"
	"net/http"
	"slices"

	apperrors "github.com/alexjbarnes/withings-auth/internal/errors"
	"github.com/alexjbarnes/withings-auth/internal/globalvars"
	"github.com/alexjbarnes/withings-auth/withings"
	"golang.org/x/oauth2"
)

// Credential type names.
const (
	OAuth2Name      = "withingsOAuth2Api"
	BearerTokenName = "withingsBearerTokenApi"
)

const documentationURL = "https://developer.withings.com/api-reference/#section/Authentication"

// FieldType controls how the host renders a field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldPassword FieldType = "password"
	FieldHidden   FieldType = "hidden"
	FieldNotice   FieldType = "notice"
)

// Field is one property of a credential.
type Field struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Default     string    `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Definition describes a credential type.
type Definition struct {
	Name             string  `json:"name"`
	DisplayName      string  `json:"displayName"`
	Description      string  `json:"description,omitempty"`
	DocumentationURL string  `json:"documentationUrl,omitempty"`
	Fields           []Field `json:"properties"`
}

// Data holds the decrypted values of a credential, keyed by field name.
type Data map[string]string

// OAuth2 is the Withings OAuth2 application credential.
var OAuth2 = Definition{
	Name:             OAuth2Name,
	DisplayName:      "Withings OAuth2 API",
	Description:      "OAuth2 authentication for Withings API",
	DocumentationURL: documentationURL,
	Fields: []Field{
		{Name: "grantType", DisplayName: "Grant Type", Type: FieldHidden, Default: "authorizationCode"},
		{Name: "authUrl", DisplayName: "Authorization URL", Type: FieldHidden, Default: withings.DefaultAuthorizationURL},
		{Name: "accessTokenUrl", DisplayName: "Access Token URL", Type: FieldHidden, Default: withings.DefaultTokenURL},
		{Name: "clientId", DisplayName: "Client ID", Type: FieldString, Required: true, Description: "The Client ID from your Withings Developer Account"},
		{Name: "clientSecret", DisplayName: "Client Secret", Type: FieldPassword, Required: true, Description: "The Client Secret from your Withings Developer Account"},
		{
			Name:        "scope",
			DisplayName: "Scope",
			Type:        FieldString,
			Default:     withings.JoinScopes(nil),
			Description: "Comma-separated list of scopes. Common scopes: user.info, user.metrics, user.activity, user.sleepevents",
		},
		{Name: "redirectUri", DisplayName: "Redirect URI", Type: FieldString, Description: "Must match the redirect URI configured in your Withings app"},
		{Name: "accessToken", DisplayName: "Access Token", Type: FieldPassword, Description: "OAuth2 Access Token (obtained through authorization flow)"},
		{Name: "refreshToken", DisplayName: "Refresh Token", Type: FieldPassword, Description: "OAuth2 Refresh Token (obtained through authorization flow)"},
		{
			Name:        "notice",
			DisplayName: "Important Note",
			Type:        FieldNotice,
			Description: "Withings requires action=requesttoken in token requests. Use the Withings Access Token node to complete the OAuth2 flow.",
		},
	},
}

// BearerToken holds tokens obtained elsewhere, typically from the access
// token node.
var BearerToken = Definition{
	Name:             BearerTokenName,
	DisplayName:      "Withings Bearer Token API",
	Description:      "Bearer token authentication for Withings API",
	DocumentationURL: documentationURL,
	Fields: []Field{
		{Name: "accessToken", DisplayName: "Access Token", Type: FieldPassword, Required: true, Description: "The access token obtained from Withings OAuth2 flow"},
		{Name: "refreshToken", DisplayName: "Refresh Token", Type: FieldPassword, Description: "The refresh token for renewing access tokens (optional)"},
		{Name: "userId", DisplayName: "User ID", Type: FieldString, Description: "The Withings user ID returned during OAuth2 flow (optional)"},
		{
			Name:        "instructions",
			DisplayName: "How to get tokens",
			Type:        FieldNotice,
			Description: `Use the "Withings Access Token" node to exchange authorization codes for access tokens, or complete the OAuth2 flow manually.`,
		},
	},
}

// GlobalVariables is the global variables pseudo-credential, one name and
// one value field per slot.
var GlobalVariables = globalVariablesDefinition()

func globalVariablesDefinition() Definition {
	fields := make([]Field, 0, 2*globalvars.Slots)

	for i := 1; i <= globalvars.Slots; i++ {
		fields = append(fields,
			Field{Name: globalvars.NameKey(i), DisplayName: fmt.Sprintf("JSON %d Name", i), Type: FieldString},
			Field{Name: globalvars.ValueKey(i), DisplayName: fmt.Sprintf("JSON %d Value", i), Type: FieldString, Default: "{}"},
		)
	}

	return Definition{
		Name:        globalvars.CredentialName,
		DisplayName: "Global Variables",
		Description: "Static JSON values available to every workflow",
		Fields:      fields,
	}
}

// All returns every registered definition.
func All() []Definition {
	return []Definition{OAuth2, BearerToken, GlobalVariables}
}

// Lookup returns the definition registered under name.
func Lookup(name string) (Definition, error) {
	for _, def := range All() {
		if def.Name == name {
			return def, nil
		}
	}

	return Definition{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownCredential, name)
}

// Merge layers overlays onto base. A field whose name already exists
// replaces it in place; new fields are appended. Non-empty metadata in an
// overlay wins. base is not modified.
func Merge(base Definition, overlays ...Definition) Definition {
	out := base
	out.Fields = slices.Clone(base.Fields)

	for _, o := range overlays {
		if o.Name != "" {
			out.Name = o.Name
		}

		if o.DisplayName != "" {
			out.DisplayName = o.DisplayName
		}

		if o.Description != "" {
			out.Description = o.Description
		}

		if o.DocumentationURL != "" {
			out.DocumentationURL = o.DocumentationURL
		}

		for _, f := range o.Fields {
			idx := slices.IndexFunc(out.Fields, func(existing Field) bool { return existing.Name == f.Name })
			if idx >= 0 {
				out.Fields[idx] = f
			} else {
				out.Fields = append(out.Fields, f)
			}
		}
	}

	return out
}

// Defaults returns the default value of every field that has one.
func (d Definition) Defaults() Data {
	data := make(Data)

	for _, f := range d.Fields {
		if f.Default != "" {
			data[f.Name] = f.Default
		}
	}

	return data
}

// WithDefaults returns data with empty fields filled from the definition.
func (d Definition) WithDefaults(data Data) Data {
	out := d.Defaults()

	for k, v := range data {
		if v != "" {
			out[k] = v
		}
	}

	return out
}

// Validate checks that every required field of def is set in data.
func Validate(def Definition, data Data) error {
	for _, f := range def.Fields {
		if f.Required && data[f.Name] == "" {
			return fmt.Errorf("%s: %w: %s", def.Name, apperrors.ErrMissingField, f.Name)
		}
	}

	return nil
}

// Token returns the stored tokens as an *oauth2.Token. It fails with
// ErrNoAccessToken when the OAuth2 flow has not been completed.
func Token(data Data) (*oauth2.Token, error) {
	if data["accessToken"] == "" {
		return nil, apperrors.ErrNoAccessToken
	}

	return &oauth2.Token{
		AccessToken:  data["accessToken"],
		RefreshToken: data["refreshToken"],
		TokenType:    "Bearer",
	}, nil
}

// Authenticate adds "Authorization: Bearer <accessToken>" to req.
func Authenticate(data Data, req *http.Request) error {
	tok, err := Token(data)
	if err != nil {
		return err
	}

	tok.SetAuthHeader(req)

	return nil
}

// FromResult converts an exchange result into bearer token credential
// data, ready to be stored by the host.
func FromResult(res *withings.ExchangeResult) Data {
	return Data{
		"accessToken":  res.AccessToken,
		"refreshToken": res.RefreshToken,
		"userId":       res.UserID,
	}
}
