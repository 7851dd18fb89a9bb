// Package mcpserver registers MCP tools that expose the Withings OAuth2
// operations and the global variables to MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/withings-auth/internal/auth"
	"github.com/alexjbarnes/withings-auth/internal/credentials"
	apperrors "github.com/alexjbarnes/withings-auth/internal/errors"
	"github.com/alexjbarnes/withings-auth/internal/globalvars"
	"github.com/alexjbarnes/withings-auth/internal/nodes"
	"github.com/alexjbarnes/withings-auth/internal/state"
	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Deps holds what the tools need. State and Variables are optional: without
// State no pending states or exchange records are kept, and without
// Variables the global_variables tool is not registered.
type Deps struct {
	Client      *withings.Client
	Credentials credentials.Data
	State       *state.State
	Variables   nodes.VariableSource
	Logger      *slog.Logger
}

// RegisterTools adds all tools to the given MCP server.
func RegisterTools(server *mcp.Server, deps Deps) {
	deps.Credentials = credentials.OAuth2.WithDefaults(deps.Credentials)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "withings_authorization_url",
		Description: "Build the Withings consent page URL. The user opens it, grants access and is redirected with a code that withings_exchange_code turns into tokens.",
	}, authURLHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "withings_exchange_code",
		Description: "Exchange an authorization code, or the full callback URL containing code=, for Withings access and refresh tokens.",
	}, exchangeHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "withings_refresh_token",
		Description: "Obtain a new Withings access token from a refresh token. Withings rotates refresh tokens, store the returned one.",
	}, refreshHandler(deps))

	if deps.Variables != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "global_variables",
			Description: "Merge the configured global variables into the given items, or return them as a single item when no items are given.",
		}, globalVariablesHandler(deps))
	}
}

// --- Input and output types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// AuthURLInput holds parameters for withings_authorization_url.
type AuthURLInput struct {
	ClientID    string `json:"client_id,omitempty" jsonschema:"Withings client ID, defaults to the configured one"`
	RedirectURI string `json:"redirect_uri,omitempty" jsonschema:"redirect URI registered with Withings, defaults to the configured one"`
	Scopes      string `json:"scopes,omitempty" jsonschema:"comma-separated scopes, defaults to user.info,user.metrics,user.activity"`
	State       string `json:"state,omitempty" jsonschema:"CSRF state, generated when empty"`
}

// AuthURLOutput is the result of withings_authorization_url.
type AuthURLOutput struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	ClientID         string `json:"client_id"`
	RedirectURI      string `json:"redirect_uri"`
	Scopes           string `json:"scopes"`
	Instructions     string `json:"instructions"`
}

// ExchangeInput holds parameters for withings_exchange_code.
type ExchangeInput struct {
	CallbackURL string `json:"callback_url,omitempty" jsonschema:"full callback URL containing code="`
	Code        string `json:"code,omitempty" jsonschema:"authorization code, alternative to callback_url"`
	RedirectURI string `json:"redirect_uri,omitempty" jsonschema:"redirect URI used to obtain the code, defaults to the configured one"`
	State       string `json:"state,omitempty" jsonschema:"state returned by withings_authorization_url, must still be pending"`
}

// RefreshInput holds parameters for withings_refresh_token.
type RefreshInput struct {
	RefreshToken string `json:"refresh_token" jsonschema:"required,refresh token from a previous exchange"`
}

// GlobalVariablesInput holds parameters for global_variables.
type GlobalVariablesInput struct {
	Items          []map[string]any `json:"items,omitempty" jsonschema:"items to merge the variables into"`
	PutAllInOneKey *bool            `json:"put_all_in_one_key,omitempty" jsonschema:"nest variables under key_name, defaults to true"`
	KeyName        string           `json:"key_name,omitempty" jsonschema:"key to nest variables under, defaults to vars"`
}

// GlobalVariablesOutput is the result of global_variables.
type GlobalVariablesOutput struct {
	Items []map[string]any `json:"items"`
}

// --- Handlers ---

func authURLHandler(deps Deps) mcp.ToolHandlerFor[AuthURLInput, *AuthURLOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input AuthURLInput) (*mcp.CallToolResult, *AuthURLOutput, error) {
		req := withings.AuthorizationURLRequest{
			ClientID:    orDefault(input.ClientID, deps.Credentials["clientId"]),
			RedirectURI: orDefault(input.RedirectURI, deps.Credentials["redirectUri"]),
			Scope:       withings.SplitScopes(orDefault(input.Scopes, deps.Credentials["scope"])),
			State:       input.State,
		}

		if req.State == "" {
			req.State = uuid.NewString()
		}

		u, err := deps.Client.AuthorizationURL(req)
		if err != nil {
			return nil, nil, err
		}

		if deps.State != nil {
			ps := deps.State.NewPendingState(req.State, req.RedirectURI, req.Scope)
			if err := deps.State.SavePendingState(ps); err != nil {
				return nil, nil, fmt.Errorf("saving pending state: %w", err)
			}
		}

		out := &AuthURLOutput{
			AuthorizationURL: u,
			State:            req.State,
			ClientID:         req.ClientID,
			RedirectURI:      req.RedirectURI,
			Scopes:           withings.JoinScopes(req.Scope),
			Instructions:     nodes.Instructions,
		}

		return textResult(out), out, nil
	}
}

func exchangeHandler(deps Deps) mcp.ToolHandlerFor[ExchangeInput, *withings.ExchangeResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ExchangeInput) (*mcp.CallToolResult, *withings.ExchangeResult, error) {
		code := input.Code
		stateValue := input.State

		if code == "" {
			cb, err := withings.ParseCallback(input.CallbackURL)
			if err != nil {
				return nil, nil, err
			}

			code = cb.Code
			if stateValue == "" {
				stateValue = cb.State
			}
		}

		redirectURI, err := consumeState(deps, stateValue, input.State != "")
		if err != nil {
			return nil, nil, err
		}

		res, err := deps.Client.ExchangeCode(ctx, withings.AuthorizationCodeExchange{
			ClientID:          deps.Credentials["clientId"],
			ClientSecret:      deps.Credentials["clientSecret"],
			AuthorizationCode: code,
			RedirectURI:       orDefault(input.RedirectURI, orDefault(redirectURI, deps.Credentials["redirectUri"])),
		})
		if err != nil {
			logToolError(ctx, deps.Logger, "withings_exchange_code", err)
			return nil, nil, err
		}

		record(deps, res)

		return textResult(res), res, nil
	}
}

func refreshHandler(deps Deps) mcp.ToolHandlerFor[RefreshInput, *withings.ExchangeResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RefreshInput) (*mcp.CallToolResult, *withings.ExchangeResult, error) {
		res, err := deps.Client.RefreshAccessToken(ctx, withings.RefreshTokenExchange{
			ClientID:     deps.Credentials["clientId"],
			ClientSecret: deps.Credentials["clientSecret"],
			RefreshToken: input.RefreshToken,
		})
		if err != nil {
			logToolError(ctx, deps.Logger, "withings_refresh_token", err)
			return nil, nil, err
		}

		record(deps, res)

		return textResult(res), res, nil
	}
}

func globalVariablesHandler(deps Deps) mcp.ToolHandlerFor[GlobalVariablesInput, *GlobalVariablesOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GlobalVariablesInput) (*mcp.CallToolResult, *GlobalVariablesOutput, error) {
		opts := globalvars.DefaultOptions()
		if input.PutAllInOneKey != nil {
			opts.PutAllInOneKey = *input.PutAllInOneKey
		}

		if input.KeyName != "" {
			opts.KeyName = input.KeyName
		}

		items := make([]nodes.Item, len(input.Items))
		for i, it := range input.Items {
			items[i] = nodes.Item{JSON: it, PairedItem: i}
		}

		merged, err := nodes.NewGlobalVariablesNode(deps.Variables, opts).Execute(ctx, items)
		if err != nil {
			return nil, nil, err
		}

		out := &GlobalVariablesOutput{Items: make([]map[string]any, len(merged))}
		for i, it := range merged {
			out.Items[i] = it.JSON
		}

		return textResult(out), out, nil
	}
}

// consumeState consumes a pending state and returns the redirect URI it
// was issued for. A state named explicitly must be pending; one only
// found in a callback URL may come from a flow started elsewhere and is
// skipped when unknown.
func consumeState(deps Deps, value string, explicit bool) (string, error) {
	if deps.State == nil || value == "" {
		return "", nil
	}

	ps, err := deps.State.ConsumePendingState(value)
	if err != nil {
		if !explicit && errors.Is(err, apperrors.ErrUnknownState) {
			return "", nil
		}

		return "", err
	}

	return ps.RedirectURI, nil
}

// record keeps the non-secret audit record of an exchange. Failure to
// record does not fail the tool call.
func record(deps Deps, res *withings.ExchangeResult) {
	if deps.State == nil {
		return
	}

	if _, err := deps.State.RecordExchange(res); err != nil {
		deps.Logger.Warn("recording exchange failed", slog.String("error", err.Error()))
	}
}

func logToolError(ctx context.Context, logger *slog.Logger, tool string, err error) {
	logger.Info("tool call failed",
		slog.String("tool", tool),
		slog.String("kind", withings.Kind(err)),
		slog.String("key", auth.RequestKeyName(ctx)),
		slog.String("error", err.Error()),
	)
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}

	return def
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
