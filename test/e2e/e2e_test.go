package e2e_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- browser consent flow ---

func TestBrowserFlow(t *testing.T) {
	h := newHarness(t)

	// /authorize -> provider consent -> /callback, all via redirects.
	resp := h.doGet(t, h.URL+"/authorize")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/callback", resp.Request.URL.Path)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "at-code-1")
	assert.Contains(t, string(body), "rt-code-1")
	assert.Contains(t, string(body), testUserID)

	records, err := h.State.AllExchanges()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, testUserID, records[0].UserID)
	assert.Equal(t, "user.info,user.metrics", records[0].Scope)
}

func TestBrowserFlow_ReplayedCallback(t *testing.T) {
	h := newHarness(t)

	resp := h.doGet(t, h.URL+"/authorize")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	replay := h.doGet(t, resp.Request.URL.String())
	defer replay.Body.Close()

	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)

	records, err := h.State.AllExchanges()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBrowserFlow_ForgedState(t *testing.T) {
	h := newHarness(t)

	resp := h.doGet(t, h.URL+"/callback?code=code-99&state=forged")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- MCP tools ---

func TestMCP_AuthURLThenExchange(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, testAPIKey)

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name: "withings_authorization_url",
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var authOut struct {
		AuthorizationURL string `json:"authorization_url"`
		State            string `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(extractTextContent(t, result)), &authOut))
	require.NotEmpty(t, authOut.State)

	callbackURL := h.consent(t, authOut.AuthorizationURL)

	cb, err := url.Parse(callbackURL)
	require.NoError(t, err)
	assert.Equal(t, authOut.State, cb.Query().Get("state"))

	result, err = session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "withings_exchange_code",
		Arguments: map[string]any{"callback_url": callbackURL},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextContent(t, result))

	var tokens map[string]any
	require.NoError(t, json.Unmarshal([]byte(extractTextContent(t, result)), &tokens))
	assert.Equal(t, "at-code-1", tokens["access_token"])
	assert.Equal(t, testUserID, tokens["userid"])
	assert.Equal(t, "authorization_code", tokens["operation"])

	records, err := h.State.AllExchanges()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMCP_Refresh(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, testAPIKey)

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "withings_refresh_token",
		Arguments: map[string]any{"refresh_token": "rt-code-1"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractTextContent(t, result)
	assert.Contains(t, text, "at-refreshed-rt-code-1")
	assert.Contains(t, text, `"operation": "refresh_token"`)
}

func TestMCP_ExchangeWithoutCode(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, testAPIKey)

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "withings_exchange_code",
		Arguments: map[string]any{"callback_url": h.URL + "/callback?state=x"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractTextContent(t, result), "code=")
}

func TestMCP_GlobalVariables(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, testAPIKey)

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name: "global_variables",
		Arguments: map[string]any{
			"items":              []map[string]any{{"id": "a"}},
			"put_all_in_one_key": false,
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.JSONEq(t,
		`{"items":[{"id":"a","withings":{"units":"metric"}}]}`,
		extractTextContent(t, result),
	)
}

// --- authentication ---

func TestUnauthenticated_Returns401(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, h.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wwwAuth := resp.Header.Get("WWW-Authenticate")
	assert.Contains(t, wwwAuth, "Bearer")
	assert.NotContains(t, wwwAuth, `error=`, "no-token response should not include error attribute")
}

func TestInvalidKey_Returns401(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, h.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wa_not-a-key")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)
}

// --- helpers ---

// extractTextContent pulls the text from the first TextContent in a
// CallToolResult. MCP tools return JSON-serialized results as TextContent.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content, "tool result has no content")

	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}

	t.Fatal("no TextContent found in tool result")

	return ""
}
