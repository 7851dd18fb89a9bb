package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/alexjbarnes/withings-auth/internal/credentials"
	apperrors "github.com/alexjbarnes/withings-auth/internal/errors"
	"github.com/alexjbarnes/withings-auth/internal/globalvars"
	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

// providerStub answers token requests. Codes and refresh tokens starting
// with "bad" get a provider error; everything else succeeds with a token
// derived from the input.
func providerStub(t *testing.T, calls *atomic.Int32) *withings.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}

		if !assert.NoError(t, r.ParseForm()) {
			return
		}

		input := r.PostForm.Get("code") + r.PostForm.Get("refresh_token")
		if len(input) >= 3 && input[:3] == "bad" {
			fmt.Fprint(w, `{"status":503,"error":"invalid_params"}`)
			return
		}

		fmt.Fprintf(w, `{"status":0,"body":{"access_token":"at-%s","refresh_token":"rt-%s","expires_in":10800,"userid":7}}`, input, input)
	}))
	t.Cleanup(srv.Close)

	return withings.NewClient(
		withings.WithTransport(withings.NewHTTPTransport(srv.Client())),
		withings.WithTokenURL(srv.URL),
	)
}

func oauthCreds() credentials.Data {
	return credentials.Data{
		"clientId":     "cid",
		"clientSecret": "secret",
		"redirectUri":  "http://localhost:8080/callback",
	}
}

// --- runBatch ---

func TestRunBatch_PreservesOrder(t *testing.T) {
	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{JSON: map[string]any{"n": i}}
	}

	out, err := runBatch(context.Background(), items, BatchOptions{Concurrency: 4},
		func(_ context.Context, i int, item Item) (map[string]any, error) {
			return map[string]any{"double": item.JSON["n"].(int) * 2}, nil
		})
	require.NoError(t, err)
	require.Len(t, out, 10)

	for i, item := range out {
		assert.Equal(t, i*2, item.JSON["double"])
		assert.Equal(t, i, item.PairedItem)
	}
}

func TestRunBatch_FailFast(t *testing.T) {
	items := []Item{{}, {}, {}}

	_, err := runBatch(context.Background(), items, BatchOptions{},
		func(_ context.Context, i int, _ Item) (map[string]any, error) {
			if i == 1 {
				return nil, apperrors.ErrUnknownOperation
			}
			return map[string]any{}, nil
		})

	var ie *ItemError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 1, ie.Index)
	assert.ErrorIs(t, err, apperrors.ErrUnknownOperation)
	assert.Contains(t, err.Error(), "item 1")
}

func TestRunBatch_ContinueOnFail(t *testing.T) {
	items := []Item{{}, {}, {}}

	out, err := runBatch(context.Background(), items, BatchOptions{ContinueOnFail: true, Concurrency: 3},
		func(_ context.Context, i int, _ Item) (map[string]any, error) {
			if i == 1 {
				return nil, &withings.NetworkError{Err: errors.New("connection reset")}
			}
			return map[string]any{"ok": true}, nil
		})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, true, out[0].JSON["ok"])
	assert.Equal(t, "network error: connection reset", out[1].JSON["error"])
	assert.Equal(t, "network", out[1].JSON["error_kind"])
	assert.Equal(t, 1, out[1].PairedItem)
	assert.Equal(t, true, out[2].JSON["ok"])
}

func TestRunBatch_ErrorWithoutKind(t *testing.T) {
	out, err := runBatch(context.Background(), []Item{{}}, BatchOptions{ContinueOnFail: true},
		func(context.Context, int, Item) (map[string]any, error) {
			return nil, errors.New("boom")
		})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": "boom"}, out[0].JSON)
}

func TestRunBatch_Empty(t *testing.T) {
	out, err := runBatch(context.Background(), nil, BatchOptions{},
		func(context.Context, int, Item) (map[string]any, error) {
			t.Fatal("not called")
			return nil, nil
		})
	require.NoError(t, err)
	assert.Empty(t, out)
}

// --- DummyNode ---

func TestDummyNode_PassThrough(t *testing.T) {
	items := []Item{{JSON: map[string]any{"a": 1}, PairedItem: 0}}

	out, err := DummyNode{}.Execute(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, items, out)
}

// --- AccessTokenNode ---

func TestAccessTokenNode_GetAuthURL(t *testing.T) {
	node := NewAccessTokenNode(withings.NewClient(), oauthCreds(),
		AccessTokenParams{Operation: OpGetAuthURL, State: "xyz"}, BatchOptions{}, discard)

	out, err := node.Execute(context.Background(), []Item{{JSON: map[string]any{}}})
	require.NoError(t, err)
	require.Len(t, out, 1)

	fields := out[0].JSON
	assert.Equal(t, "cid", fields["client_id"])
	assert.Equal(t, "http://localhost:8080/callback", fields["redirect_uri"])
	assert.Equal(t, "user.info,user.metrics,user.activity", fields["scopes"])
	assert.Equal(t, Instructions, fields["instructions"])

	u, err := url.Parse(fields["authorization_url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "xyz", u.Query().Get("state"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
}

func TestAccessTokenNode_GetAuthURL_ParamsOverrideCredential(t *testing.T) {
	node := NewAccessTokenNode(withings.NewClient(), oauthCreds(),
		AccessTokenParams{Operation: OpGetAuthURL, ClientID: "other", Scopes: "user.metrics"}, BatchOptions{}, discard)

	out, err := node.Execute(context.Background(), []Item{{JSON: map[string]any{"scopes": "user.sleepevents"}}})
	require.NoError(t, err)
	assert.Equal(t, "other", out[0].JSON["client_id"])
	assert.Equal(t, "user.sleepevents", out[0].JSON["scopes"])
}

func TestAccessTokenNode_GetAccessToken_FromCallbackURL(t *testing.T) {
	client := providerStub(t, nil)
	node := NewAccessTokenNode(client, oauthCreds(), AccessTokenParams{
		Operation:   OpGetAccessToken,
		CallbackURL: "http://localhost:8080/callback?code=abc&state=s",
	}, BatchOptions{}, discard)

	out, err := node.Execute(context.Background(), []Item{{JSON: map[string]any{}}})
	require.NoError(t, err)

	fields := out[0].JSON
	assert.Equal(t, "at-abc", fields["access_token"])
	assert.Equal(t, "rt-abc", fields["refresh_token"])
	assert.Equal(t, "Bearer", fields["token_type"])
	assert.Equal(t, int64(10800), fields["expires_in"])
	assert.Equal(t, "7", fields["userid"])
	assert.Equal(t, "authorization_code", fields["operation"])
	assert.NotContains(t, fields, "scope")
}

func TestAccessTokenNode_GetAccessToken_PerItemCodes(t *testing.T) {
	client := providerStub(t, nil)
	node := NewAccessTokenNode(client, oauthCreds(), AccessTokenParams{Operation: OpGetAccessToken},
		BatchOptions{Concurrency: 4}, discard)

	items := []Item{
		{JSON: map[string]any{"code": "one"}},
		{JSON: map[string]any{"callback_url": "http://localhost/cb?code=two"}},
		{JSON: map[string]any{"code": "three"}},
	}

	out, err := node.Execute(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "at-one", out[0].JSON["access_token"])
	assert.Equal(t, "at-two", out[1].JSON["access_token"])
	assert.Equal(t, "at-three", out[2].JSON["access_token"])
}

func TestAccessTokenNode_GetAccessToken_MissingCode(t *testing.T) {
	var calls atomic.Int32
	client := providerStub(t, &calls)

	node := NewAccessTokenNode(client, oauthCreds(), AccessTokenParams{
		Operation:   OpGetAccessToken,
		CallbackURL: "http://localhost:8080/callback?state=only",
	}, BatchOptions{}, discard)

	_, err := node.Execute(context.Background(), []Item{{JSON: map[string]any{}}})
	require.Error(t, err)
	assert.True(t, withings.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "code=")
	assert.Equal(t, int32(0), calls.Load())
}

func TestAccessTokenNode_GetAccessToken_NoCallback(t *testing.T) {
	node := NewAccessTokenNode(withings.NewClient(), oauthCreds(),
		AccessTokenParams{Operation: OpGetAccessToken}, BatchOptions{}, discard)

	_, err := node.Execute(context.Background(), []Item{{JSON: map[string]any{}}})
	require.True(t, withings.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "callback_url")
}

func TestAccessTokenNode_Refresh_ContinueOnFail(t *testing.T) {
	client := providerStub(t, nil)
	node := NewAccessTokenNode(client, oauthCreds(), AccessTokenParams{Operation: OpRefreshAccessToken},
		BatchOptions{ContinueOnFail: true, Concurrency: 2}, discard)

	items := []Item{
		{JSON: map[string]any{"refresh_token": "good"}},
		{JSON: map[string]any{"refresh_token": "bad-token"}},
		{JSON: map[string]any{}},
	}

	out, err := node.Execute(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "at-good", out[0].JSON["access_token"])
	assert.Equal(t, "refresh_token", out[0].JSON["operation"])

	assert.Equal(t, "provider", out[1].JSON["error_kind"])
	assert.Contains(t, out[1].JSON["error"], "invalid_params")

	assert.Equal(t, "invalid_argument", out[2].JSON["error_kind"])
	assert.Contains(t, out[2].JSON["error"], "refresh_token")
}

func TestAccessTokenNode_Refresh_FailFast(t *testing.T) {
	client := providerStub(t, nil)
	node := NewAccessTokenNode(client, oauthCreds(), AccessTokenParams{Operation: OpRefreshAccessToken, RefreshToken: "bad"},
		BatchOptions{}, discard)

	_, err := node.Execute(context.Background(), []Item{{JSON: map[string]any{}}})
	require.Error(t, err)
	assert.True(t, withings.IsProvider(err))
}

func TestAccessTokenNode_UnknownOperation(t *testing.T) {
	node := NewAccessTokenNode(withings.NewClient(), oauthCreds(),
		AccessTokenParams{Operation: "revoke"}, BatchOptions{}, discard)

	_, err := node.Execute(context.Background(), []Item{{}})
	assert.ErrorIs(t, err, apperrors.ErrUnknownOperation)
}

func TestResultFields_OmitsAbsentOptionals(t *testing.T) {
	fields := ResultFields(&withings.ExchangeResult{
		Operation:   withings.OperationRefreshToken,
		AccessToken: "AT",
		TokenType:   "Bearer",
	})
	assert.Equal(t, map[string]any{
		"operation":    "refresh_token",
		"access_token": "AT",
		"token_type":   "Bearer",
	}, fields)
}

// --- GlobalVariablesNode ---

func TestGlobalVariablesNode_FromData(t *testing.T) {
	node, err := NewGlobalVariablesNodeFromData(globalvars.Data{
		"json1Name":  "api",
		"json1Value": `{"url":"https://example.com"}`,
	}, globalvars.DefaultOptions())
	require.NoError(t, err)

	out, err := node.Execute(context.Background(), []Item{{JSON: map[string]any{"id": 1}}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].JSON["id"])
	assert.Equal(t, globalvars.Variables{"api": map[string]any{"url": "https://example.com"}}, out[0].JSON["vars"])
}

func TestGlobalVariablesNode_NoInput(t *testing.T) {
	node := NewGlobalVariablesNode(StaticVariables{"a": true}, globalvars.Options{})

	out, err := node.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"a": true}, out[0].JSON)
}

func TestGlobalVariablesNode_FromDataDuplicate(t *testing.T) {
	_, err := NewGlobalVariablesNodeFromData(globalvars.Data{
		"json1Name": "a",
		"json2Name": "a",
	}, globalvars.DefaultOptions())
	assert.ErrorIs(t, err, apperrors.ErrDuplicateVariable)
}
