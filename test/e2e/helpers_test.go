package e2e_test

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/alexjbarnes/withings-auth/internal/auth"
	"github.com/alexjbarnes/withings-auth/internal/credentials"
	"github.com/alexjbarnes/withings-auth/internal/globalvars"
	"github.com/alexjbarnes/withings-auth/internal/mcpserver"
	"github.com/alexjbarnes/withings-auth/internal/server"
	"github.com/alexjbarnes/withings-auth/internal/state"
	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "e2e-client"
	testSecret   = "e2e-secret"
	testAPIKey   = "wa_e2e-test-key"
	testUserID   = "4242"
)

// harness holds the full e2e stack: a fake Withings provider and a real
// HTTP server running the consent flow endpoints and the MCP tools.
type harness struct {
	URL      string
	State    *state.State
	Client   *http.Client
	Provider *fakeProvider
}

// fakeProvider plays Withings. Its consent page approves immediately
// and redirects back with a fresh code. Its token endpoint accepts any
// code it issued once.
type fakeProvider struct {
	URL   string
	codes atomic.Int64
	t     *testing.T
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2_user/authorize2", p.authorize)
	mux.HandleFunc("/v2/oauth2", p.token)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	p.URL = srv.URL

	return p
}

func (p *fakeProvider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != testClientID || q.Get("response_type") != "code" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		http.Error(w, "bad redirect_uri", http.StatusBadRequest)
		return
	}

	back := url.Values{
		"code":  {fmt.Sprintf("code-%d", p.codes.Add(1))},
		"state": {q.Get("state")},
	}
	redirect.RawQuery = back.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	if !assert.NoError(p.t, r.ParseForm()) {
		return
	}

	f := r.PostForm
	assert.Equal(p.t, "requesttoken", f.Get("action"))

	if f.Get("client_id") != testClientID || f.Get("client_secret") != testSecret {
		fmt.Fprint(w, `{"status":503,"error":"Invalid Params: invalid client id"}`)
		return
	}

	var seed string

	switch f.Get("grant_type") {
	case "authorization_code":
		seed = f.Get("code")
	case "refresh_token":
		seed = "refreshed-" + f.Get("refresh_token")
	default:
		fmt.Fprint(w, `{"status":503,"error":"Invalid Params: grant_type"}`)
		return
	}

	fmt.Fprintf(w, `{"status":0,"body":{"userid":%s,"access_token":"at-%s","refresh_token":"rt-%s","expires_in":10800,"scope":"user.info,user.metrics","token_type":"Bearer"}}`,
		testUserID, seed, seed)
}

// newHarness wires the provider client, state, global variables and MCP
// server into server.NewMux and starts an httptest server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	provider := newFakeProvider(t)
	logger := slog.New(slog.DiscardHandler)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	varsPath := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(varsPath, []byte("json1Name: withings\njson1Value:\n  units: metric\n"), 0o600))

	vars, err := globalvars.NewWatcher(varsPath, logger)
	require.NoError(t, err)

	// The redirect URI must point back at this server, so read the
	// listener address before building the mux.
	ts := httptest.NewUnstartedServer(nil)
	serverURL := "http://" + ts.Listener.Addr().String()

	client := withings.NewClient(
		withings.WithTransport(withings.NewHTTPTransport(withings.NewHTTPClient(0))),
		withings.WithAuthorizationURL(provider.URL+"/oauth2_user/authorize2"),
		withings.WithTokenURL(provider.URL+"/v2/oauth2"),
	)

	creds := credentials.Data{
		"clientId":     testClientID,
		"clientSecret": testSecret,
		"redirectUri":  serverURL + "/callback",
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "withings-auth-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		Client:      client,
		Credentials: creds,
		State:       st,
		Variables:   vars,
		Logger:      logger,
	})

	hash, err := auth.HashKey(testAPIKey)
	require.NoError(t, err)

	ts.Config.Handler = server.NewMux(server.MuxConfig{
		Client:      client,
		Credentials: creds,
		State:       st,
		MCPHandler: mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil),
		Keys:           auth.NewKeyStore([]auth.APIKey{{Name: "e2e", Hash: hash}}),
		Logger:         logger,
		EnableCallback: true,
		EnableMCP:      true,
	})
	ts.Start()
	t.Cleanup(ts.Close)

	return &harness{
		URL:      serverURL,
		State:    st,
		Client:   ts.Client(),
		Provider: provider,
	}
}

// mcpSession creates an MCP client session authenticated with the given
// API key. Uses the MCP SDK's StreamableClientTransport with a custom
// HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// doGet performs a GET request with t.Context(), following redirects.
func (h *harness) doGet(t *testing.T, fullURL string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, fullURL, nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doGetNoRedirect performs a GET that does not follow redirects.
func (h *harness) doGetNoRedirect(t *testing.T, fullURL string) *http.Response {
	t.Helper()

	noRedirect := *h.Client
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, fullURL, nil)
	require.NoError(t, err)

	resp, err := noRedirect.Do(req)
	require.NoError(t, err)

	return resp
}

// consent visits an authorization URL at the provider and returns the
// callback URL it redirects to, without following it.
func (h *harness) consent(t *testing.T, authURL string) string {
	t.Helper()

	resp := h.doGetNoRedirect(t, authURL)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc := resp.Header.Get("Location")
	require.NotEmpty(t, loc)

	return loc
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}
