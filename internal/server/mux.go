// Package server provides HTTP server construction for withings-auth.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/withings-auth/internal/auth"
	"github.com/alexjbarnes/withings-auth/internal/credentials"
	"github.com/alexjbarnes/withings-auth/internal/state"
	"github.com/alexjbarnes/withings-auth/withings"
)

// MuxConfig holds dependencies for building the HTTP mux. State is
// required when EnableCallback is set; Keys and MCPHandler when
// EnableMCP is set.
type MuxConfig struct {
	Client         *withings.Client
	Credentials    credentials.Data
	State          *state.State
	MCPHandler     http.Handler
	Keys           *auth.KeyStore
	Logger         *slog.Logger
	EnableCallback bool
	EnableMCP      bool
}

// NewMux builds the HTTP mux with the consent flow endpoints and the MCP
// endpoint. The MCP endpoint is protected by API key middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	cfg.Credentials = credentials.OAuth2.WithDefaults(cfg.Credentials)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.EnableCallback {
		mux.HandleFunc("/authorize", HandleAuthorize(cfg))
		mux.HandleFunc("/callback", HandleCallback(cfg))
	}

	if cfg.EnableMCP {
		authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
		mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	}

	return mux
}
