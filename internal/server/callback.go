package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	apperrors "github.com/alexjbarnes/withings-auth/internal/errors"
	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/google/uuid"
)

type resultData struct {
	Error  string
	Result *withings.ExchangeResult
}

// HandleAuthorize starts the consent flow. A fresh state is stored as
// pending and the browser is redirected to Withings. The scope query
// parameter overrides the configured scopes.
func HandleAuthorize(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		scopes := withings.SplitScopes(r.URL.Query().Get("scope"))
		if len(scopes) == 0 {
			scopes = withings.SplitScopes(cfg.Credentials["scope"])
		}

		req := withings.AuthorizationURLRequest{
			ClientID:    cfg.Credentials["clientId"],
			RedirectURI: cfg.Credentials["redirectUri"],
			Scope:       scopes,
			State:       uuid.NewString(),
		}

		authURL, err := cfg.Client.AuthorizationURL(req)
		if err != nil {
			cfg.Logger.Error("building authorization url", slog.String("error", err.Error()))
			http.Error(w, "server misconfigured", http.StatusInternalServerError)
			return
		}

		ps := cfg.State.NewPendingState(req.State, req.RedirectURI, req.Scope)
		if err := cfg.State.SavePendingState(ps); err != nil {
			cfg.Logger.Error("saving pending state", slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		cfg.Logger.Info("authorization started",
			slog.String("remote_ip", remoteIP(r)),
			slog.String("scopes", withings.JoinScopes(req.Scope)),
		)

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// HandleCallback completes the consent flow: it consumes the pending
// state, exchanges the code and renders the tokens once.
func HandleCallback(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ps, err := cfg.State.ConsumePendingState(r.URL.Query().Get("state"))
		if err != nil {
			if !errors.Is(err, apperrors.ErrUnknownState) {
				cfg.Logger.Error("consuming pending state", slog.String("error", err.Error()))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			cfg.Logger.Warn("callback with unknown state", slog.String("remote_ip", remoteIP(r)))
			renderResult(w, cfg.Logger, http.StatusBadRequest, resultData{Error: "invalid or expired state, start again from /authorize"})
			return
		}

		cb, err := withings.ParseCallback(r.URL.RequestURI())
		if err != nil {
			cfg.Logger.Info("callback rejected", slog.String("kind", withings.Kind(err)), slog.String("error", err.Error()))
			renderResult(w, cfg.Logger, http.StatusBadRequest, resultData{Error: err.Error()})
			return
		}

		res, err := cfg.Client.ExchangeCode(r.Context(), withings.AuthorizationCodeExchange{
			ClientID:          cfg.Credentials["clientId"],
			ClientSecret:      cfg.Credentials["clientSecret"],
			AuthorizationCode: cb.Code,
			RedirectURI:       ps.RedirectURI,
		})
		if err != nil {
			cfg.Logger.Warn("code exchange failed", slog.String("kind", withings.Kind(err)), slog.String("error", err.Error()))
			renderResult(w, cfg.Logger, statusFor(err), resultData{Error: err.Error()})
			return
		}

		rec, err := cfg.State.RecordExchange(res)
		if err != nil {
			cfg.Logger.Warn("recording exchange failed", slog.String("error", err.Error()))
		}

		cfg.Logger.Info("authorization complete",
			slog.String("userid", res.UserID),
			slog.String("scope", res.Scope),
			slog.String("record", rec.ID),
		)

		renderResult(w, cfg.Logger, http.StatusOK, resultData{Result: res})
	}
}

func statusFor(err error) int {
	switch {
	case withings.IsInvalidArgument(err):
		return http.StatusBadRequest
	case withings.IsNetwork(err):
		return http.StatusBadGateway
	default:
		return http.StatusUnauthorized
	}
}

func renderResult(w http.ResponseWriter, logger *slog.Logger, status int, data resultData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, data); err != nil {
		logger.Warn("rendering result page", slog.String("error", err.Error()))
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
