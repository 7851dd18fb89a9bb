package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/alexjbarnes/withings-auth/internal/config"
	"github.com/alexjbarnes/withings-auth/internal/credentials"
	"github.com/alexjbarnes/withings-auth/internal/logging"
	"github.com/spf13/cobra"
)

// skipConfig marks commands that run without loading the environment
// configuration.
const skipConfig = "skip-config"

// app is the state shared by all subcommands once the configuration is
// loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "withings-auth",
		Short: "Obtain and refresh Withings OAuth2 tokens",
		Long: `withings-auth drives the Withings OAuth2 flow.

Run "serve" for a local callback server and an MCP endpoint, or use the
one-shot commands to build an authorization URL, exchange a code and
refresh tokens. Settings come from the environment or a .env file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := cmd.Annotations[skipConfig]; ok {
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			a.cfg = cfg
			if cmd.Name() == "serve" {
				a.logger = logging.NewLogger(cfg.Environment, cfg.LogLevel)
			} else {
				a.logger = logging.NewCLILogger(cfg.Environment, cfg.LogLevel)
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("withings-auth %s\n", Version))

	root.AddCommand(
		newServeCmd(a),
		newAuthURLCmd(a),
		newExchangeCmd(a),
		newRefreshCmd(a),
		newExchangesCmd(a),
		newVarsCmd(a),
		newHashKeyCmd(),
	)

	return root
}

// credentials returns the OAuth2 credential built from the configuration.
func (a *app) credentials() credentials.Data {
	return credentials.Data{
		"clientId":       a.cfg.ClientID,
		"clientSecret":   a.cfg.ClientSecret,
		"redirectUri":    a.cfg.RedirectURI,
		"scope":          a.cfg.Scope,
		"authUrl":        a.cfg.AuthURL,
		"accessTokenUrl": a.cfg.TokenURL,
	}
}

// printJSON writes v as indented JSON. A single-element slice is printed
// as its element.
func printJSON(w io.Writer, v any) error {
	if items, ok := v.([]map[string]any); ok && len(items) == 1 {
		v = items[0]
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
