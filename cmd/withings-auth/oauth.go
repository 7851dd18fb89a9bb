package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexjbarnes/withings-auth/internal/nodes"
	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newAuthURLCmd(a *app) *cobra.Command {
	var (
		params    nodes.AccessTokenParams
		withState bool
	)

	cmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Print the Withings authorization URL",
		Long: `Print the Withings consent page URL.

Open it in a browser, grant access and copy the full URL you are
redirected to. Pass that URL to "exchange".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params.Operation = nodes.OpGetAuthURL
			if withState && params.State == "" {
				params.State = uuid.NewString()
			}

			out, err := a.run(cmd.Context(), params, []nodes.Item{{JSON: map[string]any{}}})
			if err != nil {
				return err
			}

			if params.State != "" {
				out[0]["state"] = params.State
			}

			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&params.ClientID, "client-id", "", "Withings client ID (default WITHINGS_CLIENT_ID)")
	flags.StringVar(&params.RedirectURI, "redirect-uri", "", "redirect URI (default WITHINGS_REDIRECT_URI)")
	flags.StringVar(&params.Scopes, "scope", "", "comma-separated scopes (default WITHINGS_SCOPE)")
	flags.StringVar(&params.State, "state", "", "CSRF state to include")
	flags.BoolVar(&withState, "generate-state", false, "include a random state")

	return cmd
}

func newExchangeCmd(a *app) *cobra.Command {
	var params nodes.AccessTokenParams

	cmd := &cobra.Command{
		Use:   "exchange [callback-url...]",
		Short: "Exchange authorization codes for tokens",
		Long: `Exchange authorization codes for access and refresh tokens.

Each argument is a full callback URL containing code=. Use --code to pass
a bare authorization code instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Operation = nodes.OpGetAccessToken

			items := make([]nodes.Item, 0, len(args))
			for _, arg := range args {
				items = append(items, nodes.Item{JSON: map[string]any{"callback_url": arg}})
			}

			if len(items) == 0 {
				if params.AuthorizationCode == "" {
					return fmt.Errorf("pass a callback URL or --code")
				}

				items = append(items, nodes.Item{JSON: map[string]any{}})
			}

			out, err := a.run(cmd.Context(), params, items)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&params.AuthorizationCode, "code", "", "authorization code")
	flags.StringVar(&params.ClientID, "client-id", "", "Withings client ID (default WITHINGS_CLIENT_ID)")
	flags.StringVar(&params.ClientSecret, "client-secret", "", "Withings client secret (default WITHINGS_CLIENT_SECRET)")
	flags.StringVar(&params.RedirectURI, "redirect-uri", "", "redirect URI used for the code (default WITHINGS_REDIRECT_URI)")

	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	var params nodes.AccessTokenParams

	cmd := &cobra.Command{
		Use:   "refresh <refresh-token...>",
		Short: "Refresh access tokens",
		Long: `Obtain new access tokens from refresh tokens.

Withings rotates refresh tokens. Store the refresh_token from the output,
the one passed in stops working.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Operation = nodes.OpRefreshAccessToken

			items := make([]nodes.Item, len(args))
			for i, arg := range args {
				items[i] = nodes.Item{JSON: map[string]any{"refresh_token": strings.TrimSpace(arg)}}
			}

			out, err := a.run(cmd.Context(), params, items)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&params.ClientID, "client-id", "", "Withings client ID (default WITHINGS_CLIENT_ID)")
	flags.StringVar(&params.ClientSecret, "client-secret", "", "Withings client secret (default WITHINGS_CLIENT_SECRET)")

	return cmd
}

// run executes an AccessTokenNode over items and returns the output
// items' JSON.
func (a *app) run(ctx context.Context, params nodes.AccessTokenParams, items []nodes.Item) ([]map[string]any, error) {
	client := a.cfg.NewClient(withings.WithLogger(a.logger))

	node := nodes.NewAccessTokenNode(client, a.credentials(), params, nodes.BatchOptions{
		ContinueOnFail: a.cfg.ContinueOnFail,
		Concurrency:    a.cfg.BatchConcurrency,
	}, a.logger)

	out, err := node.Execute(ctx, items)
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, len(out))
	for i, item := range out {
		result[i] = item.JSON
	}

	return result, nil
}
