package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/alexjbarnes/withings-auth/internal/auth"
	"github.com/spf13/cobra"
)

func newHashKeyCmd() *cobra.Command {
	var (
		name      string
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Generate an API key and its API_KEYS entry",
		Long: `Generate a random API key for the /mcp endpoint and print the entry to
add to API_KEYS. With --stdin the key is read from standard input instead
of generated.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var key string

			if fromStdin {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					return fmt.Errorf("no input")
				}

				key = strings.TrimSpace(scanner.Text())
				if key == "" {
					return fmt.Errorf("empty key")
				}
			} else {
				var err error

				key, err = auth.GenerateKey()
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.ErrOrStderr(), "API key (shown once): %s\n", key)
			}

			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", name, hash)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "name the key is logged under")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the key from standard input")

	return cmd
}
