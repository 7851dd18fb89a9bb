package main

import (
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/withings-auth/internal/globalvars"
	"github.com/alexjbarnes/withings-auth/internal/nodes"
	"github.com/spf13/cobra"
)

func newVarsCmd(a *app) *cobra.Command {
	var (
		file    string
		items   []string
		spread  bool
		keyName string
	)

	cmd := &cobra.Command{
		Use:   "vars",
		Short: "Merge the global variables into items",
		Long: `Load the global variables file and merge its variables into the
given items. Without --item a single item holding only the variables is
printed.

Examples:
  withings-auth vars --file vars.yaml
  withings-auth vars --item '{"id":1}' --item '{"id":2}' --spread`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = a.cfg.GlobalVariablesFile
			}

			if file == "" {
				return fmt.Errorf("pass --file or set GLOBAL_VARIABLES_FILE")
			}

			data, err := globalvars.LoadFile(file)
			if err != nil {
				return err
			}

			opts := globalvars.DefaultOptions()
			opts.PutAllInOneKey = !spread
			if keyName != "" {
				opts.KeyName = keyName
			}

			node, err := nodes.NewGlobalVariablesNodeFromData(data, opts)
			if err != nil {
				return err
			}

			in := make([]nodes.Item, len(items))
			for i, raw := range items {
				var m map[string]any
				if err := json.Unmarshal([]byte(raw), &m); err != nil {
					return fmt.Errorf("item %d: %w", i+1, err)
				}

				in[i] = nodes.Item{JSON: m, PairedItem: i}
			}

			out, err := node.Execute(cmd.Context(), in)
			if err != nil {
				return err
			}

			result := make([]map[string]any, len(out))
			for i, item := range out {
				result[i] = item.JSON
			}

			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&file, "file", "", "global variables file (default GLOBAL_VARIABLES_FILE)")
	flags.StringArrayVar(&items, "item", nil, "JSON object to merge into, repeatable")
	flags.BoolVar(&spread, "spread", false, "put variables at the top level of each item")
	flags.StringVar(&keyName, "key", "", "key to nest variables under (default vars)")

	return cmd
}
