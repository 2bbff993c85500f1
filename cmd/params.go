package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookreader/backends"
	"bookreader/params"
)

var paramsBackend string

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Print a backend's generation parameters as JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		factories := backends.Registry(cfg, logger)
		factory := factories[0]
		if paramsBackend != "" {
			var names []string
			found := false
			for _, f := range factories {
				names = append(names, f.Name)
				if strings.EqualFold(f.Name, paramsBackend) {
					factory, found = f, true
				}
			}
			if !found {
				return fmt.Errorf("unknown backend %q, available: %s", paramsBackend, strings.Join(names, ", "))
			}
		}

		b, err := factory.New(cmd.Context())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(params.JSONSchema(b.Name(), b.GenerationParams()), "", "  ")
		if err != nil {
			return fmt.Errorf("encode schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	paramsCmd.Flags().StringVar(&paramsBackend, "backend", "", "backend name (default: the first registered)")
}
