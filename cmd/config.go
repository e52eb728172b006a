package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/config"
)

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect the loaded configuration document",
	}
	c.AddCommand(configDumpCmd())
	return c
}

func configDumpCmd() *cobra.Command {
	var format string
	c := &cobra.Command{
		Use:   "dump",
		Short: "Print the resolved configuration after defaults, env, and flag overlays",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, nil)
			if err != nil {
				return err
			}
			if format == "json" {
				printJSON(cfg)
				return nil
			}
			out, err := config.Dump(cfg, format)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	c.Flags().StringVar(&format, "format", "yaml", "output format: yaml, toml, or json")
	return c
}
