package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"paymesh/internal/config"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		settings   = new(config.ApplicationSettings)
	)

	cmd := &cobra.Command{
		Use:           "paymesh",
		Short:         "Regional multi-provider payment orchestration",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			*settings = *loaded
			slog.SetDefault(settings.Logging.NewLogger(os.Stderr))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $PAYMESH_CONFIG)")

	cmd.AddCommand(serveCmd(settings))
	cmd.AddCommand(statsCmd(settings))
	cmd.AddCommand(historyCmd(settings))
	cmd.AddCommand(convertCmd(settings))
	cmd.AddCommand(formatCmd(settings))
	cmd.AddCommand(migrateCmd(settings))

	return cmd
}
