package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deckwork/internal/config"
)

// NewRootCommand creates the deckwork command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "deckwork",
		Short: "Presentation generation orchestrator",
		Long: `deckwork turns prompts into topic lists and slide decks by delegating to an
external generation service, polling its task status and streaming typed
progress events to connected clients.

  deckwork serve                         # Run the server
  deckwork watch -u alice                # Follow a user's event stream
  deckwork watch -u alice -p "solar 101" # Start a generation and follow it
  deckwork config init                   # Write a starter config file`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default $HOME/.deckwork/deckwork.yaml)")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newConfigCommand(&configPath))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// newVersionCommand creates the version subcommand.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", appVersion())
		},
	}
}

// newConfigCommand creates the config subcommand.
func newConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out, err := cfg.Render()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				var err error
				path, err = config.DefaultPath()
				if err != nil {
					return err
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})

	return cmd
}
