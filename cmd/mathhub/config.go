package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/config"
	"github.com/mathhub/mathhub/internal/home"
	"github.com/mathhub/mathhub/internal/output"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Long: `Write the default configuration to the home directory (or --config).

Secrets are written as ${ENV_VAR} references and resolved at load time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if path == h.ConfigPath() && h.ConfigExists() && !configForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		logger.Info("wrote default config", "path", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		return output.Write(cfg)
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys [key]",
	Short: "List configuration keys with their defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			entry, err := config.LookupDefault(args[0])
			if err != nil {
				return err
			}
			return output.Write(entry)
		}
		return output.Write(config.DefaultEntries())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configKeysCmd)
}
