package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and modify the CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		path, _ := configPath()
		fmt.Println("Config file:", path)
		fmt.Println("  api.base_url =", valueOrUnset(cfg.API.BaseURL))
		fmt.Println("  auth.token   =", maskToken(cfg.Auth.Token))
		fmt.Println("  auth.user_id =", valueOrUnset(cfg.Auth.UserID))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (dot notation, e.g. auth.token)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		err := updateConfig(func(cfg *Config) error {
			return setConfigValue(cfg, args[0], args[1])
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Set %s\n", args[0])
	},
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(unset)"
	}
	return v
}

func maskToken(token string) string {
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
