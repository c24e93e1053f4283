package main

import (
	"github.com/spf13/cobra"

	"github.com/scieloorg/pidmanager/internal/config"
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the config file, .env and
PIDM_* environment overrides.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		if !humanOutput {
			return outputJSON(cfg)
		}
		outputHuman("db:           %s\n", cfg.DB)
		outputHuman("busy_timeout: %s\n", cfg.BusyTimeout)
		outputHuman("log_dir:      %s\n", cfg.LogDir)
		outputHuman("pdf_fallback: %v\n", cfg.PDFFallback)
		outputHuman("aop.index:    %s\n", cfg.AOP.Index)
		outputHuman("aop.ssh_host: %s\n", cfg.AOP.SSHHost)
		outputHuman("aop.url:      %s\n", cfg.AOP.URL)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.Path()
		}
		if humanOutput {
			outputHuman("%s\n", path)
			return nil
		}
		return outputJSON(StatusResponse{Status: "ok", Path: path})
	},
}
