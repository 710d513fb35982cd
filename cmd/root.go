/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/jjudge-oj/marketplace/config"
	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marketplace",
	Short: "Multi-user product marketplace",
	Long: `A small marketplace where signed-in users list products with a photo,
search the catalog and like each other's listings.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and builds the process logger.
func loadConfig(role string) (config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, logger.New(role, "info"), err
	}
	return cfg, logger.New(role, cfg.LogLevel), nil
}
