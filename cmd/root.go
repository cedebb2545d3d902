// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/log"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zwiftmon",
	Short: "zwiftmon - live decoder for Zwift game traffic",
	Long: `zwiftmon captures the game protocol exchanged between a Zwift client and
its server (UDP 3022, TCP 3023), decodes every message and hands the result
to configured sinks.

Features:
  - Inbound and outbound UDP decoding with sequence tracking
  - TCP stream reassembly of server messages
  - Player update dispatch to typed sub-messages
  - Sinks: console, NATS, Kafka, pcap dump of undecodable frames`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig reads the config file and initializes logging from it.
func loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init log: %w", err)
	}
	return cfg, nil
}
