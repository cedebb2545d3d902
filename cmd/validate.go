package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/config"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and environment overrides and
check it without capturing anything. A custom schema file, if configured, is
loaded as well.

Examples:
  zwiftmon validate -c config.yml
  zwiftmon validate -c config.yml --dump   # also print the effective config`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validateDump, cmd.OutOrStdout())
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "print the effective configuration as YAML")
}

func runValidate(path string, dump bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	if _, err := codec.Load(cfg.Decoder.SchemaFile); err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	sinks := 0
	for _, enabled := range []bool{cfg.Sinks.Console.Enabled, cfg.Sinks.NATS.Enabled, cfg.Sinks.Kafka.Enabled} {
		if enabled {
			sinks++
		}
	}
	fmt.Fprintf(out, "VALID: capture %s, ports udp/%d tcp/%d, %d sink(s)\n",
		cfg.Capture.Type, cfg.Capture.UDPPort, cfg.Capture.TCPPort, sinks)

	if dump {
		b, err := yaml.Marshal(map[string]*config.GlobalConfig{"zwiftmon": cfg})
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = out.Write(b)
		return err
	}
	return nil
}
