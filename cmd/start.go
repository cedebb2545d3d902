package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/source"
)

var (
	startInterface string
	startType      string
	pidFile        string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Decode live traffic from a network interface",
	Long: `
Capture game traffic on a live interface and decode it until interrupted.

The interface may be given as a device name or as the IPv4 address of the
device. SIGINT and SIGTERM stop the capture; statistics are printed on exit.

Examples:
  zwiftmon start -i eth0                       # Capture on eth0 with default config
  zwiftmon start -i 192.168.1.20               # Capture on the device holding 192.168.1.20
  zwiftmon start -c config.yml --type afpacket # Use AF_PACKET instead of libpcap
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if startInterface != "" {
			cfg.Capture.Interface = startInterface
		}
		if startType != "" {
			cfg.Capture.Type = startType
		}
		if cfg.Capture.Type == "file" {
			return fmt.Errorf("capture.type=file is not live; use the replay command")
		}
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return err
		}

		if pidFile != "" {
			if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
				return fmt.Errorf("write pid file: %w", err)
			}
			defer os.Remove(pidFile)
		}

		src, err := source.New(cfg.Capture)
		if err != nil {
			return err
		}
		p, err := newPipeline(cfg, src, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer p.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.GetLogger().WithField("source", src.Name()).
			WithField("filter", cfg.Capture.BPFFilter()).
			Info("capture started, press Ctrl+C to stop")

		runErr := p.run(ctx)
		printStats(cmd.ErrOrStderr(), p.monitor.Stats())
		return runErr
	},
}

func init() {
	startCmd.Flags().StringVarP(&startInterface, "interface", "i", "", "capture device name or IPv4 address")
	startCmd.Flags().StringVar(&startType, "type", "", "capture type: pcap or afpacket (overrides config)")
	startCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "", "PID file path")
}
