package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/source/file"
)

var replayFile string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Decode a pcap or pcapng capture file",
	Long: `Decode every frame of a capture file through the same pipeline as a live
capture, deliver all events to the configured sinks and exit.

Examples:
  zwiftmon replay -f session.pcap
  zwiftmon replay -f session.pcapng -c config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, cfg, replayFile, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "capture file to decode (required)")
	replayCmd.MarkFlagRequired("file")
}

// runReplay decodes path with cfg. Events go to out, statistics to errOut.
func runReplay(ctx context.Context, cfg *config.GlobalConfig, path string, out, errOut io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("capture file: %w", err)
	}
	cfg.Capture.Type = "file"
	cfg.Capture.File = path

	src, err := file.NewSource(path)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, src, out)
	if err != nil {
		return err
	}
	defer p.close()

	runErr := p.run(ctx)
	printStats(errOut, p.monitor.Stats())
	return runErr
}
