package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"firestige.xyz/zwiftmon/internal/codec"
	"firestige.xyz/zwiftmon/internal/config"
	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
	"firestige.xyz/zwiftmon/internal/metrics"
	"firestige.xyz/zwiftmon/internal/monitor"
	"firestige.xyz/zwiftmon/internal/sink"
	"firestige.xyz/zwiftmon/internal/sink/console"
	"firestige.xyz/zwiftmon/internal/sink/kafka"
	"firestige.xyz/zwiftmon/internal/sink/nats"
	"firestige.xyz/zwiftmon/internal/sink/pcapdump"
)

// pipeline bundles a monitor with everything attached to it.
type pipeline struct {
	monitor *monitor.Monitor
	sinks   []sink.Sink
	dump    *pcapdump.Writer
	metrics *metrics.Server
	logger  log.Logger
}

// newPipeline wires src, the codec and the configured sinks. Console output
// goes to out.
func newPipeline(cfg *config.GlobalConfig, src monitor.Source, out io.Writer) (p *pipeline, err error) {
	p = &pipeline{logger: log.GetLogger().WithField(core.FieldComponent, "cmd")}
	defer func() {
		if err != nil {
			p.close()
		}
	}()

	c, err := codec.Load(cfg.Decoder.SchemaFile)
	if err != nil {
		return nil, err
	}

	var opts []monitor.Option
	if cfg.Sinks.PcapDump.Enabled {
		if p.dump, err = pcapdump.Create(cfg.Sinks.PcapDump.Path); err != nil {
			return nil, err
		}
		opts = append(opts, monitor.WithDiagnostics(p.dump))
	}
	p.monitor = monitor.New(monitor.ConfigFrom(cfg), src, c, opts...)

	if cfg.Sinks.Console.Enabled {
		s, err := console.NewWriter(cfg.Sinks.Console.Format, out)
		if err != nil {
			return nil, err
		}
		p.sinks = append(p.sinks, s)
	}
	if cfg.Sinks.NATS.Enabled {
		s, err := nats.New(cfg.Sinks.NATS)
		if err != nil {
			return nil, err
		}
		p.sinks = append(p.sinks, s)
	}
	if cfg.Sinks.Kafka.Enabled {
		s, err := kafka.New(cfg.Sinks.Kafka)
		if err != nil {
			return nil, err
		}
		p.sinks = append(p.sinks, s)
	}
	for _, s := range p.sinks {
		if err := sink.Attach(p.monitor, s); err != nil {
			return nil, fmt.Errorf("attach sink %s: %w", s.Name(), err)
		}
	}

	if cfg.Metrics.Enabled {
		p.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	return p, nil
}

// run starts the monitor and blocks until the source is exhausted, a fatal
// error occurs or ctx is cancelled. Queued events are delivered before it
// returns unless ctx was cancelled.
func (p *pipeline) run(ctx context.Context) error {
	if p.metrics != nil {
		if err := p.metrics.Start(ctx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}
	if err := p.monitor.Start(ctx); err != nil {
		return err
	}

	select {
	case <-p.monitor.Done():
	case <-ctx.Done():
		p.logger.Info("shutdown requested")
	}
	runErr := p.monitor.Err()

	if ctx.Err() == nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.monitor.Drain(drainCtx); err != nil {
			p.logger.WithError(err).Warn("event queue not drained")
		}
		cancel()
	}
	if err := p.monitor.Stop(); err != nil {
		p.logger.WithError(err).Error("error stopping monitor")
	}
	return runErr
}

// close releases sinks and servers. Safe on a partially built pipeline.
func (p *pipeline) close() error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), err))
		}
	}
	if p.dump != nil {
		if err := p.dump.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pcap dump: %w", err))
		}
	}
	if p.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.metrics.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}
