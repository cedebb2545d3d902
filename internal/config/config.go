// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"firestige.xyz/zwiftmon/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `zwiftmon:` root key in YAML.
type GlobalConfig struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Decoder DecoderConfig `mapstructure:"decoder" yaml:"decoder"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Sinks   SinksConfig   `mapstructure:"sinks" yaml:"sinks"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the packet source.
type CaptureConfig struct {
	Type        string        `mapstructure:"type" yaml:"type"`           // pcap | afpacket | file
	Interface   string        `mapstructure:"interface" yaml:"interface"` // device name or IPv4 address
	File        string        `mapstructure:"file" yaml:"file"`           // pcap file for type=file
	SnapLen     int           `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSize  int           `mapstructure:"buffer_size" yaml:"buffer_size"` // bytes
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Promiscuous bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	UDPPort     uint16        `mapstructure:"udp_port" yaml:"udp_port"`
	TCPPort     uint16        `mapstructure:"tcp_port" yaml:"tcp_port"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"` // frames between capture and decode
}

// BPFFilter returns the capture filter selecting the two protocol ports.
func (c CaptureConfig) BPFFilter() string {
	return fmt.Sprintf("udp port %d or tcp port %d", c.UDPPort, c.TCPPort)
}

// ─── Decoder ───

// DecoderConfig tunes the decode pipeline.
type DecoderConfig struct {
	MaxMessageSize   int           `mapstructure:"max_message_size" yaml:"max_message_size"`     // TCP length prefix ceiling
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`             // 0 = keep partial TCP streams forever
	ReorderWindow    time.Duration `mapstructure:"reorder_window" yaml:"reorder_window"`         // how long a TCP hole may stay open
	MaxBufferedPages int           `mapstructure:"max_buffered_pages" yaml:"max_buffered_pages"` // out-of-order pages held per TCP flow
	WorldEpochMillis int64         `mapstructure:"world_epoch_ms" yaml:"world_epoch_ms"`
	ClockDriftWarn   time.Duration `mapstructure:"clock_drift_warn" yaml:"clock_drift_warn"` // 0 = disabled
	SchemaFile       string        `mapstructure:"schema_file" yaml:"schema_file"`           // text-format descriptor; empty = embedded
}

// ─── Events ───

// EventsConfig sizes the asynchronous event queue.
type EventsConfig struct {
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`     // trace / debug / info / warn / error
	Pattern string           `mapstructure:"pattern" yaml:"pattern"` // e.g. "%time [%level] %msg %field%n"
	Time    string           `mapstructure:"time" yaml:"time"`       // Go time layout
	File    FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Sinks ───

// SinksConfig lists the consumers attached to emitted events.
type SinksConfig struct {
	Console  ConsoleSinkConfig  `mapstructure:"console" yaml:"console"`
	NATS     NATSSinkConfig     `mapstructure:"nats" yaml:"nats"`
	Kafka    KafkaSinkConfig    `mapstructure:"kafka" yaml:"kafka"`
	PcapDump PcapDumpSinkConfig `mapstructure:"pcap_dump" yaml:"pcap_dump"`
}

// ConsoleSinkConfig prints events to stdout.
type ConsoleSinkConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Format  string `mapstructure:"format" yaml:"format"` // json | text
}

// NATSSinkConfig forwards events to a NATS server.
type NATSSinkConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Partitions    int    `mapstructure:"partitions" yaml:"partitions"` // subjects per direction, flows hashed onto them
}

// KafkaSinkConfig forwards events to a Kafka topic.
type KafkaSinkConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none | gzip | snappy | lz4
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// PcapDumpSinkConfig records undecodable frames for offline diagnosis.
type PcapDumpSinkConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `zwiftmon: ...`.
type configRoot struct {
	Zwiftmon GlobalConfig `mapstructure:"zwiftmon" yaml:"zwiftmon"`
}

// Load loads configuration from file. An empty path loads defaults only.
// Env vars override file values, e.g. ZWIFTMON_CAPTURE_INTERFACE.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Zwiftmon

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static and always valid.
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
// All keys use "zwiftmon." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("zwiftmon.capture.type", "pcap")
	v.SetDefault("zwiftmon.capture.interface", "")
	v.SetDefault("zwiftmon.capture.file", "")
	v.SetDefault("zwiftmon.capture.snap_len", 65535)
	v.SetDefault("zwiftmon.capture.buffer_size", 10*1024*1024)
	v.SetDefault("zwiftmon.capture.timeout", "200ms")
	v.SetDefault("zwiftmon.capture.promiscuous", false)
	v.SetDefault("zwiftmon.capture.udp_port", 3022)
	v.SetDefault("zwiftmon.capture.tcp_port", 3023)
	v.SetDefault("zwiftmon.capture.queue_size", 4096)

	// Decoder defaults
	v.SetDefault("zwiftmon.decoder.max_message_size", 32*1024)
	v.SetDefault("zwiftmon.decoder.idle_timeout", "0s")
	v.SetDefault("zwiftmon.decoder.reorder_window", "500ms")
	v.SetDefault("zwiftmon.decoder.max_buffered_pages", 64)
	v.SetDefault("zwiftmon.decoder.world_epoch_ms", int64(1414016074335))
	v.SetDefault("zwiftmon.decoder.clock_drift_warn", "200ms")
	v.SetDefault("zwiftmon.decoder.schema_file", "")

	// Events defaults
	v.SetDefault("zwiftmon.events.queue_size", 8192)

	// Log defaults
	v.SetDefault("zwiftmon.log.level", "info")
	v.SetDefault("zwiftmon.log.pattern", "%time [%level] %msg %field%n")
	v.SetDefault("zwiftmon.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("zwiftmon.log.file.enabled", false)
	v.SetDefault("zwiftmon.log.file.path", "/var/log/zwiftmon/zwiftmon.log")
	v.SetDefault("zwiftmon.log.file.rotation.max_size_mb", 100)
	v.SetDefault("zwiftmon.log.file.rotation.max_age_days", 30)
	v.SetDefault("zwiftmon.log.file.rotation.max_backups", 5)
	v.SetDefault("zwiftmon.log.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("zwiftmon.metrics.enabled", false)
	v.SetDefault("zwiftmon.metrics.listen", ":9091")
	v.SetDefault("zwiftmon.metrics.path", "/metrics")

	// Sink defaults
	v.SetDefault("zwiftmon.sinks.console.enabled", true)
	v.SetDefault("zwiftmon.sinks.console.format", "json")
	v.SetDefault("zwiftmon.sinks.nats.enabled", false)
	v.SetDefault("zwiftmon.sinks.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("zwiftmon.sinks.nats.subject_prefix", "zwiftmon")
	v.SetDefault("zwiftmon.sinks.nats.partitions", 8)
	v.SetDefault("zwiftmon.sinks.kafka.enabled", false)
	v.SetDefault("zwiftmon.sinks.kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("zwiftmon.sinks.kafka.topic", "zwiftmon")
	v.SetDefault("zwiftmon.sinks.kafka.batch_size", 100)
	v.SetDefault("zwiftmon.sinks.kafka.batch_timeout", "100ms")
	v.SetDefault("zwiftmon.sinks.kafka.compression", "snappy")
	v.SetDefault("zwiftmon.sinks.kafka.max_attempts", 3)
	v.SetDefault("zwiftmon.sinks.pcap_dump.enabled", false)
	v.SetDefault("zwiftmon.sinks.pcap_dump.path", "zwiftmon-undecoded.pcap")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}

	// ── Capture validation ──
	switch cfg.Capture.Type {
	case "pcap", "afpacket":
		// Interface may still be empty here; the start command resolves it.
	case "file":
		if cfg.Capture.File == "" {
			return fmt.Errorf("capture.file is required when capture.type=file")
		}
	default:
		return fmt.Errorf("unsupported capture.type: %s (must be pcap/afpacket/file)", cfg.Capture.Type)
	}
	if cfg.Capture.UDPPort == 0 || cfg.Capture.TCPPort == 0 {
		return fmt.Errorf("capture.udp_port and capture.tcp_port must be non-zero")
	}
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("capture.snap_len must be positive, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.QueueSize <= 0 {
		cfg.Capture.QueueSize = 4096
	}

	// ── Decoder validation ──
	if cfg.Decoder.MaxMessageSize <= 0 || cfg.Decoder.MaxMessageSize > 65535 {
		return fmt.Errorf("decoder.max_message_size must be in 1..65535, got %d", cfg.Decoder.MaxMessageSize)
	}
	if cfg.Decoder.IdleTimeout < 0 {
		return fmt.Errorf("decoder.idle_timeout must not be negative")
	}
	if cfg.Decoder.ReorderWindow <= 0 {
		cfg.Decoder.ReorderWindow = 500 * time.Millisecond
	}
	if cfg.Decoder.MaxBufferedPages <= 0 {
		cfg.Decoder.MaxBufferedPages = 64
	}

	// ── Events validation ──
	if cfg.Events.QueueSize <= 0 {
		cfg.Events.QueueSize = 8192
	}

	// ── Sink validation ──
	if cfg.Sinks.Console.Format != "json" && cfg.Sinks.Console.Format != "text" {
		return fmt.Errorf("invalid sinks.console.format: %s (must be json/text)", cfg.Sinks.Console.Format)
	}
	if cfg.Sinks.NATS.Enabled && cfg.Sinks.NATS.URL == "" {
		return fmt.Errorf("sinks.nats.url is required when sinks.nats.enabled=true")
	}
	if cfg.Sinks.NATS.Partitions <= 0 {
		cfg.Sinks.NATS.Partitions = 1
	}
	if cfg.Sinks.Kafka.Enabled {
		if len(cfg.Sinks.Kafka.Brokers) == 0 || cfg.Sinks.Kafka.Topic == "" {
			return fmt.Errorf("sinks.kafka.brokers and sinks.kafka.topic are required when sinks.kafka.enabled=true")
		}
		switch cfg.Sinks.Kafka.Compression {
		case "", "none", "gzip", "snappy", "lz4":
		default:
			return fmt.Errorf("invalid sinks.kafka.compression: %s (must be none/gzip/snappy/lz4)", cfg.Sinks.Kafka.Compression)
		}
	}
	if cfg.Sinks.PcapDump.Enabled && cfg.Sinks.PcapDump.Path == "" {
		return fmt.Errorf("sinks.pcap_dump.path is required when sinks.pcap_dump.enabled=true")
	}

	return nil
}
