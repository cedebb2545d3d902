package log

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/zwiftmon/internal/config"
)

// outputs fans a formatted entry out to every writer. A failing writer does
// not stop the rest; the last error is returned.
type outputs []io.Writer

func (o outputs) Write(p []byte) (int, error) {
	var err error
	for _, w := range o {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

// newOutputs always includes stderr so stdout stays free for event output.
func newOutputs(cfg config.LogConfig) (outputs, error) {
	out := outputs{os.Stderr}
	if !cfg.File.Enabled {
		return out, nil
	}
	if cfg.File.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	rot := cfg.File.Rotation
	return append(out, &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}), nil
}
