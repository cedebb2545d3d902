// Package pcapdump records frames the monitor could not decode into a pcap
// file for offline diagnosis.
package pcapdump

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
)

const snapLen = 65535

// Writer implements monitor.DiagnosticWriter.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	writer *pcapgo.Writer
	counts map[string]uint64
	logger log.Logger
}

// Create truncates path and writes the pcap file header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	w, err := newWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	w.logger = w.logger.WithField("file", path)
	return w, nil
}

// NewWriter writes a pcap stream to out.
func NewWriter(out io.Writer) (*Writer, error) {
	return newWriter(out)
}

func newWriter(out io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(out)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{
		writer: pw,
		counts: make(map[string]uint64),
		logger: log.GetLogger().WithField(core.FieldComponent, "pcapdump"),
	}, nil
}

// WriteFrame appends frame. The reason is only counted and logged; pcap
// has no place to store it.
func (w *Writer) WriteFrame(frame core.RawFrame, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ci := gopacket.CaptureInfo{
		Timestamp:     frame.Timestamp,
		CaptureLength: len(frame.Data),
		Length:        int(frame.OrigLen),
	}
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	if err := w.writer.WritePacket(ci, frame.Data); err != nil {
		return fmt.Errorf("write pcap packet: %w", err)
	}
	w.counts[reason]++

	if w.logger.IsDebugEnabled() {
		w.logger.WithField("reason", reason).
			WithField(core.FieldLength, len(frame.Data)).
			Debug("frame recorded")
	}
	return nil
}

// Counts returns the number of recorded frames per reason.
func (w *Writer) Counts() map[string]uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]uint64, len(w.counts))
	for k, v := range w.counts {
		out[k] = v
	}
	return out
}

// Close syncs and closes the file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	var total uint64
	for _, n := range w.counts {
		total += n
	}
	w.logger.WithField("frames", total).Info("pcap dump closed")

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}
