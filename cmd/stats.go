package cmd

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"firestige.xyz/zwiftmon/internal/monitor"
)

// printStats renders the monitor counters as a two-column table.
func printStats(w io.Writer, s monitor.Stats) {
	rows := [][]string{
		{"frames", strconv.FormatUint(s.Frames, 10)},
		{"not applicable", strconv.FormatUint(s.NotApplicable, 10)},
		{"inbound messages", strconv.FormatUint(s.Inbound, 10)},
		{"outbound messages", strconv.FormatUint(s.Outbound, 10)},
		{"sequence gaps", strconv.FormatUint(s.Gaps, 10)},
		{"stale or duplicate", strconv.FormatUint(s.Stale, 10)},
		{"unknown framing", strconv.FormatUint(s.UnknownVariant, 10)},
		{"malformed", strconv.FormatUint(s.Malformed, 10)},
		{"decode errors", strconv.FormatUint(s.DecodeErrors, 10)},
		{"reassembly overruns", strconv.FormatUint(s.Overruns, 10)},
		{"tcp stream gaps", strconv.FormatUint(s.StreamGaps, 10)},
		{"client tcp dropped", strconv.FormatUint(s.Unsupported, 10)},
		{"events dropped", strconv.FormatUint(s.EmitDropped, 10)},
		{"capture drops (kernel)", strconv.FormatUint(s.KernelDrops, 10)},
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Counter", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}
