package cmd

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"firestige.xyz/zwiftmon/internal/source"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List capture-capable network interfaces",
	Long: `List the devices libpcap can open together with their addresses.
Either the name or an IPv4 address may be passed to "start -i".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := source.Devices()
		if err != nil {
			return err
		}
		printDevices(cmd.OutOrStdout(), devs)
		return nil
	},
}

func printDevices(w io.Writer, devs []source.Device) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Name", "Addresses", "Loopback", "Description"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, d := range devs {
		addrs := make([]string, 0, len(d.Addresses))
		for _, ip := range d.Addresses {
			addrs = append(addrs, ip.String())
		}
		loopback := ""
		if d.Loopback {
			loopback = "yes"
		}
		tw.Append([]string{d.Name, strings.Join(addrs, ", "), loopback, d.Description})
	}
	tw.Render()
}
