package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/sdkrun/internal/serial"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

func newPortsCommand(rootOpts *rootOptions) *cobra.Command {
	var serno string
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and the one a case would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return wrapExit(exitCommandError, "list serial ports", err)
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "No serial ports found")
				return nil
			}

			t := ui.Table(false, "PORT", "USB", "VID:PID", "SERIAL", "PRODUCT")
			for _, p := range ports {
				usb, id := "no", ""
				if p.IsUSB {
					usb, id = "yes", p.VID+":"+p.PID
				}
				t.Row(p.Name, usb, id, p.SerialNumber, p.Product)
			}
			fmt.Fprintln(out, t.Render())

			pick := serial.MostLikely(ports)
			if serno != "" {
				pick = serial.FindBySerialNumber(ports, serno)
			}
			if rootOpts.cfg.SerialPort != "" && serial.Exists(ports, rootOpts.cfg.SerialPort) {
				pick = rootOpts.cfg.SerialPort
			}
			if pick == "" {
				fmt.Fprintln(out, "No port matches")
				return nil
			}
			fmt.Fprintf(out, "Selected: %s\n", pick)
			return nil
		},
	}
	cmd.Flags().StringVar(&serno, "ftdi-serial", "", "USB serial number of the debug probe")
	return cmd
}
