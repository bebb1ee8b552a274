package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/pkg/audio/portaudio"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devs, err := portaudio.Devices()
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), devs)
		},
	}
}

// printDevices writes one row per device. The default input is marked with
// an asterisk.
func printDevices(w io.Writer, devs []portaudio.Device) error {
	if len(devs) == 0 {
		_, err := fmt.Fprintln(w, "no input devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tHOST API\tCHANNELS\tRATE")
	for _, d := range devs {
		mark := ""
		if d.IsDefault {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f\n", mark, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return tw.Flush()
}
