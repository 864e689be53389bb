package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/sdrtool/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the receiver",
	Long:  "Print device information, versions, RF-IC state and supported sample rates.",
	Run: func(cmd *cobra.Command, args []string) {
		if receiver == nil {
			cobra.CheckErr(fmt.Errorf("receiver not available"))
		}

		if p, ok := receiver.(interface{ PrintStatus() }); ok {
			p.PrintStatus()
		}

		fmt.Printf("\nConfiguration script: ~/.sdrtool\n")
		fmt.Printf("Receiver: %s (%s)\n", config.DeviceName, config.Selected.Backend)
		fmt.Printf("Tuning: %d Hz, %d S/s\n", config.Selected.Frequency, config.Selected.SampleRate)
		if config.Selected.AGC {
			fmt.Printf("Gain: automatic\n")
		} else {
			fmt.Printf("Gain: %d dB\n", config.Selected.Gain)
		}
		fmt.Printf("Queue: %d packets\n", config.Selected.QueueSize)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
