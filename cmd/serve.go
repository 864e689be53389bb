package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/sdrtool/rtltcp"
)

var (
	serveAddress string
	serveChannel int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve samples to rtl_tcp clients",
	Long: `Start an rtl_tcp compatible server.
Clients receive 8-bit IQ samples and may change frequency, sample rate and gain.
The server runs until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if receiver == nil {
			cobra.CheckErr(fmt.Errorf("receiver not available"))
		}

		server := rtltcp.NewServer(serveAddress)
		server.SetDongleInfo(rtltcp.SourceDongleInfo())
		server.SetOnCommand(rtltcp.SourceHandler(receiver))
		server.SetOnConnect(func(sessionID string, address string) {
			log.Debug("New connection from %s [%s]", address, sessionID)
		})

		if err := receiver.StartSampling(); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to start sampling: %w", err))
		}
		if err := server.Start(); err != nil {
			receiver.StopSampling()
			cobra.CheckErr(err)
		}

		rtltcp.Pump(cmd.Context(), receiver, server, serveChannel)
		if cmd.Context().Err() == nil {
			log.Error("Sampling stopped: %s", streamError(receiver))
		}

		server.Stop()
		receiver.StopSampling()
		log.Info("Closed")
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", ":1234", "listen address")
	serveCmd.Flags().Int64VarP(&serveChannel, "channel", "c", 0, "mix this frequency down to baseband")
	rootCmd.AddCommand(serveCmd)
}
