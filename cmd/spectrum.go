package cmd

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sergev/sdrtool/iq"
	"github.com/sergev/sdrtool/spectrum"
)

var (
	spectrumPackets int
	spectrumBins    int
)

var spectrumCmd = &cobra.Command{
	Use:   "spectrum",
	Short: "Print a coarse power spectrum",
	Long:  "Receive a few packets at the configured frequency and print their averaged power spectrum in dBFS.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if receiver == nil {
			cobra.CheckErr(fmt.Errorf("receiver not available"))
		}
		if spectrumBins < 1 {
			cobra.CheckErr(fmt.Errorf("invalid number of bins: %d", spectrumBins))
		}

		if err := receiver.StartSampling(); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to start sampling: %w", err))
		}
		sum, n := averageSpectrum(cmd)
		receiver.StopSampling()
		if n == 0 {
			cobra.CheckErr(fmt.Errorf("no samples received: %w", streamError(receiver)))
		}

		for i := range sum {
			sum[i] /= float64(n)
		}
		printSpectrum(sum)
	},
}

// averageSpectrum accumulates the power of spectrumPackets packets and
// returns it in linear units together with the packet count.
func averageSpectrum(cmd *cobra.Command) ([]float64, int) {
	sp := iq.NewSamplePacket(receiver.PacketSize() / iq.BytesPerSample)
	var sum []float64
	n := 0
	for n < spectrumPackets && cmd.Context().Err() == nil && receiver.IsSampling() {
		packet := receiver.Packet(packetTimeout)
		if packet == nil {
			continue
		}
		sp.SetSize(0)
		receiver.FillPacketIntoSamplePacket(packet, sp)
		receiver.ReturnPacket(packet)

		dbfs := spectrum.PowerDBFS(sp.Re()[:sp.Size()], sp.Im()[:sp.Size()])
		if sum == nil {
			sum = make([]float64, len(dbfs))
		}
		for i, v := range dbfs {
			sum[i] += math.Pow(10, v/10)
		}
		n++
	}
	return sum, n
}

// printSpectrum prints spectrumBins rows, each the strongest of its
// slice of the spectrum, with a bar scaled from -120 dBFS.
func printSpectrum(power []float64) {
	dbfs := make([]float64, len(power))
	for i, v := range power {
		dbfs[i] = 10 * math.Log10(v)
	}
	peak, level := spectrum.Peak(dbfs)

	step := len(dbfs) / spectrumBins
	if step < 1 {
		step = 1
	}
	center, rate := receiver.Frequency(), receiver.SampleRate()
	for start := 0; start < len(dbfs); start += step {
		end := min(start+step, len(dbfs))
		bin, v := spectrum.Peak(dbfs[start:end])
		width := int(math.Max(0, (v+120)/2))
		fmt.Printf("%12d Hz %7.1f dBFS %s\n",
			spectrum.BinFrequency(start+bin, len(dbfs), center, rate), v, strings.Repeat("#", width))
	}
	fmt.Printf("\nPeak: %.1f dBFS at %d Hz\n", level, spectrum.BinFrequency(peak, len(dbfs), center, rate))
}

func init() {
	spectrumCmd.Flags().IntVarP(&spectrumPackets, "packets", "n", 16, "number of packets to average")
	spectrumCmd.Flags().IntVarP(&spectrumBins, "bins", "b", 32, "number of rows to print")
	rootCmd.AddCommand(spectrumCmd)
}
