package cmd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sergev/sdrtool/iq"
	"github.com/sergev/sdrtool/source"
)

const packetTimeout = time.Second

var (
	capturePackets int
	captureChannel int64
)

var captureCmd = &cobra.Command{
	Use:   "capture [FILE.EXT]",
	Short: "Capture IQ samples to a file",
	Long: `Receive samples at the configured frequency and save them to file FILE.EXT.
Format of the file is defined by extension:
    *.raw  - packed 12-bit samples as received from the device
    *.cf32 - interleaved little-endian float32 I and Q
By default the samples are saved in cf32 format as 'capture.cf32'.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if receiver == nil {
			cobra.CheckErr(fmt.Errorf("receiver not available"))
		}

		filename := "capture.cf32"
		if len(args) > 0 {
			filename = args[0]
		}
		raw := false
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".raw":
			raw = true
		case ".cf32":
		default:
			cobra.CheckErr(fmt.Errorf("unknown capture format: %s", filename))
		}

		f, err := os.Create(filename)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to create file: %w", err))
		}
		defer f.Close()
		w := bufio.NewWriter(f)

		fmt.Printf("Capturing %d packets at %d Hz, %d S/s\n", capturePackets, receiver.Frequency(), receiver.SampleRate())
		if err := receiver.StartSampling(); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to start sampling: %w", err))
		}
		n, err := capture(cmd, w, raw)
		receiver.StopSampling()
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to write file: %w", err))
		}

		fmt.Printf("\n")
		fmt.Printf("%d packets saved to file '%s'.\n", n, filename)
	},
}

// capture copies packets from the receiver to w until enough are saved,
// the stream stops or the command is interrupted.
func capture(cmd *cobra.Command, w io.Writer, raw bool) (int, error) {
	ctx := cmd.Context()
	sp := iq.NewSamplePacket(receiver.PacketSize() / iq.BytesPerSample)
	saved := 0
	for saved < capturePackets && ctx.Err() == nil {
		if !receiver.IsSampling() {
			return saved, streamError(receiver)
		}
		packet := receiver.Packet(packetTimeout)
		if packet == nil {
			log.Debug("No packet within %s", packetTimeout)
			continue
		}

		var err error
		if raw {
			_, err = w.Write(packet)
		} else {
			sp.SetSize(0)
			if captureChannel != 0 {
				receiver.MixPacketIntoSamplePacket(packet, sp, captureChannel)
			} else {
				receiver.FillPacketIntoSamplePacket(packet, sp)
			}
			err = writeCF32(w, sp)
		}
		receiver.ReturnPacket(packet)
		if err != nil {
			return saved, err
		}
		saved++
		if saved%100 == 0 {
			fmt.Printf("\r%d packets", saved)
		}
	}
	return saved, nil
}

func streamError(src source.Source) error {
	if s, ok := src.(interface{ StreamErr() error }); ok && s.StreamErr() != nil {
		return s.StreamErr()
	}
	return fmt.Errorf("%s stopped sampling", src.Name())
}

// writeCF32 writes the samples of sp as interleaved float32 pairs.
func writeCF32(w io.Writer, sp *iq.SamplePacket) error {
	re, im := sp.Re(), sp.Im()
	buf := make([]byte, sp.Size()*8)
	for i := 0; i < sp.Size(); i++ {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(re[i]))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(im[i]))
	}
	_, err := w.Write(buf)
	return err
}

func init() {
	captureCmd.Flags().IntVarP(&capturePackets, "packets", "n", 1000, "number of packets to capture")
	captureCmd.Flags().Int64VarP(&captureChannel, "channel", "c", 0, "mix this frequency down to baseband")
	rootCmd.AddCommand(captureCmd)
}
