package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quan-to/slog"
	"github.com/spf13/cobra"

	"github.com/sergev/sdrtool/config"
	"github.com/sergev/sdrtool/source"
)

const openTimeout = 30 * time.Second

var log = slog.Scope("SDRTool")

var (
	verbose  bool
	receiver source.Source
)

var rootCmd = &cobra.Command{
	Use:   "sdrtool",
	Short: "A CLI program which receives IQ samples from a bladeRF",
	Long:  "The sdrtool is a CLI program which receives IQ samples from a bladeRF software defined radio via USB.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := config.Initialize()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
		slog.SetDebug(config.Debug || verbose)
		slog.SetShowLines(false)

		receiver, err = openReceiver(cmd.Context(), config.Selected)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open receiver %s: %w", config.DeviceName, err))
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if receiver != nil {
			receiver.Close()
		}
	},
}

// openError collects the reason reported through the source callback.
type openError struct {
	reason string
}

func (o *openError) OnSourceReady(src source.Source) {
	log.Debug("%s ready", src.Name())
}

func (o *openError) OnSourceError(src source.Source, reason string) {
	o.reason = reason
}

// openReceiver creates the configured source, opens it and applies the
// configured tuning.
func openReceiver(ctx context.Context, dev config.Device) (source.Source, error) {
	src, err := source.New(dev)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	cb := &openError{}
	if !src.Open(ctx, cb) {
		return nil, errors.New(cb.reason)
	}

	src.SetFrequency(dev.Frequency)
	src.SetSampleRate(dev.SampleRate)
	src.SetAGC(dev.AGC)
	if !dev.AGC {
		src.SetGain(dev.Gain)
	}
	return src, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
