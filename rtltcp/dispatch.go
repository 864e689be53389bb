package rtltcp

import (
	"context"
	"time"

	"github.com/sergev/sdrtool/iq"
	"github.com/sergev/sdrtool/source"
)

// Gains offered to clients, in tenths of dB.
var TunerGains = []int{
	0, 30, 60, 90, 120, 150, 180, 210, 240, 270, 300,
	330, 360, 390, 420, 450, 480, 510, 540, 570, 600,
}

// SourceDongleInfo describes src to clients.
func SourceDongleInfo() DongleInfo {
	return DongleInfo{TunerType: TunerUnknown, TunerGainCount: uint32(len(TunerGains))}
}

// SourceHandler applies client commands to src.
func SourceHandler(src source.Source) OnCommand {
	return func(sessionID string, cmd Command) bool {
		v := cmd.Value()
		switch cmd.Type {
		case SetFrequency:
			log.Info("Setting frequency to %d", v)
			src.SetFrequency(int64(v))
		case SetSampleRate:
			log.Info("Setting sample rate to %d", v)
			src.SetSampleRate(int(v))
		case SetGainMode:
			// 1 selects manual gain.
			src.SetAGC(v == 0)
		case SetAgcMode:
			src.SetAGC(v != 0)
		case SetGain:
			log.Info("Setting gain to %d.%d dB", v/10, v%10)
			src.SetGain(int(v) / 10)
		case SetTunerGainByIndex:
			if int(v) >= len(TunerGains) {
				log.Error("Received gain index %d, maximum is %d", v, len(TunerGains)-1)
				return true
			}
			src.SetGain(TunerGains[v] / 10)
		default:
			log.Debug("Command %s not handled", cmd.Type)
		}
		return true
	}
}

// Pump moves packets from a sampling src to the server until ctx is
// done or the stream stops. A non-zero channel is mixed down to baseband.
func Pump(ctx context.Context, src source.Source, server *Server, channel int64) {
	sp := iq.NewSamplePacket(src.PacketSize() / iq.BytesPerSample)
	for ctx.Err() == nil && src.IsSampling() {
		packet := src.Packet(100 * time.Millisecond)
		if packet == nil {
			continue
		}
		sp.SetSize(0)
		if channel != 0 {
			src.MixPacketIntoSamplePacket(packet, sp, channel)
		} else {
			src.FillPacketIntoSamplePacket(packet, sp)
		}
		src.ReturnPacket(packet)
		server.ComplexBroadcast(sp.Complex64())
	}
}
