// Package discord backs the [audio.Capture] and [audio.Sink] interfaces with
// a Discord voice channel via the bwmarrin/discordgo library, bridging
// Discord's Opus voice transport with the PCM buffers the interaction machine
// works in.
//
// The package requires an active *discordgo.Session owned by the host. [Join]
// connects to a voice channel and returns a [Voice] exposing one capture and
// one sink over the shared connection; the host hands both to the machine and
// calls [Voice.Leave] when the conversation ends.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Voice is an active voice-channel membership. It owns the underlying
// discordgo voice connection; the capture and sink it hands out share it and
// stop working after [Voice.Leave].
type Voice struct {
	vc      *discordgo.VoiceConnection
	capture *Capture
	sink    *Sink
}

// Join connects to the voice channel identified by guildID/channelID. The
// connection is unmuted and undeafened since both directions are used. ctx
// governs only the join handshake; the membership lives until Leave.
func Join(ctx context.Context, session *discordgo.Session, guildID, channelID string) (*Voice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return &Voice{
		vc:      vc,
		capture: newCapture(vc),
		sink:    &Sink{vc: vc},
	}, nil
}

// Capture returns the microphone side of the membership.
func (v *Voice) Capture() *Capture { return v.capture }

// Sink returns the playback side of the membership.
func (v *Voice) Sink() *Sink { return v.sink }

// Leave stops any active recording and disconnects from the voice channel.
func (v *Voice) Leave() error {
	v.capture.Stop()
	if err := v.vc.Disconnect(); err != nil {
		return fmt.Errorf("discord: disconnect: %w", err)
	}
	return nil
}
