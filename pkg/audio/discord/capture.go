package discord

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sauti-health/sauti/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)

// maxUtterance bounds a single recording. Anything past it is dropped so a
// forgotten Stop cannot grow the buffer without limit.
const maxUtterance = 60 * time.Second

// Capture records one utterance from a Discord voice channel. Between Start
// and Stop it drains the connection's inbound Opus packets, decodes them to
// PCM, and accumulates them into a single bounded buffer. All participants'
// packets are mixed in arrival order; the companion is built for one speaker
// per channel, so no demuxing is attempted.
//
// Capture is safe for concurrent use.
type Capture struct {
	vc *discordgo.VoiceConnection

	mu        sync.Mutex
	recording bool
	stop      chan struct{}
	done      chan struct{}
	pcm       []byte
}

func newCapture(vc *discordgo.VoiceConnection) *Capture {
	return &Capture{vc: vc}
}

// Start implements [audio.Capture]. Idempotent while already recording.
func (c *Capture) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return nil
	}
	c.recording = true
	c.pcm = nil
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.recordLoop(c.stop, c.done)
	return nil
}

// Stop implements [audio.Capture]. It ends the recording and returns the
// accumulated utterance as 48 kHz stereo s16le PCM. A Stop without a matching
// Start returns an empty buffer.
func (c *Capture) Stop() (audio.Buffer, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return audio.Buffer{}, nil
	}
	c.recording = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done

	c.mu.Lock()
	pcm := c.pcm
	c.pcm = nil
	c.mu.Unlock()

	samplesPerChannel := len(pcm) / (opusChannels * 2)
	return audio.Buffer{
		PCM:        pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
		Duration:   time.Duration(samplesPerChannel) * time.Second / opusSampleRate,
	}, nil
}

// recordLoop drains inbound packets until stop closes. Each SSRC keeps its
// own decoder so codec state survives interleaved speakers.
func (c *Capture) recordLoop(stop, done chan struct{}) {
	defer close(done)

	decoders := make(map[uint32]*opusDecoder)
	maxBytes := int(maxUtterance.Seconds()) * opusSampleRate * opusChannels * 2

	for {
		select {
		case <-stop:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			c.mu.Lock()
			if len(c.pcm) < maxBytes {
				c.pcm = append(c.pcm, pcm...)
			}
			c.mu.Unlock()
		}
	}
}
