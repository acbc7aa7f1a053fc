package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sauti-health/sauti/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// maxFetchBytes bounds a locator download.
const maxFetchBytes = 16 << 20

// Sink streams synthesized speech into a Discord voice channel. The source
// must carry 48 kHz stereo s16le PCM, inline or behind an HTTP locator;
// frames are Opus-encoded and paced at the 20 ms cadence Discord expects.
//
// Sink is safe for concurrent use, but the voice connection carries one
// stream at a time; the playback controller's preemption guarantees that.
type Sink struct {
	vc *discordgo.VoiceConnection

	// Fetch overrides the locator download client. Defaults to
	// http.DefaultClient.
	Fetch *http.Client
}

// Play implements [audio.Sink]. It starts streaming src and returns a handle
// that settles when the stream ends, is stopped, or ctx is cancelled.
func (s *Sink) Play(ctx context.Context, src audio.Source) (audio.Playback, error) {
	pcm := src.Data
	if len(pcm) == 0 && src.Locator != "" {
		var err error
		pcm, err = s.fetch(ctx, src.Locator)
		if err != nil {
			return nil, err
		}
	}
	if len(pcm) == 0 {
		return nil, errors.New("discord: source carries no audio")
	}

	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}

	pb := &streamPlayback{
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go s.stream(ctx, pb, enc, pcm)
	return pb, nil
}

// fetch downloads the synthesized audio behind an HTTP locator.
func (s *Sink) fetch(ctx context.Context, locator string) ([]byte, error) {
	client := s.Fetch
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: build locator request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch locator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: locator fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("discord: read locator body: %w", err)
	}
	return data, nil
}

// stream encodes and sends the PCM at the Opus frame cadence. The trailing
// partial frame is zero-padded to a full frame of silence.
func (s *Sink) stream(ctx context.Context, pb *streamPlayback, enc *opusEncoder, pcm []byte) {
	s.setSpeaking(true)
	defer s.setSpeaking(false)

	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += opusFrameBytes {
		end := off + opusFrameBytes
		frame := make([]byte, opusFrameBytes)
		if end > len(pcm) {
			copy(frame, pcm[off:])
		} else {
			frame = pcm[off:end]
		}

		opus, err := enc.encode(frame)
		if err != nil {
			pb.complete(err)
			return
		}

		select {
		case <-ctx.Done():
			pb.complete(nil)
			return
		case <-pb.stop:
			pb.complete(nil)
			return
		case <-ticker.C:
		}

		select {
		case s.vc.OpusSend <- opus:
		case <-ctx.Done():
			pb.complete(nil)
			return
		case <-pb.stop:
			pb.complete(nil)
			return
		}
	}
	pb.complete(nil)
}

// setSpeaking toggles the speaking indicator, logging rather than failing —
// a missed indicator is cosmetic.
func (s *Sink) setSpeaking(b bool) {
	if err := s.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}

// streamPlayback is the [audio.Playback] handle for one outbound stream.
type streamPlayback struct {
	done chan struct{}
	stop chan struct{}

	mu       sync.Mutex
	err      error
	stopOnce sync.Once
}

// Done implements [audio.Playback].
func (p *streamPlayback) Done() <-chan struct{} { return p.done }

// Err implements [audio.Playback].
func (p *streamPlayback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop implements [audio.Playback]. Idempotent.
func (p *streamPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *streamPlayback) complete(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}
