// Command sauti is the voice companion client: it records an utterance,
// sends it to the processing service, and speaks the reply back.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/sauti-health/sauti/internal/config"
	"github.com/sauti-health/sauti/internal/crisis"
	"github.com/sauti-health/sauti/internal/interaction"
	"github.com/sauti-health/sauti/internal/observe"
	"github.com/sauti-health/sauti/internal/playback"
	"github.com/sauti-health/sauti/internal/session"
	"github.com/sauti-health/sauti/internal/transfer"
	"github.com/sauti-health/sauti/pkg/audio"
	audiodiscord "github.com/sauti-health/sauti/pkg/audio/discord"
	audiomock "github.com/sauti-health/sauti/pkg/audio/mock"
	"github.com/sauti-health/sauti/pkg/voice"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sauti: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sauti: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Client.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("sauti starting",
		"config", *configPath,
		"service_url", cfg.Service.URL,
		"transport", cfg.Service.Transport,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "sauti"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Transfer manager ──────────────────────────────────────────────────────
	mgr, err := buildTransfer(cfg, metrics)
	if err != nil {
		slog.Error("failed to build transfer manager", "err", err)
		return 1
	}

	// ── Audio platform ────────────────────────────────────────────────────────
	capt, sink, platformClose, err := buildPlatform(ctx, cfg)
	if err != nil {
		slog.Error("failed to build audio platform", "err", err)
		return 1
	}
	defer platformClose()

	// ── Machine ───────────────────────────────────────────────────────────────
	relay := crisis.New(cfg.Crisis.Threshold, func(a crisis.Alert) {
		fmt.Printf("\n*** crisis alert: risk score %.2f — suggested actions: %s ***\n",
			a.Score, strings.Join(a.SuggestedActions, "; "))
	})

	sessCtx := session.New(session.WithConversationID(cfg.Interaction.InitialConversationID))
	machine := interaction.New(capt, mgr, playback.New(sink, playback.WithMetrics(metrics)), sessCtx,
		interaction.WithAutoPlay(cfg.Interaction.AutoPlayEnabled()),
		interaction.WithHistory(cfg.Interaction.HistoryEnabled()),
		interaction.WithCrisisRelay(relay),
		interaction.WithMetrics(metrics),
		interaction.WithCulturalContext(cfg.Interaction.Cultural),
		interaction.WithHooks(interaction.Hooks{
			OnComplete: func(res *voice.TurnResult) {
				fmt.Printf("you said: %s\nsauti:    %s\n", res.Transcript.Text, res.Reply.Text)
			},
			OnError: func(kind voice.ErrorKind, err error) {
				fmt.Printf("turn failed (%s): %v\n", kind, err)
			},
			OnStateChange: func(s interaction.State) {
				slog.Debug("state change", "state", s)
			},
		}),
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Client.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		var probes []observe.HealthCheck
		if cfg.Service.Transport != config.TransportWebSocket {
			probes = append(probes, observe.ServiceCheck(nil, cfg.Service.URL))
		}
		observe.NewHealth(probes...).Register(mux)
		srv := &http.Server{Addr: addr, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return console(gctx, machine) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	machine.CancelCurrent()
	slog.Info("goodbye")
	return 0
}

// buildTransfer selects the transfer manager from the configured transport.
func buildTransfer(cfg *config.Config, metrics *observe.Metrics) (transfer.Manager, error) {
	timeout := cfg.Service.Timeout()
	if cfg.Service.Transport == config.TransportWebSocket {
		return transfer.NewWS(cfg.Service.URL,
			transfer.WithWSTimeout(timeout),
			transfer.WithWSAuthToken(cfg.Service.AuthToken),
			transfer.WithWSMetrics(metrics),
		)
	}
	return transfer.NewHTTP(cfg.Service.URL,
		transfer.WithTimeout(timeout),
		transfer.WithAuthToken(cfg.Service.AuthToken),
		transfer.WithMetrics(metrics),
	)
}

// buildPlatform connects the configured audio platform. Without a discord
// block the client runs in loopback mode: no live capture, utterances are
// submitted from PCM files via the send command and replies are discarded.
func buildPlatform(ctx context.Context, cfg *config.Config) (audio.Capture, audio.Sink, func(), error) {
	if cfg.Discord == nil {
		slog.Info("no audio platform configured — running in loopback mode")
		return &audiomock.Capture{}, &audiomock.Sink{AutoComplete: true}, func() {}, nil
	}

	dg, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create discord session: %w", err)
	}
	if err := dg.Open(); err != nil {
		return nil, nil, nil, fmt.Errorf("open discord gateway: %w", err)
	}

	vc, err := audiodiscord.Join(ctx, dg, cfg.Discord.GuildID, cfg.Discord.ChannelID)
	if err != nil {
		dg.Close()
		return nil, nil, nil, err
	}
	slog.Info("joined voice channel",
		"guild_id", cfg.Discord.GuildID,
		"channel_id", cfg.Discord.ChannelID,
	)

	closeFn := func() {
		if err := vc.Leave(); err != nil {
			slog.Warn("voice channel leave error", "err", err)
		}
		if err := dg.Close(); err != nil {
			slog.Warn("discord session close error", "err", err)
		}
	}
	return vc.Capture(), vc.Sink(), closeFn, nil
}

// ── Console ───────────────────────────────────────────────────────────────────

const consoleHelp = `commands:
  start              begin recording
  stop               stop recording and submit the utterance
  send <file> [sec]  submit a raw 48kHz stereo s16le PCM file
  cancel             abort the in-flight turn
  state              print the machine state
  history            list completed turns
  reset              clear session, conversation, and history
  clear              clear the error state
  quit               exit`

// console reads commands from stdin and drives the machine. Turns run on
// their own goroutine so the prompt stays responsive for cancel.
func console(ctx context.Context, m *interaction.Machine) error {
	fmt.Println(consoleHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Printf("[%s] > ", m.State())
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Println()
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "start":
			if err := m.Start(ctx); err != nil {
				fmt.Println("start failed:", err)
			}
		case "stop":
			buf, err := m.Stop()
			if err != nil {
				fmt.Println("stop failed:", err)
				continue
			}
			if buf.Empty() {
				fmt.Println("nothing recorded")
				continue
			}
			submit(ctx, m, buf)
		case "send":
			if len(fields) < 2 {
				fmt.Println("usage: send <file> [seconds]")
				continue
			}
			buf, err := loadPCM(fields[1:])
			if err != nil {
				fmt.Println("send failed:", err)
				continue
			}
			submit(ctx, m, buf)
		case "cancel":
			m.CancelCurrent()
		case "state":
			fmt.Println(m.State())
		case "history":
			turns := m.History()
			if len(turns) == 0 {
				fmt.Println("no completed turns")
			}
			for i, tr := range turns {
				fmt.Printf("%2d. [%s] %s → %s\n",
					i+1, tr.Session.Timestamp.Format(time.TimeOnly),
					tr.Transcript.Text, tr.Reply.Text)
			}
		case "reset":
			m.ResetSession()
			fmt.Println("session reset")
		case "clear":
			m.ClearError()
		case "quit", "exit":
			return nil
		case "help":
			fmt.Println(consoleHelp)
		default:
			fmt.Printf("unknown command %q — try help\n", fields[0])
		}
	}
}

// submit runs the turn in the background so cancel stays reachable.
func submit(ctx context.Context, m *interaction.Machine, buf audio.Buffer) {
	go func() {
		if err := m.ProcessAudio(ctx, buf); err != nil && !errors.Is(err, voice.ErrCancelled) {
			slog.Debug("turn settled with error", "err", err)
		}
	}()
}

// loadPCM reads a raw 48 kHz stereo s16le PCM file. The duration is derived
// from the size unless given explicitly.
func loadPCM(args []string) (audio.Buffer, error) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return audio.Buffer{}, err
	}
	const sampleRate, channels = 48000, 2
	duration := time.Duration(len(data)/(channels*2)) * time.Second / sampleRate
	if len(args) > 1 {
		secs, err := strconv.ParseFloat(args[1], 64)
		if err != nil || secs <= 0 {
			return audio.Buffer{}, fmt.Errorf("invalid duration %q", args[1])
		}
		duration = time.Duration(secs * float64(time.Second))
	}
	return audio.Buffer{
		PCM:        data,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   duration,
	}, nil
}
