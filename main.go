// Command reply-tender runs the live-stream auto-reply bot. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to the stream comment feed over websocket.
//   - Classifies events, applies the reply policy, and generates or templates
//     responses.
//   - Delivers replies through the paced ADB sender.
//   - Exposes an HTTP surface with /healthz, /status, /transcript, /admin/*,
//     and /metrics, plus an interactive operator console on stdin.
//
// Shutdown is graceful on SIGINT/SIGTERM or the /exit console command.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/reply-tender/command"
	"github.com/onnwee/reply-tender/config"
	"github.com/onnwee/reply-tender/crypto"
	"github.com/onnwee/reply-tender/delivery"
	"github.com/onnwee/reply-tender/event"
	"github.com/onnwee/reply-tender/history"
	"github.com/onnwee/reply-tender/persona"
	"github.com/onnwee/reply-tender/pipeline"
	"github.com/onnwee/reply-tender/policy"
	"github.com/onnwee/reply-tender/respond"
	"github.com/onnwee/reply-tender/server"
	"github.com/onnwee/reply-tender/telemetry"
	"github.com/onnwee/reply-tender/transcript"
	"github.com/onnwee/reply-tender/transport"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("reply-tender", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	resolveAuthToken(cfg)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Policy: user filter persists to disk so blocks survive restarts.
	filter, err := policy.LoadFilter(cfg.FilterPath)
	if err != nil {
		slog.Warn("filter load failed, starting with an empty list", slog.String("path", cfg.FilterPath), slog.Any("err", err))
		filter = policy.NewFilter()
	}
	engine := policy.NewEngine(policy.Config{
		ResponseRate:   cfg.ResponseRate,
		Cooldown:       cfg.Cooldown,
		CooldownBypass: parseKinds(cfg.CooldownBypass),
		HistoryCutoff:  cfg.HistoryCutoff,
	}, filter)

	presets := loadPresets(cfg.PresetsPath)
	hist := history.NewStore(cfg.ContextLength)

	// Generation is optional: without an API key the bot still answers
	// joins/gifts/follows with presets.
	var gen pipeline.Generator
	var setCharacter func(string)
	if cfg.OpenAIAPIKey != "" {
		preamble, err := persona.LoadCharacter(cfg.CharacterPath)
		if err != nil {
			slog.Warn("character file load failed", slog.String("path", cfg.CharacterPath), slog.Any("err", err))
		}
		rg := respond.NewGenerator(respond.GeneratorConfig{
			APIKey:        cfg.OpenAIAPIKey,
			BaseURL:       cfg.OpenAIBaseURL,
			Model:         cfg.OpenAIModel,
			Temperature:   float32(cfg.Temperature),
			Timeout:       cfg.GenTimeout,
			MaxReplyRunes: cfg.MaxReplyRunes,
			BotName:       cfg.BotNickname,
			Preamble:      preamble,
		})
		gen = rg
		setCharacter = rg.SetPreamble
	} else {
		slog.Info("OPENAI_API_KEY not set; generated replies disabled")
	}

	// Transcript store is best-effort: the bot runs fine without it.
	var store *transcript.Store
	if cfg.TranscriptDB != "" {
		store, err = transcript.Open(cfg.TranscriptDB)
		if err != nil {
			slog.Warn("transcript store unavailable", slog.String("path", cfg.TranscriptDB), slog.Any("err", err))
			store = nil
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					slog.Error("transcript close failed", slog.Any("err", err))
				}
			}()
			if cfg.TranscriptRetention > 0 {
				slog.Info("transcript retention enabled", slog.Duration("window", cfg.TranscriptRetention))
				go store.RunRetention(ctx, cfg.TranscriptRetention, time.Hour)
			}
		}
	}

	queue := delivery.NewQueue()
	stats := pipeline.NewStats()

	sender := delivery.NewADBSender(delivery.ADBConfig{
		Binary:     cfg.ADBBinary,
		DeviceAddr: cfg.ADBDeviceAddr,
		InputX:     cfg.ADBInputX,
		InputY:     cfg.ADBInputY,
		SendX:      cfg.ADBSendX,
		SendY:      cfg.ADBSendY,
	})
	if err := sender.Connect(ctx); err != nil {
		slog.Warn("adb device not reachable at startup; delivery will retry per message", slog.Any("err", err))
	}

	worker := delivery.NewWorker(queue, sender, delivery.WorkerConfig{
		MinSpacing:  cfg.SendSpacing,
		JitterMin:   cfg.SendJitterMin,
		JitterMax:   cfg.SendJitterMax,
		MaxAttempts: cfg.SendRetries,
	})
	worker.OnSent(func(m delivery.Message) {
		stats.NoteSent(m.Mode)
		telemetry.CountReply(m.Mode)
		telemetry.SetQueueDepth(queue.Len())
		if telemetry.DeliveryDuration != nil && !m.EnqueuedAt.IsZero() {
			telemetry.DeliveryDuration.Observe(time.Since(m.EnqueuedAt).Seconds())
		}
		if store != nil {
			if err := store.RecordReply(context.Background(), m.Mode, m.Text, m.SourceEventID, time.Now()); err != nil {
				slog.Warn("reply transcript write failed", slog.Any("err", err))
			}
		}
	})
	worker.OnDropped(func(m delivery.Message, err error) {
		stats.NoteDropped()
		telemetry.SetQueueDepth(queue.Len())
		if telemetry.DeliveryDropped != nil {
			telemetry.DeliveryDropped.Inc()
		}
	})
	worker.OnRetry(func(delivery.Message, error) {
		if telemetry.DeliveryRetries != nil {
			telemetry.DeliveryRetries.Inc()
		}
	})

	// Feed client only when stream credentials are complete; without them the
	// HTTP surface and console still come up for configuration and testing.
	var feed *transport.Client
	var feedStopped func()
	if err := cfg.ValidateStreamReady(); err == nil {
		feed = transport.NewClient(transport.Config{
			URL:           cfg.FeedURL,
			LiveID:        cfg.LiveID,
			GID:           cfg.GID,
			AuthToken:     cfg.AuthToken,
			StaleAfter:    cfg.StaleAfter,
			ReconnectBase: cfg.ReconnectBase,
			ReconnectCap:  cfg.ReconnectCap,
			MaxAttempts:   cfg.MaxReconnects,
			StableFor:     cfg.StableAfter,
		})
		feed.OnReconnect(func() {
			stats.NoteReconnect()
			if telemetry.Reconnects != nil {
				telemetry.Reconnects.Inc()
			}
			engine.NoteConnected(time.Now())
		})
	} else {
		slog.Warn("stream feed disabled", slog.Any("err", err))
	}

	var frames <-chan []byte
	if feed != nil {
		frames = feed.Frames()
	}
	p := pipeline.New(pipeline.Config{}, frames, hist, engine, presets, gen, queue, store, stats)

	// The worker gets its own context so it can flush the queue after the
	// root context is canceled.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	workerDone := make(chan struct{})
	go func() {
		worker.Run(workerCtx)
		close(workerDone)
	}()
	go p.Run(ctx)

	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	if feed != nil {
		engine.NoteConnected(time.Now())
		go runFeed(feedCtx, feed, stop)
		go watchFeedHealth(ctx, feed)
		feedStopped = cancelFeed
	}

	startPprof()

	go func() {
		if err := server.Start(ctx, server.Deps{
			Pipeline:   p,
			Engine:     engine,
			Queue:      queue,
			Feed:       feed,
			Sender:     sender,
			Transcript: store,
			Version:    version,
		}, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Operator console on stdin. /exit triggers the same shutdown path as a
	// signal.
	handler := command.NewHandler(command.Deps{
		Pipeline:      p,
		Engine:        engine,
		History:       hist,
		Worker:        worker,
		Presets:       presets,
		CharacterPath: cfg.CharacterPath,
		SetCharacter:  setCharacter,
		Feed:          feed,
		StopFeed:      feedStopped,
	})
	go func() {
		if err := command.RunConsole(ctx, os.Stdin, os.Stdout, handler); errors.Is(err, command.ErrExit) {
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	// Stop accepting new replies and give the worker a bounded window to
	// flush what is already queued.
	queue.Close()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		slog.Warn("delivery queue flush timed out")
	}
	cancelWorker()
	sender.Disconnect(context.Background())
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT. Defaults:
// level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// resolveAuthToken handles the sealed credential cache. With CRED_KEY set, a
// token supplied via env is sealed to disk for later runs; a missing env token
// is recovered from the sealed file when one exists.
func resolveAuthToken(cfg *config.Config) {
	key := os.Getenv("CRED_KEY")
	if key == "" {
		return
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Warn("CRED_KEY invalid; credential sealing disabled", slog.Any("err", err))
		return
	}
	path := filepath.Join(cfg.DataDir, "auth.token.sealed")
	if cfg.AuthToken != "" {
		if err := crypto.SealToFile(enc, path, []byte(cfg.AuthToken)); err != nil {
			slog.Warn("sealing auth token failed", slog.Any("err", err))
		}
		return
	}
	tok, err := crypto.OpenFromFile(enc, path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("sealed auth token unreadable", slog.Any("err", err))
		}
		return
	}
	cfg.AuthToken = string(tok)
	slog.Info("auth token recovered from sealed cache")
}

func loadPresets(path string) *persona.Presets {
	if path == "" {
		return persona.DefaultPresets()
	}
	p, err := persona.LoadPresets(path)
	if err != nil {
		slog.Warn("preset file load failed, using defaults", slog.String("path", path), slog.Any("err", err))
		return persona.DefaultPresets()
	}
	return p
}

func parseKinds(names []string) []event.Kind {
	var out []event.Kind
	for _, n := range names {
		if k := event.ParseKind(strings.TrimSpace(n)); k != event.KindUnknown {
			out = append(out, k)
		}
	}
	return out
}

// runFeed drives the websocket client. A permanent feed error (stream ended,
// auth rejected, retries exhausted) shuts the whole process down.
func runFeed(ctx context.Context, feed *transport.Client, stop func()) {
	err := feed.Run(ctx)
	switch {
	case err == nil:
		return
	case errors.Is(err, transport.ErrStreamEnded):
		slog.Info("stream ended; shutting down")
	case errors.Is(err, transport.ErrAuth):
		slog.Error("feed authentication rejected; shutting down", slog.Any("err", err))
	default:
		slog.Error("feed connection lost; shutting down", slog.Any("err", err))
	}
	stop()
}

// watchFeedHealth mirrors the feed health into the connection-state gauge.
func watchFeedHealth(ctx context.Context, feed *transport.Client) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			switch feed.Health() {
			case transport.HealthOK:
				telemetry.SetConnectionState(2)
			case transport.HealthStale:
				telemetry.SetConnectionState(1)
			default:
				telemetry.SetConnectionState(0)
			}
		}
	}
}

func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
