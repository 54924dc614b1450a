package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dvcrn/kickclip/internal/app"
	"github.com/dvcrn/kickclip/internal/config"
	"github.com/dvcrn/kickclip/internal/logger"
	"github.com/dvcrn/kickclip/internal/streamdeck"
)

// hostInfo is the subset of the -info JSON worth logging.
type hostInfo struct {
	Application struct {
		Platform string `json:"platform"`
		Version  string `json:"version"`
	} `json:"application"`
	Plugin struct {
		Version string `json:"version"`
	} `json:"plugin"`
}

func main() {
	// The host passes these as single-dash flags.
	port := flag.Int("port", 0, "Stream Deck host WebSocket port")
	pluginUUID := flag.String("pluginUUID", "", "plugin instance UUID assigned by the host")
	registerEvent := flag.String("registerEvent", "registerPlugin", "event name used to register with the host")
	info := flag.String("info", "", "host and device information (JSON)")
	configPath := flag.String("config", "", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The host discards stderr, so startup failures go to the default log file.
		log, _ := logger.NewFile(config.Default().LogFile, logger.Options{Environment: os.Getenv("ENV")})
		log.Fatal().Err(err).Str("config", *configPath).Msg("❌ Failed to load configuration")
	}

	log, closeLog := logger.NewFile(cfg.LogFile, logger.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	defer closeLog()

	if *port <= 0 || *pluginUUID == "" {
		log.Fatal().Int("port", *port).Str("plugin_uuid", *pluginUUID).Msg("❌ Missing -port or -pluginUUID, the plugin must be launched by the Stream Deck host")
	}
	logHostInfo(log, *info)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := streamdeck.Dial(ctx, *port, log)
	if err != nil {
		a.Close()
		log.Fatal().Err(err).Int("port", *port).Msg("❌ Failed to connect to Stream Deck")
	}
	if err := client.Register(*registerEvent, *pluginUUID); err != nil {
		a.Close()
		log.Fatal().Err(err).Msg("❌ Failed to register plugin")
	}
	log.Info().Int("port", *port).Msg("✅ Registered with Stream Deck")

	orch := a.NewOrchestrator(client)
	p := a.NewPlugin(client, orch)

	a.ValidateCredentials(ctx)
	if d := cfg.BackgroundRefresh.Duration; d > 0 {
		log.Info().Dur("interval", d).Msg("🔄 Background token refresh enabled")
		go a.Auth.RunBackgroundRefresh(ctx, d)
	}

	if err := client.Run(ctx, p); err != nil {
		log.Error().Err(err).Msg("❌ Stream Deck connection lost")
	}

	stop()
	orch.Wait()
	orch.Close()
	if err := client.Close(); err != nil {
		log.Debug().Err(err).Msg("Host connection already closed")
	}
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to shut down cleanly")
	}
	log.Info().Msg("👋 Plugin stopped")
}

func logHostInfo(log zerolog.Logger, raw string) {
	if raw == "" {
		return
	}
	var info hostInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		log.Debug().Err(err).Msg("Could not parse host info")
		return
	}
	log.Info().
		Str("platform", info.Application.Platform).
		Str("host_version", info.Application.Version).
		Str("plugin_version", info.Plugin.Version).
		Msg("Stream Deck host info")
}
