package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/announcer"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/audio"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/channel"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/concierge"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/config"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/control"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/dialogue"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/identify"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/logging"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/media"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/notify"
	"github.com/Self-Driving-Car-Studio/VLAssom-FaceRecognition-App/internal/tts"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile     string
	serverURL   string
	localeTag   string
	controlAddr string
)

var rootCmd = &cobra.Command{
	Use:           "concierge",
	Short:         "Face-recognition kiosk client",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONCIERGE_CONFIG or ./concierge.yaml)")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "remote service WebSocket URL")
	rootCmd.Flags().StringVar(&localeTag, "locale", "", "speech and request language (ko-KR, en-US)")
	rootCmd.Flags().StringVar(&controlAddr, "control", "", "local control listen address")
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if localeTag != "" {
		cfg.Locale = localeTag
	}
	if controlAddr != "" {
		cfg.ControlAddress = controlAddr
	}
	return cfg, cfg.Validate()
}

func run(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	bus := channel.NewClient(cfg.ServerURL, channel.Options{
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         logger,
	})
	speaker, closeSpeaker := buildSpeaker(cfg, logger)
	defer closeSpeaker()

	deps := concierge.Deps{
		Bus:      bus,
		Engine:   media.NewHookEngine(cfg.CaptureHook, cfg.PlaybackHook, cfg.DisableHook, cfg.EnableHook, logger),
		Camera:   media.NewCamera(cfg.CameraDevice, runtime.GOOS),
		Recorder: buildRecorder(cfg),
		Speaker:  speaker,
	}
	if n := notify.NewTwilio(notify.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFrom,
		To:         cfg.GuardianPhone,
	}, logger); n != nil {
		deps.Notifier = n
	}

	app := concierge.New(deps, appConfig(cfg), logger)
	defer app.Close()

	go bus.Run(ctx)

	server := &http.Server{
		Addr:              cfg.ControlAddress,
		Handler:           control.New(app, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ControlAddress).Msg("control listening")
		serverErrors <- server.ListenAndServe()
	}()

	if err := app.StartIdentification(ctx); err != nil {
		logger.Warn().Err(err).Msg("identification not started; retry via the control surface")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			runErr = fmt.Errorf("control server: %w", err)
		}
	case sig := <-sigChan:
		logger.Info().Stringer("signal", sig).Msg("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
	return runErr
}

func appConfig(cfg config.Config) concierge.Config {
	dc := dialogue.DefaultConfig()
	dc.ReleaseDelay = cfg.ReleaseDelay
	dc.ResponseTimeout = cfg.ResponseTimeout
	dc.Greeting = cfg.Greeting

	return concierge.Config{
		Locale: cfg.Locale,
		Audio: audio.Config{
			CaptureSettle:  cfg.CaptureSettle,
			PlaybackSettle: cfg.PlaybackSettle,
			ResetPause:     cfg.ResetPause,
		},
		Announcer: announcer.Config{LeadIn: cfg.LeadIn},
		Identify: identify.Config{
			Interval: cfg.IdentifyInterval,
			MaxWidth: cfg.FrameMaxWidth,
			Quality:  cfg.FrameQuality,
		},
		Dialogue: dc,
	}
}

func buildRecorder(cfg config.Config) *media.Recorder {
	rec := media.NewRecorder(cfg.MicDevice, runtime.GOOS)
	rec.Format = cfg.RecordingFormat
	return rec
}

// buildSpeaker returns the configured synthesizer and a func releasing
// its audio output.
func buildSpeaker(cfg config.Config, logger zerolog.Logger) (announcer.Speaker, func()) {
	switch cfg.TTSProvider {
	case config.ProviderCommand:
		return media.NewCommandSpeaker(cfg.SpeechCommand), func() {}
	case config.ProviderDeepgram:
		player := media.NewPlayer(tts.SampleRate)
		stream := tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, logger)
		return tts.NewSpeaker(stream, player, logger), func() { _ = player.Close() }
	default:
		player := media.NewPlayer(tts.SampleRate)
		stream := tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, logger)
		return tts.NewSpeaker(stream, player, logger), func() { _ = player.Close() }
	}
}
