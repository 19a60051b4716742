package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"medminder/internal/alert"
	"medminder/internal/audio"
	"medminder/internal/audio/device"
	"medminder/internal/config"
	"medminder/internal/dashboard"
	"medminder/internal/database"
	"medminder/internal/email"
	"medminder/internal/intent"
	"medminder/internal/ledger"
	"medminder/internal/logging"
	"medminder/internal/middleware"
	"medminder/internal/pillbox"
	"medminder/internal/push"
	"medminder/internal/reminder"
	"medminder/internal/scheduler"
	"medminder/internal/signaling"
	"medminder/internal/voice"
	"medminder/internal/workers"
)

const seedHistoryDays = 30

type store interface {
	ledger.Store
	dashboard.Store
	Close() error
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		slog.Error("❌ medminder stopped", "err", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so deferred cleanup happens before main
// decides the exit code.
func run(args []string, stderr io.Writer) error {
	flags := pflag.NewFlagSet("medminder", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	envFile := flags.String("env", ".env", "path to the env file")
	noPi := flags.Bool("no-pi", false, "console voice, no serial pillbox")
	demo := flags.Bool("demo", false, "cycle through every patient instead of waiting for due times")
	logLevel := flags.String("log", "", "log level: debug, info, warn, error")
	port := flags.String("port", "", "HTTP port for the dashboard")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if *noPi {
		cfg.ConsoleMode()
	}
	if *demo {
		cfg.SchedulerMode = scheduler.ModeDemo
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *port != "" {
		cfg.Port = *port
	}

	logs := logging.NewBuffer(0)
	log := logging.New(cfg.LogLevel, stderr, logs)
	log.Info("🚀 starting medication reminder device", "env", cfg.Environment, "voice", cfg.VoiceMode, "scheduler", cfg.SchedulerMode)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("store error: %w", err)
	}
	defer st.Close()

	if cfg.SeedDemo {
		if err := database.Seed(ctx, st, time.Now(), seedHistoryDays); err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}
	}

	hub := signaling.NewHub(log)
	statusLedger := ledger.New(st, ledger.WithLogger(log))
	statusLedger.Subscribe(hub)

	alerts := alert.NewDispatcher(alert.Config{
		FeedSize:        cfg.AlertFeedSize,
		DeliveryTimeout: cfg.AlertDeliveryTimeout,
	}, log)
	alerts.AddPublisher(hub)

	pushEnabled := false
	if cfg.EnablePushAlerts && cfg.FirebaseCredentialsPath != "" {
		pushService, err := push.NewFirebaseService(ctx, cfg.FirebaseCredentialsPath, cfg.CaregiverDeviceTokens, log)
		if err != nil {
			log.Warn("⚠️ Firebase unavailable, push alerts disabled", "err", err)
		} else {
			pushService.WithPatients(st)
			alerts.AddChannel(pushService)
			statusLedger.Subscribe(pushService)
			pushEnabled = true
		}
	}
	if cfg.EnableEmailAlerts {
		emailService, err := email.NewEmailService(cfg, log)
		if err != nil {
			log.Warn("⚠️ email alerts disabled", "err", err)
		} else {
			alerts.AddChannel(emailService)
		}
	}

	arbiter := audio.NewArbiter()
	speaker, err := buildVoice(ctx, cfg, arbiter, log)
	if err != nil {
		return fmt.Errorf("voice error: %w", err)
	}

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return fmt.Errorf("intent classifier error: %w", err)
	}

	tracker := reminder.NewTracker()
	orchestrator := reminder.NewOrchestrator(reminder.Deps{
		Ledger:     statusLedger,
		Alerts:     alerts,
		Voice:      speaker,
		Classifier: classifier,
		Tracker:    tracker,
		Logger:     log,
	}, reminder.Options{
		MaxReminders:       cfg.MaxReminders,
		MaxDelays:          cfg.MaxDelays,
		DelayWait:          cfg.DelayWait,
		NoResponseGrace:    cfg.NoResponseGrace,
		LedgerRetries:      cfg.LedgerRetries,
		LedgerRetryBackoff: cfg.LedgerRetryBackoff,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.PillboxEnabled {
		listener := pillbox.NewListener(pillbox.Config{
			Open:    pillbox.OpenSerial(cfg.SerialPort, cfg.BaudRate),
			Tracker: tracker,
			Ledger:  statusLedger,
			Voice:   speaker,
			Logger:  log,
		})
		g.Go(func() error {
			// a missing pillbox leaves the voice path running
			if err := listener.Run(gctx); err != nil {
				log.Warn("⚠️ pillbox listener disabled", "port", cfg.SerialPort, "err", err)
			}
			return nil
		})
	} else {
		log.Info("ℹ️ pillbox listener off")
	}

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Mode:          cfg.SchedulerMode,
		Interval:      cfg.SchedulerInterval,
		PatientGap:    cfg.PatientGap,
		RoundInterval: cfg.RoundInterval,
	}, orchestrator, st, statusLedger, log)
	if err != nil {
		return fmt.Errorf("scheduler error: %w", err)
	}
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	workerManager := workers.NewWorkerManager(log)
	workerManager.RegisterWorker(workers.NewCloseoutWorker(st, statusLedger, cfg.CloseoutInterval, cfg.CloseoutLookback, log))
	workerManager.Start(gctx)

	dash := dashboard.NewServer(dashboard.Deps{
		Store:       st,
		Ledger:      statusLedger,
		Alerts:      alerts,
		Logs:        logs,
		Hub:         hub,
		Cycles:      tracker,
		Workers:     workerManager,
		Admin:       middleware.NewAdminMiddleware(cfg.AdminToken, log),
		PushEnabled: pushEnabled,
		WebDir:      webDir(),
		Logger:      log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           dash.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("✅ dashboard listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("🛑 shutting down")

		sched.Stop()
		workerManager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	alerts.Wait()
	if err != nil {
		return err
	}
	log.Info("👋 bye")
	return nil
}

func openStore(cfg *config.Config) (store, error) {
	if cfg.StoreDriver == "memory" {
		slog.Warn("⚠️ using in-memory store, nothing will be persisted")
		return ledger.NewMemoryStore(), nil
	}
	db, err := database.NewDB(cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func buildVoice(ctx context.Context, cfg *config.Config, arbiter *audio.Arbiter, log *slog.Logger) (voice.Voice, error) {
	if cfg.VoiceMode == "console" {
		log.Info("⌨️ console voice: type replies, press enter")
		return voice.NewConsole(arbiter, os.Stdin, os.Stdout, cfg.ListenTimeout), nil
	}

	google, err := voice.NewGoogleSpeech(ctx, voice.GoogleConfig{
		CredentialsPath: cfg.GoogleCredentialsPath,
		LanguageCode:    cfg.LanguageCode,
	})
	if err != nil {
		return nil, err
	}

	recorder := device.NewRecorder(device.RecorderConfig{
		SampleRate:       cfg.SampleRate,
		SilenceThreshold: cfg.SilenceThreshold,
		SilenceDuration:  cfg.SilenceDuration,
		MaxDuration:      time.Duration(cfg.MaxRecordSeconds) * time.Second,
	})
	if err := recorder.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize microphone: %w", err)
	}
	go func() {
		<-ctx.Done()
		recorder.Close()
	}()

	return voice.NewAssistant(voice.AssistantConfig{
		Arbiter:     arbiter,
		Synthesizer: google,
		Transcriber: google,
		Player:      device.NewPlayer(),
		Capturer:    recorder,
		CaptureFile: cfg.CaptureFile,
		Logger:      log,
	}), nil
}

func buildClassifier(cfg *config.Config) (intent.Classifier, error) {
	var client *http.Client
	if cfg.SocksProxy != "" {
		c, err := intent.NewSocksClient(cfg.SocksProxy)
		if err != nil {
			return nil, fmt.Errorf("failed to configure SOCKS proxy: %w", err)
		}
		client = c
	}

	switch cfg.IntentProvider {
	case "openai":
		return intent.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, client), nil
	default:
		return intent.NewGemini(cfg.GoogleAPIKey, cfg.GeminiModel, client), nil
	}
}

// webDir serves ./web when a static dashboard has been installed next to
// the binary.
func webDir() string {
	if info, err := os.Stat("web"); err == nil && info.IsDir() {
		return "web"
	}
	return ""
}
