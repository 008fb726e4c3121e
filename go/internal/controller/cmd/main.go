package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/clients/identity"
	"github.com/mcdev12/chatplays/go/clients/lobby"
	"github.com/mcdev12/chatplays/go/clients/obsws"
	"github.com/mcdev12/chatplays/go/internal/controller"
	"github.com/mcdev12/chatplays/go/internal/dbconfig"
	"github.com/mcdev12/chatplays/go/internal/events"
	"github.com/mcdev12/chatplays/go/internal/settings"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		configPath   string
		settingsPath string
		usePostgres  bool
		logLevel     string
	)
	flags := pflag.NewFlagSet("controller", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "controller.yaml", "path to the controller config file")
	flags.StringVar(&settingsPath, "settings", "", "path to the overlay settings file (overrides the config file)")
	flags.BoolVar(&usePostgres, "postgres", false, "keep overlay settings in Postgres (DB_* env vars)")
	flags.StringVar(&logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if settingsPath != "" {
		cfg.Settings.Path = settingsPath
	}
	if usePostgres {
		cfg.Settings.Postgres = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, listener, closeStore, err := setupSettings(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up settings store")
	}
	defer closeStore()

	publisher, closePublisher := setupPublisher(ctx, cfg)
	defer closePublisher()

	obsCfg := obsws.DefaultConfig()
	obsCfg.Host = cfg.OBS.Host
	obsCfg.Password = cfg.OBS.Password

	ctrl := controller.New(cfg.Controller, controller.Deps{
		DialScene: func(ctx context.Context) (controller.SceneSession, error) {
			client, err := obsws.Dial(ctx, obsCfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Identity:  identity.NewResolver(cfg.Identity.URL),
		Lobby:     lobby.NewClient(cfg.Relay.URL),
		Store:     store,
		Publisher: publisher,
		Clock:     clockwork.NewRealClock(),
	})

	if listener != nil {
		go func() {
			if err := listener.Start(ctx, func(context.Context) { ctrl.Reload() }); err != nil {
				log.Error().Err(err).Msg("settings listener stopped")
			}
		}()
	}

	mux := http.NewServeMux()
	ctrl.RegisterRoutes(mux)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("operator HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Error states park Run; POST /connect resumes it.
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()
	<-runErr

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("controller shutdown complete")
}

func setupSettings(ctx context.Context, cfg *Config) (settings.Store, *settings.Listener, func(), error) {
	if !cfg.Settings.Postgres {
		log.Info().Str("path", cfg.Settings.Path).Msg("using settings file")
		return settings.NewFileStore(cfg.Settings.Path), nil, func() {}, nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	db, err := dbconfig.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, nil, err
	}

	store := settings.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	lcfg := settings.DefaultListenerConfig()
	lcfg.DatabaseURL = dbCfg.DSN()
	listener, err := settings.NewListener(lcfg)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	log.Info().Msg("using postgres settings store")
	return store, listener, func() { db.Close() }, nil
}

func setupPublisher(ctx context.Context, cfg *Config) (events.Publisher, func()) {
	if cfg.Events.NATSURL == "" {
		return events.NoOpPublisher{}, func() {}
	}
	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.Events.NATSURL
	js, err := events.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to NATS, events disabled")
		return events.NoOpPublisher{}, func() {}
	}
	return events.NewRetryPublisher(js, 3, 200*time.Millisecond), func() { js.Close() }
}
