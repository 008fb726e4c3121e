package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/internal/viewer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// A headless viewer: it joins a lobby, logs what it sees and, if asked,
// drags random panels to random spots.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := viewer.DefaultConfig()
	var (
		logLevel string
		interval time.Duration
	)
	flags := pflag.NewFlagSet("viewer", pflag.ContinueOnError)
	flags.StringVar(&cfg.RelayURL, "relay", getEnv("RELAY_URL", "http://localhost:8000"), "relay base URL")
	flags.StringVar(&cfg.Lobby, "lobby", os.Getenv("LOBBY"), "lobby (controller identity) to join")
	flags.StringVar(&cfg.Token, "token", os.Getenv("VIEWER_TOKEN"), "signed viewer token")
	flags.DurationVar(&interval, "drag-every", 0, "drag a random panel at this interval (0 disables)")
	flags.StringVar(&logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if cfg.Lobby == "" {
		fmt.Fprintln(os.Stderr, "error: --lobby is required")
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	session := viewer.NewSession(cfg, clock)
	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("viewer stopped")
		}
	}()

	go watch(ctx, session)
	if interval > 0 {
		go simulate(ctx, session, clock, interval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
}

func watch(ctx context.Context, s *viewer.Session) {
	view := s.View()
	for {
		select {
		case <-ctx.Done():
			return
		case <-view.Changed():
			panels := view.Panels()
			log.Info().Int("panels", len(panels)).Msg("view updated")
			for _, p := range panels {
				log.Debug().
					Str("source_id", p.ID.String()).
					Float64("x", p.X).
					Float64("y", p.Y).
					Msg("panel")
			}
		}
	}
}

func simulate(ctx context.Context, s *viewer.Session, clock clockwork.Clock, interval time.Duration) {
	drag := viewer.NewDragSession(clock, viewer.DefaultDragCooldown)
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		panels := s.View().Panels()
		if len(panels) == 0 {
			continue
		}
		panel := panels[rand.Intn(len(panels))]
		grabX, grabY := panel.X+panel.Width/2, panel.Y+panel.Height/2
		if !drag.Down(panel, s.View().Boundary(panel.ID), grabX, grabY) {
			continue
		}
		drag.Move(rand.Float64(), rand.Float64())
		proposal, ok := drag.Up()
		if !ok {
			continue
		}
		if err := s.Propose(proposal); err != nil {
			log.Warn().Err(err).Msg("proposal not sent")
			continue
		}
		log.Info().
			Str("source_id", proposal.SourceID.String()).
			Float64("x", proposal.X).
			Float64("y", proposal.Y).
			Msg("proposed move")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
