package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/internal/ratelimit"
	"github.com/mcdev12/chatplays/go/internal/relay"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(parseLevel(getEnv("LOG_LEVEL", "info")))

	port := getEnv("RELAY_PORT", "8000")

	cfg := relay.DefaultConfig()
	cfg.ReservationTTL = getEnvAsDuration("LOBBY_RESERVATION_TTL", cfg.ReservationTTL)
	cfg.ViewerInterval = getEnvAsDuration("VIEWER_MESSAGE_INTERVAL", cfg.ViewerInterval)
	cfg.MaxViewerMessage = getEnvAsInt("VIEWER_MESSAGE_LIMIT", cfg.MaxViewerMessage)

	if encoded := os.Getenv("JWT_AUTH_KEY"); encoded != "" {
		secret, err := relay.DecodeSecret(encoded)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid JWT_AUTH_KEY")
		}
		cfg.TokenSecret = secret
	} else {
		log.Warn().Msg("JWT_AUTH_KEY not set, viewers will be anonymous")
	}

	var limiter ratelimit.Limiter
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		limiter = ratelimit.NewRedis(client, cfg.ViewerInterval)
		log.Info().Str("addr", opts.Addr).Msg("using redis rate limiter")
	}

	relayServer := relay.NewServer(cfg, limiter, clockwork.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayServer.Run(ctx)

	mux := http.NewServeMux()
	relayServer.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Websocket upgrades need the connection to outlive any write timeout,
	// so only the header read is bounded.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("relay starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("relay shutdown complete")
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
