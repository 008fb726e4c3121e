package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL  string
	Channel      string
	PingInterval time.Duration
	// Debounce collapses a burst of notifications (one per table in a Save)
	// into a single callback.
	Debounce time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Channel:      NotifyChannel,
		PingInterval: 90 * time.Second,
		Debounce:     250 * time.Millisecond,
	}
}

// Listener reports settings changes written to Postgres by other processes.
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("settings listener event")
			}
		},
	)
	if err := l.Listen(cfg.Channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.Channel).Msg("listening for settings changes")
	return &Listener{listener: l, cfg: cfg}, nil
}

// Start calls onChange after each burst of notifications until ctx ends.
// A reconnect of the underlying connection also triggers onChange since
// notifications may have been missed.
func (l *Listener) Start(ctx context.Context, onChange func(ctx context.Context)) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("settings listener shutting down")
			return l.listener.Close()
		case note := <-l.listener.Notify:
			if note != nil {
				log.Debug().Str("table", note.Extra).Msg("settings change notification")
			}
			if fire == nil {
				fire = time.After(l.cfg.Debounce)
			}
		case <-fire:
			fire = nil
			onChange(ctx)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping settings listener")
			}
		}
	}
}
