// Package events publishes audit records of what the controller did to the
// scene: applied moves and full resyncs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	TypeMoveApplied   = "move_applied"
	TypeSceneResynced = "scene_resynced"
)

type Event struct {
	ID        uuid.UUID
	Type      string
	Lobby     string
	Payload   []byte
	CreatedAt time.Time
}

type MoveApplied struct {
	SourceID    models.SourceID `json:"source_id"`
	RequesterID string          `json:"requester_id"`
	X           float64         `json:"x"`
	Y           float64         `json:"y"`
	Clamped     bool            `json:"clamped"`
}

type SceneResynced struct {
	Sources int           `json:"sources"`
	Canvas  models.Canvas `json:"canvas"`
	Reason  string        `json:"reason"`
}

// New stamps a payload with a fresh id and time.
func New(eventType, lobby string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Lobby:     lobby,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoOpPublisher only logs; used when no broker is configured.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(_ context.Context, event Event) error {
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", event.Type).
		Msg("event not published, no broker configured")
	return nil
}

// RetryPublisher retries a failed publish with a linearly growing delay.
type RetryPublisher struct {
	publisher  Publisher
	maxRetries int
	retryDelay time.Duration
}

func NewRetryPublisher(p Publisher, maxRetries int, retryDelay time.Duration) *RetryPublisher {
	return &RetryPublisher{publisher: p, maxRetries: maxRetries, retryDelay: retryDelay}
}

func (r *RetryPublisher) Publish(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.maxRetries+1, lastErr)
}
