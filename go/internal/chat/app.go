package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/events"
	"github.com/egregor-app/egregor/go/internal/models"
)

// DefaultHistoryLimit caps how much history a room loads on open/resync.
const DefaultHistoryLimit = 200

var (
	ErrEmptyMessage  = errors.New("message body is empty")
	ErrInvalidAmount = errors.New("gift amount must be positive")
)

// ChatRepository defines what the chat app layer needs from storage
type ChatRepository interface {
	Insert(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// RoomEvents defines what the chat app needs from the room event bus
type RoomEvents interface {
	Publish(ctx context.Context, ev events.RoomEvent) error
}

type App struct {
	repo ChatRepository
	bus  RoomEvents
}

func NewApp(repo ChatRepository, bus RoomEvents) *App {
	return &App{
		repo: repo,
		bus:  bus,
	}
}

// Send stores a text message. The ID is assigned here, before the write
// confirms, so the caller can place an optimistic entry that the feed
// echo deduplicates against.
func (a *App) Send(ctx context.Context, eventID, userID uuid.UUID, body string) (models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	return a.insert(ctx, models.ChatMessage{
		ID:      uuid.New(),
		EventID: eventID,
		UserID:  userID,
		Kind:    models.MessageKindText,
		Body:    body,
	})
}

// SendEnergyGift stores an energy gift as a chat message of kind energy.
func (a *App) SendEnergyGift(ctx context.Context, eventID, userID uuid.UUID, amount int) (models.ChatMessage, error) {
	if amount <= 0 {
		return models.ChatMessage{}, ErrInvalidAmount
	}
	return a.insert(ctx, models.ChatMessage{
		ID:         uuid.New(),
		EventID:    eventID,
		UserID:     userID,
		Kind:       models.MessageKindEnergy,
		GiftAmount: amount,
	})
}

func (a *App) insert(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	stored, err := a.repo.Insert(ctx, msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to send message: %w", err)
	}

	if a.bus != nil {
		ev, err := events.New(msg.EventID, events.TypeChatMessage, events.ChatMessagePayload{Message: *stored})
		if err != nil {
			log.Error().Err(err).Str("event_id", msg.EventID.String()).Msg("failed to build chat event")
		} else if err := a.bus.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_id", msg.EventID.String()).Msg("failed to publish chat event")
		}
	}

	return *stored, nil
}

// List returns ordered history for an event.
func (a *App) List(ctx context.Context, eventID uuid.UUID) ([]models.ChatMessage, error) {
	msgs, err := a.repo.ListByEvent(ctx, eventID, DefaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}
