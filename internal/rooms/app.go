package rooms

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mwynn/tombola/internal/models"
	"github.com/rs/zerolog/log"
)

// RoomStore defines what the app layer needs from the store
type RoomStore interface {
	CreateRoom(ctx context.Context, slug string) (*models.Room, error)
}

// App handles room creation business logic
type App struct {
	store RoomStore
}

// NewApp creates a new rooms App
func NewApp(store RoomStore) *App {
	return &App{
		store: store,
	}
}

// CreateRoom generates a globally unique slug and persists the room.
func (a *App) CreateRoom(ctx context.Context) (*models.Room, error) {
	slug := uuid.New().String()
	room, err := a.store.CreateRoom(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	log.Info().Str("room", room.Slug).Msg("created room")
	return room, nil
}
