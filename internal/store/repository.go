package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mwynn/tombola/internal/models"
)

// ErrRoomNotFound is returned when a slug has no room row.
var ErrRoomNotFound = errors.New("room not found")

// Querier defines what the repository needs from the database layer
type Querier interface {
	CreateRoom(ctx context.Context, slug string) (RoomRow, error)
	GetRoomBySlug(ctx context.Context, slug string) (RoomRow, error)
	ListMembersByRoom(ctx context.Context, roomID int64) ([]MemberRow, error)
	CreateMember(ctx context.Context, arg CreateMemberParams) (MemberRow, error)
	UpdateMemberVacation(ctx context.Context, arg UpdateMemberVacationParams) error
	UpdateMemberWon(ctx context.Context, arg UpdateMemberWonParams) error
	DeleteMember(ctx context.Context, id int64) error
	ResetWonByRoom(ctx context.Context, roomID int64) error
}

// Repository implements room and member data access operations
type Repository struct {
	queries Querier
}

// NewRepository creates a new store repository
func NewRepository(querier Querier) *Repository {
	return &Repository{
		queries: querier,
	}
}

// CreateRoom inserts a room row for the given slug
func (r *Repository) CreateRoom(ctx context.Context, slug string) (*models.Room, error) {
	room, err := r.queries.CreateRoom(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return r.dbRoomToModel(room), nil
}

// GetRoomBySlug retrieves a room by its shareable slug
func (r *Repository) GetRoomBySlug(ctx context.Context, slug string) (*models.Room, error) {
	room, err := r.queries.GetRoomBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return r.dbRoomToModel(room), nil
}

// ListMembers retrieves all members of a room in join order
func (r *Repository) ListMembers(ctx context.Context, roomID int64) ([]*models.Member, error) {
	rows, err := r.queries.ListMembersByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members := make([]*models.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, r.dbMemberToModel(row))
	}
	return members, nil
}

// AddMember inserts a member row and returns it with its assigned id
func (r *Repository) AddMember(ctx context.Context, roomID int64, name string) (*models.Member, error) {
	member, err := r.queries.CreateMember(ctx, CreateMemberParams{
		RoomID:   roomID,
		Nickname: name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return r.dbMemberToModel(member), nil
}

// SetMemberVacation updates a member's vacation flag
func (r *Repository) SetMemberVacation(ctx context.Context, id int64, isVacation bool) error {
	if err := r.queries.UpdateMemberVacation(ctx, UpdateMemberVacationParams{
		ID:         id,
		IsVacation: isVacation,
	}); err != nil {
		return fmt.Errorf("failed to update vacation status: %w", err)
	}
	return nil
}

// SetMemberWon updates a member's won flag
func (r *Repository) SetMemberWon(ctx context.Context, id int64, hasWon bool) error {
	if err := r.queries.UpdateMemberWon(ctx, UpdateMemberWonParams{
		ID:     id,
		HasWon: hasWon,
	}); err != nil {
		return fmt.Errorf("failed to update won status: %w", err)
	}
	return nil
}

// DeleteMember removes a member row
func (r *Repository) DeleteMember(ctx context.Context, id int64) error {
	if err := r.queries.DeleteMember(ctx, id); err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return nil
}

// ResetWins clears the won flag for every member of a room
func (r *Repository) ResetWins(ctx context.Context, roomID int64) error {
	if err := r.queries.ResetWonByRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to reset lottery cycle: %w", err)
	}
	return nil
}

func (r *Repository) dbRoomToModel(row RoomRow) *models.Room {
	return &models.Room{
		ID:   row.ID,
		Slug: row.Slug,
	}
}

func (r *Repository) dbMemberToModel(row MemberRow) *models.Member {
	return &models.Member{
		ID:         row.ID,
		RoomID:     row.RoomID,
		Name:       row.Nickname,
		IsVacation: row.IsVacation,
		HasWon:     row.HasWon,
	}
}
