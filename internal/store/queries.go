package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx a query needs, satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs the hand-written SQL against the rooms/members schema.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// RoomRow mirrors the rooms table.
type RoomRow struct {
	ID   int64
	Slug string
}

// MemberRow mirrors the members table.
type MemberRow struct {
	ID         int64
	RoomID     int64
	Nickname   string
	IsVacation bool
	HasWon     bool
}

const createRoom = `
INSERT INTO rooms (slug) VALUES ($1)
RETURNING id, slug
`

func (q *Queries) CreateRoom(ctx context.Context, slug string) (RoomRow, error) {
	var row RoomRow
	err := q.db.QueryRow(ctx, createRoom, slug).Scan(&row.ID, &row.Slug)
	return row, err
}

const getRoomBySlug = `
SELECT id, slug FROM rooms WHERE slug = $1
`

func (q *Queries) GetRoomBySlug(ctx context.Context, slug string) (RoomRow, error) {
	var row RoomRow
	err := q.db.QueryRow(ctx, getRoomBySlug, slug).Scan(&row.ID, &row.Slug)
	return row, err
}

const listMembersByRoom = `
SELECT id, room_id, nickname, is_vacation, has_won
FROM members
WHERE room_id = $1
ORDER BY id
`

func (q *Queries) ListMembersByRoom(ctx context.Context, roomID int64) ([]MemberRow, error) {
	rows, err := q.db.Query(ctx, listMembersByRoom, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []MemberRow
	for rows.Next() {
		var m MemberRow
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Nickname, &m.IsVacation, &m.HasWon); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

const createMember = `
INSERT INTO members (room_id, nickname) VALUES ($1, $2)
RETURNING id, room_id, nickname, is_vacation, has_won
`

type CreateMemberParams struct {
	RoomID   int64
	Nickname string
}

func (q *Queries) CreateMember(ctx context.Context, arg CreateMemberParams) (MemberRow, error) {
	var m MemberRow
	err := q.db.QueryRow(ctx, createMember, arg.RoomID, arg.Nickname).
		Scan(&m.ID, &m.RoomID, &m.Nickname, &m.IsVacation, &m.HasWon)
	return m, err
}

const updateMemberVacation = `
UPDATE members SET is_vacation = $2 WHERE id = $1
`

type UpdateMemberVacationParams struct {
	ID         int64
	IsVacation bool
}

func (q *Queries) UpdateMemberVacation(ctx context.Context, arg UpdateMemberVacationParams) error {
	_, err := q.db.Exec(ctx, updateMemberVacation, arg.ID, arg.IsVacation)
	return err
}

const updateMemberWon = `
UPDATE members SET has_won = $2 WHERE id = $1
`

type UpdateMemberWonParams struct {
	ID     int64
	HasWon bool
}

func (q *Queries) UpdateMemberWon(ctx context.Context, arg UpdateMemberWonParams) error {
	_, err := q.db.Exec(ctx, updateMemberWon, arg.ID, arg.HasWon)
	return err
}

const deleteMember = `
DELETE FROM members WHERE id = $1
`

func (q *Queries) DeleteMember(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, deleteMember, id)
	return err
}

const resetWonByRoom = `
UPDATE members SET has_won = FALSE WHERE room_id = $1
`

func (q *Queries) ResetWonByRoom(ctx context.Context, roomID int64) error {
	_, err := q.db.Exec(ctx, resetWonByRoom, roomID)
	return err
}
