package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuerier records the arguments the repository passes down and returns
// canned rows or errors.
type fakeQuerier struct {
	roomRow    RoomRow
	memberRow  MemberRow
	memberRows []MemberRow
	err        error

	gotSlug         string
	gotRoomID       int64
	gotMemberID     int64
	gotCreateParams CreateMemberParams
	gotVacParams    UpdateMemberVacationParams
	gotWonParams    UpdateMemberWonParams
}

func (f *fakeQuerier) CreateRoom(ctx context.Context, slug string) (RoomRow, error) {
	f.gotSlug = slug
	return f.roomRow, f.err
}

func (f *fakeQuerier) GetRoomBySlug(ctx context.Context, slug string) (RoomRow, error) {
	f.gotSlug = slug
	return f.roomRow, f.err
}

func (f *fakeQuerier) ListMembersByRoom(ctx context.Context, roomID int64) ([]MemberRow, error) {
	f.gotRoomID = roomID
	return f.memberRows, f.err
}

func (f *fakeQuerier) CreateMember(ctx context.Context, arg CreateMemberParams) (MemberRow, error) {
	f.gotCreateParams = arg
	return f.memberRow, f.err
}

func (f *fakeQuerier) UpdateMemberVacation(ctx context.Context, arg UpdateMemberVacationParams) error {
	f.gotVacParams = arg
	return f.err
}

func (f *fakeQuerier) UpdateMemberWon(ctx context.Context, arg UpdateMemberWonParams) error {
	f.gotWonParams = arg
	return f.err
}

func (f *fakeQuerier) DeleteMember(ctx context.Context, id int64) error {
	f.gotMemberID = id
	return f.err
}

func (f *fakeQuerier) ResetWonByRoom(ctx context.Context, roomID int64) error {
	f.gotRoomID = roomID
	return f.err
}

func TestGetRoomBySlugMapsNoRows(t *testing.T) {
	repo := NewRepository(&fakeQuerier{err: pgx.ErrNoRows})

	_, err := repo.GetRoomBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestGetRoomBySlugWrapsOtherErrors(t *testing.T) {
	cause := errors.New("connection reset")
	repo := NewRepository(&fakeQuerier{err: cause})

	_, err := repo.GetRoomBySlug(context.Background(), "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRoomNotFound)
}

func TestGetRoomBySlugConvertsRow(t *testing.T) {
	q := &fakeQuerier{roomRow: RoomRow{ID: 42, Slug: "abc"}}
	repo := NewRepository(q)

	room, err := repo.GetRoomBySlug(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", q.gotSlug)
	assert.Equal(t, int64(42), room.ID)
	assert.Equal(t, "abc", room.Slug)
}

func TestListMembersConvertsRows(t *testing.T) {
	q := &fakeQuerier{memberRows: []MemberRow{
		{ID: 1, RoomID: 42, Nickname: "Alice", IsVacation: true},
		{ID: 2, RoomID: 42, Nickname: "Bob", HasWon: true},
	}}
	repo := NewRepository(q)

	members, err := repo.ListMembers(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), q.gotRoomID)
	require.Len(t, members, 2)
	assert.Equal(t, "Alice", members[0].Name)
	assert.True(t, members[0].IsVacation)
	assert.Equal(t, "Bob", members[1].Name)
	assert.True(t, members[1].HasWon)
}

func TestAddMemberPassesParams(t *testing.T) {
	q := &fakeQuerier{memberRow: MemberRow{ID: 7, RoomID: 42, Nickname: "Carol"}}
	repo := NewRepository(q)

	member, err := repo.AddMember(context.Background(), 42, "Carol")
	require.NoError(t, err)
	assert.Equal(t, CreateMemberParams{RoomID: 42, Nickname: "Carol"}, q.gotCreateParams)
	assert.Equal(t, int64(7), member.ID)
	assert.Equal(t, "Carol", member.Name)
}

func TestSetMemberVacationPassesParams(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRepository(q)

	require.NoError(t, repo.SetMemberVacation(context.Background(), 7, true))
	assert.Equal(t, UpdateMemberVacationParams{ID: 7, IsVacation: true}, q.gotVacParams)
}

func TestSetMemberWonPassesParams(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRepository(q)

	require.NoError(t, repo.SetMemberWon(context.Background(), 7, true))
	assert.Equal(t, UpdateMemberWonParams{ID: 7, HasWon: true}, q.gotWonParams)
}

func TestDeleteMemberPassesID(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRepository(q)

	require.NoError(t, repo.DeleteMember(context.Background(), 7))
	assert.Equal(t, int64(7), q.gotMemberID)
}

func TestResetWinsPassesRoomID(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRepository(q)

	require.NoError(t, repo.ResetWins(context.Background(), 42))
	assert.Equal(t, int64(42), q.gotRoomID)
}

func TestWriteErrorsAreWrapped(t *testing.T) {
	cause := errors.New("deadlock detected")
	repo := NewRepository(&fakeQuerier{err: cause})
	ctx := context.Background()

	_, err := repo.AddMember(ctx, 42, "Carol")
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, repo.SetMemberVacation(ctx, 7, true), cause)
	assert.ErrorIs(t, repo.SetMemberWon(ctx, 7, true), cause)
	assert.ErrorIs(t, repo.DeleteMember(ctx, 7), cause)
	assert.ErrorIs(t, repo.ResetWins(ctx, 42), cause)
}
