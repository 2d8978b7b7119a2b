package session

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mwynn/tombola/internal/models"
	"github.com/rs/zerolog/log"
)

const commandQueueSize = 64

// ErrSessionClosed is returned by command dispatch after the session's run
// loop has stopped. Callers should re-resolve the room through the registry.
var ErrSessionClosed = errors.New("room session closed")

// Subscriber is a live connection attached to the room's event stream.
type Subscriber interface {
	// Deliver queues an outbound frame without blocking; false means the
	// subscriber's buffer is full and it will be dropped.
	Deliver(msg []byte) bool
	// Close tears down the underlying transport.
	Close()
}

// Store defines what the session needs from the persistence layer
type Store interface {
	AddMember(ctx context.Context, roomID int64, name string) (*models.Member, error)
	SetMemberVacation(ctx context.Context, id int64, isVacation bool) error
	SetMemberWon(ctx context.Context, id int64, hasWon bool) error
	DeleteMember(ctx context.Context, id int64) error
	ResetWins(ctx context.Context, roomID int64) error
}

// EventMirror receives a copy of every broadcast frame. Implementations must
// not block; delivery is best-effort and never affects command outcome.
type EventMirror interface {
	Publish(slug string, event []byte)
}

// Config holds per-session tunables.
type Config struct {
	// RevealDelay is the pause between LOTTERY_STARTED and the winner reveal.
	RevealDelay time.Duration
	Clock       clockwork.Clock
	Mirror      EventMirror
	// OnEmpty is invoked from the run loop when the last subscriber detaches.
	OnEmpty func()
}

// DefaultConfig returns the production session configuration.
func DefaultConfig() Config {
	return Config{
		RevealDelay: 3 * time.Second,
		Clock:       clockwork.NewRealClock(),
	}
}

type command struct {
	fn   func(ctx context.Context)
	done chan error
}

// Session is the authoritative in-memory state of one room. All commands are
// serialized through a single queue processed by Run, so mutation, persist
// and broadcast for one command never interleave with another command on the
// same room.
type Session struct {
	room  *models.Room
	store Store
	cfg   Config
	rng   *rand.Rand

	// owned by the run loop
	members []*models.Member
	subs    map[Subscriber]struct{}

	draw        drawState
	drawPool    []models.Member
	revealTimer clockwork.Timer

	cmds    chan command
	stopped chan struct{}
}

// New constructs a session around the member list loaded from the store.
// The session is inert until Run is started.
func New(room *models.Room, members []*models.Member, store Store, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RevealDelay <= 0 {
		cfg.RevealDelay = 3 * time.Second
	}
	return &Session{
		room:    room,
		store:   store,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		members: members,
		subs:    make(map[Subscriber]struct{}),
		cmds:    make(chan command, commandQueueSize),
		stopped: make(chan struct{}),
	}
}

// Slug returns the room's shareable identifier.
func (s *Session) Slug() string {
	return s.room.Slug
}

// Run processes the command queue until ctx is cancelled. It must be started
// exactly once, before any command is dispatched.
func (s *Session) Run(ctx context.Context) {
	defer close(s.stopped)

	log.Info().Str("room", s.room.Slug).Int("members", len(s.members)).Msg("room session started")

	for {
		// shutdown takes priority over queued work: an evicted session must
		// not serve stale commands, their issuers get ErrSessionClosed and
		// re-resolve through the registry
		select {
		case <-ctx.Done():
			s.teardown()
			return
		default:
		}
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case cmd := <-s.cmds:
			cmd.fn(ctx)
			cmd.done <- nil
		}
	}
}

func (s *Session) teardown() {
	if s.revealTimer != nil {
		stopAndDrainTimer(s.revealTimer)
		s.revealTimer = nil
	}
drain:
	for {
		select {
		case cmd := <-s.cmds:
			cmd.done <- ErrSessionClosed
		default:
			break drain
		}
	}
	for sub := range s.subs {
		delete(s.subs, sub)
		sub.Close()
	}
	log.Info().Str("room", s.room.Slug).Msg("room session stopped")
}

// dispatch queues fn and waits until the run loop has served it, so a nil
// return means the command actually executed. Commands still queued when the
// session stops are failed with ErrSessionClosed instead of being dropped.
func (s *Session) dispatch(fn func(ctx context.Context)) error {
	select {
	case <-s.stopped:
		return ErrSessionClosed
	default:
	}
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrSessionClosed
	}
	select {
	case err := <-cmd.done:
		return err
	case <-s.stopped:
		// teardown may have failed the command already, or it raced past
		// the drain and nobody will ever serve it
		select {
		case err := <-cmd.done:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// Join attaches sub to the room and sends it the current member list.
func (s *Session) Join(sub Subscriber) error {
	return s.dispatch(func(ctx context.Context) { s.handleJoin(sub) })
}

func (s *Session) handleJoin(sub Subscriber) {
	if _, ok := s.subs[sub]; ok {
		s.sendError(sub, ErrKindValidation, "already joined to this room")
		return
	}
	s.subs[sub] = struct{}{}
	log.Info().Str("room", s.room.Slug).Int("subscribers", len(s.subs)).Msg("client joined room")

	// snapshot goes to the joining connection only
	if !sub.Deliver(s.roomStateEvent()) {
		s.dropSubscriber(sub)
	}
}

// AddMember creates a member with the given display name.
func (s *Session) AddMember(issuer Subscriber, name string) error {
	return s.dispatch(func(ctx context.Context) { s.handleAddMember(ctx, issuer, name) })
}

func (s *Session) handleAddMember(ctx context.Context, issuer Subscriber, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.sendError(issuer, ErrKindValidation, "name must not be empty")
		return
	}
	member, err := s.store.AddMember(ctx, s.room.ID, name)
	if err != nil {
		log.Error().Err(err).Str("room", s.room.Slug).Msg("failed to add member")
		s.sendError(issuer, ErrKindStore, "could not add member")
		return
	}
	s.members = append(s.members, member)
	s.broadcast(s.roomStateEvent())
}

// SetVacation toggles a member's vacation flag.
func (s *Session) SetVacation(issuer Subscriber, memberID int64, isVacation bool) error {
	return s.dispatch(func(ctx context.Context) { s.handleSetVacation(ctx, issuer, memberID, isVacation) })
}

func (s *Session) handleSetVacation(ctx context.Context, issuer Subscriber, memberID int64, isVacation bool) {
	member := s.memberByID(memberID)
	if member == nil {
		log.Debug().Str("room", s.room.Slug).Int64("member_id", memberID).Msg("vacation toggle for unknown member")
		return
	}
	if err := s.store.SetMemberVacation(ctx, memberID, isVacation); err != nil {
		log.Error().Err(err).Str("room", s.room.Slug).Int64("member_id", memberID).Msg("failed to update vacation status")
		s.sendError(issuer, ErrKindStore, "could not update vacation status")
		return
	}
	member.IsVacation = isVacation
	s.broadcast(MarshalEvent(EventTypeUserUpdated, UserFromMember(member)))
}

// SetWon toggles a member's won flag. This is the manual override; the draw
// engine marks winners on its own.
func (s *Session) SetWon(issuer Subscriber, memberID int64, hasWon bool) error {
	return s.dispatch(func(ctx context.Context) { s.handleSetWon(ctx, issuer, memberID, hasWon) })
}

func (s *Session) handleSetWon(ctx context.Context, issuer Subscriber, memberID int64, hasWon bool) {
	member := s.memberByID(memberID)
	if member == nil {
		log.Debug().Str("room", s.room.Slug).Int64("member_id", memberID).Msg("won toggle for unknown member")
		return
	}
	if err := s.store.SetMemberWon(ctx, memberID, hasWon); err != nil {
		log.Error().Err(err).Str("room", s.room.Slug).Int64("member_id", memberID).Msg("failed to update won status")
		s.sendError(issuer, ErrKindStore, "could not update won status")
		return
	}
	member.HasWon = hasWon
	s.broadcast(MarshalEvent(EventTypeUserUpdated, UserFromMember(member)))
}

// RemoveMember deletes a member from the room. Removing an unknown id is a
// silent no-op.
func (s *Session) RemoveMember(issuer Subscriber, memberID int64) error {
	return s.dispatch(func(ctx context.Context) { s.handleRemoveMember(ctx, issuer, memberID) })
}

func (s *Session) handleRemoveMember(ctx context.Context, issuer Subscriber, memberID int64) {
	if s.memberByID(memberID) == nil {
		log.Debug().Str("room", s.room.Slug).Int64("member_id", memberID).Msg("delete for unknown member")
		return
	}
	if err := s.store.DeleteMember(ctx, memberID); err != nil {
		log.Error().Err(err).Str("room", s.room.Slug).Int64("member_id", memberID).Msg("failed to delete member")
		s.sendError(issuer, ErrKindStore, "could not delete member")
		return
	}
	kept := s.members[:0]
	for _, m := range s.members {
		if m.ID != memberID {
			kept = append(kept, m)
		}
	}
	s.members = kept
	s.broadcast(s.roomStateEvent())
}

// Disconnect detaches sub from the room. When the last subscriber leaves the
// configured OnEmpty hook fires, which normally evicts the session.
func (s *Session) Disconnect(sub Subscriber) error {
	return s.dispatch(func(ctx context.Context) { s.handleDisconnect(sub) })
}

func (s *Session) handleDisconnect(sub Subscriber) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	log.Info().Str("room", s.room.Slug).Int("subscribers", len(s.subs)).Msg("client left room")
	if len(s.subs) == 0 && s.cfg.OnEmpty != nil {
		s.cfg.OnEmpty()
	}
}

func (s *Session) memberByID(id int64) *models.Member {
	for _, m := range s.members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *Session) roomStateEvent() []byte {
	users := make([]User, 0, len(s.members))
	for _, m := range s.members {
		users = append(users, UserFromMember(m))
	}
	return MarshalEvent(EventTypeRoomState, users)
}

func (s *Session) broadcast(msg []byte) {
	if msg == nil {
		return
	}
	for sub := range s.subs {
		if !sub.Deliver(msg) {
			s.dropSubscriber(sub)
		}
	}
	if s.cfg.Mirror != nil {
		s.cfg.Mirror.Publish(s.room.Slug, msg)
	}
}

func (s *Session) sendError(sub Subscriber, kind ErrorKind, message string) {
	if sub == nil {
		return
	}
	if !sub.Deliver(MarshalError(kind, message)) {
		s.dropSubscriber(sub)
	}
}

func (s *Session) dropSubscriber(sub Subscriber) {
	log.Warn().Str("room", s.room.Slug).Msg("subscriber send buffer full, dropping connection")
	delete(s.subs, sub)
	sub.Close()
	if len(s.subs) == 0 && s.cfg.OnEmpty != nil {
		s.cfg.OnEmpty()
	}
}
