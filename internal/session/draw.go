package session

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/mwynn/tombola/internal/models"
	"github.com/rs/zerolog/log"
)

// drawState tracks the per-room selection state machine: Idle -> Running -> Idle.
type drawState int

const (
	drawIdle drawState = iota
	drawRunning
)

// Draw starts the randomized selection. Eligible members (present, not yet
// won) are snapshotted when the lottery starts; the winner is revealed after
// the configured delay and is drawn from that snapshot even if membership
// changes in between.
func (s *Session) Draw(issuer Subscriber) error {
	return s.dispatch(func(ctx context.Context) { s.handleDraw(ctx, issuer) })
}

func (s *Session) handleDraw(ctx context.Context, issuer Subscriber) {
	if s.draw == drawRunning {
		s.sendError(issuer, ErrKindValidation, "draw already in progress")
		return
	}

	var eligible, present []*models.Member
	for _, m := range s.members {
		if m.IsVacation {
			continue
		}
		present = append(present, m)
		if !m.HasWon {
			eligible = append(eligible, m)
		}
	}

	if len(eligible) == 0 && len(present) > 0 {
		// full cycle: everyone present has already won once
		if err := s.store.ResetWins(ctx, s.room.ID); err != nil {
			log.Error().Err(err).Str("room", s.room.Slug).Msg("failed to reset lottery cycle")
			s.sendError(issuer, ErrKindStore, "could not reset lottery cycle")
			return
		}
		for _, m := range s.members {
			m.HasWon = false
		}
		eligible = present
		s.broadcast(s.roomStateEvent())
		log.Info().Str("room", s.room.Slug).Int("members", len(present)).Msg("lottery cycle reset")
	}

	if len(eligible) == 0 {
		log.Debug().Str("room", s.room.Slug).Msg("draw requested with no eligible members")
		return
	}

	s.draw = drawRunning
	s.drawPool = make([]models.Member, 0, len(eligible))
	for _, m := range eligible {
		s.drawPool = append(s.drawPool, *m)
	}

	s.broadcast(MarshalEvent(EventTypeLotteryStarted, struct{}{}))
	log.Info().Str("room", s.room.Slug).Int("eligible", len(eligible)).Msg("lottery started")

	timer := s.cfg.Clock.NewTimer(s.cfg.RevealDelay)
	s.revealTimer = timer
	go func() {
		select {
		case <-timer.Chan():
			if err := s.dispatch(func(ctx context.Context) { s.handleReveal(ctx) }); err != nil {
				log.Warn().Str("room", s.room.Slug).Msg("reveal fired after session stopped")
			}
		case <-s.stopped:
			stopAndDrainTimer(timer)
		}
	}()
}

func (s *Session) handleReveal(ctx context.Context) {
	if s.draw != drawRunning || len(s.drawPool) == 0 {
		return
	}
	winner := s.drawPool[s.rng.Intn(len(s.drawPool))]
	winner.HasWon = true

	// The lottery has been announced, so the reveal resolves even if the
	// store write fails; the divergence is logged.
	if err := s.store.SetMemberWon(ctx, winner.ID, true); err != nil {
		log.Error().Err(err).Str("room", s.room.Slug).Int64("member_id", winner.ID).
			Msg("failed to persist winner, continuing with in-memory state")
	}
	if m := s.memberByID(winner.ID); m != nil {
		m.HasWon = true
	}

	s.draw = drawIdle
	s.drawPool = nil
	s.revealTimer = nil

	log.Info().Str("room", s.room.Slug).Int64("member_id", winner.ID).Str("name", winner.Name).Msg("winner selected")
	s.broadcast(MarshalEvent(EventTypeWinnerSelected, UserFromMember(&winner)))
	s.broadcast(s.roomStateEvent())
}

// stopAndDrainTimer safely stops a timer and drains its channel so the
// goroutine waiting on it never leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
