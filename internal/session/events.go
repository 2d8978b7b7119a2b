package session

import (
	"encoding/json"
	"strconv"

	"github.com/mwynn/tombola/internal/models"
	"github.com/rs/zerolog/log"
)

// EventType identifies an outbound room event.
type EventType string

const (
	EventTypeRoomState      EventType = "ROOM_STATE"
	EventTypeUserUpdated    EventType = "USER_UPDATED"
	EventTypeLotteryStarted EventType = "LOTTERY_STARTED"
	EventTypeWinnerSelected EventType = "WINNER_SELECTED"
)

// Envelope is the wire frame used in both directions: {"type": ..., "payload": ...}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// User is the wire representation of a member. Ids are stringified
// regardless of the store-native numeric type.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsVacation bool   `json:"isVacation"`
	HasWon     bool   `json:"hasWon"`
}

// UserFromMember converts a domain member to its wire representation.
func UserFromMember(m *models.Member) User {
	return User{
		ID:         strconv.FormatInt(m.ID, 10),
		Name:       m.Name,
		IsVacation: m.IsVacation,
		HasWon:     m.HasWon,
	}
}

// ErrorKind is a stable machine-readable error category. The error message
// stays human-readable and is not part of the contract.
type ErrorKind string

const (
	ErrKindNotFound   ErrorKind = "NOT_FOUND"
	ErrKindValidation ErrorKind = "VALIDATION"
	ErrKindStore      ErrorKind = "STORE"
	ErrKindProtocol   ErrorKind = "PROTOCOL"
)

// ErrorEvent is sent only to the affected connection, never broadcast.
type ErrorEvent struct {
	Kind  ErrorKind `json:"kind"`
	Error string    `json:"error"`
}

// MarshalEvent builds an outbound envelope frame.
func MarshalEvent(eventType EventType, payload any) []byte {
	data, err := json.Marshal(struct {
		Type    EventType `json:"type"`
		Payload any       `json:"payload"`
	}{Type: eventType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return nil
	}
	return data
}

// MarshalError builds an outbound error frame.
func MarshalError(kind ErrorKind, message string) []byte {
	data, err := json.Marshal(ErrorEvent{Kind: kind, Error: message})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal error event")
		return nil
	}
	return data
}
