package models

// Member is a participant recorded within a room. IsVacation excludes the
// member from draw eligibility without removing them; HasWon marks the
// member as already selected in the current cycle.
type Member struct {
	ID         int64  `json:"id"`
	RoomID     int64  `json:"room_id"`
	Name       string `json:"name"`
	IsVacation bool   `json:"is_vacation"`
	HasWon     bool   `json:"has_won"`
}
