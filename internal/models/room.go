package models

// Room is a named lottery room. Slug is the shareable identifier clients
// join with; ID is the store-assigned key members reference.
type Room struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}
