package rooms

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler exposes room creation over HTTP.
type Handler struct {
	app *App
}

// NewHandler creates a new rooms HTTP handler
func NewHandler(app *App) *Handler {
	return &Handler{
		app: app,
	}
}

type createRoomResponse struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.app.CreateRoom(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("room creation failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "could not create room"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(createRoomResponse{
		RoomID:  room.Slug,
		Message: "Room created successfully",
	}); err != nil {
		log.Error().Err(err).Msg("failed to write create room response")
	}
}

// RegisterRoutes registers the room API with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.handleCreateRoom)
}
