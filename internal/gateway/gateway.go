package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mwynn/tombola/internal/registry"
	"github.com/rs/zerolog/log"
)

// Inbound command types of the wire protocol.
const (
	TypeJoin         = "JOIN"
	TypeAddUser      = "ADD_USER"
	TypeUserVacation = "USER_VACATION"
	TypeUserWon      = "USER_WON"
	TypeDeleteUser   = "DELETE_USER"
	TypeDraw         = "DRAW"
)

// Config holds configuration for websocket connections
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default websocket configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Gateway accepts realtime connections on a single endpoint and routes their
// commands to room sessions. A connection is not bound to a room until its
// JOIN command names one.
type Gateway struct {
	registry *registry.Registry
	upgrader websocket.Upgrader
	config   Config
}

// New creates a gateway backed by the given registry.
func New(reg *registry.Registry, config Config) *Gateway {
	return &Gateway{
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// HandleWS upgrades an HTTP request to a websocket connection.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		gw:   g,
		conn: conn,
		send: make(chan []byte, g.config.SendBufferSize),
	}
	go c.writePump()
	go c.readPump()

	log.Info().Str("connection_id", c.id).Str("remote", r.RemoteAddr).Msg("websocket connection established")
}

// RegisterRoutes registers the websocket endpoint with an HTTP mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.HandleWS)
}
