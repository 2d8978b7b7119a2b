package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mwynn/tombola/internal/session"
	"github.com/mwynn/tombola/internal/store"
	"github.com/rs/zerolog/log"
)

// client is one websocket connection. It implements session.Subscriber; the
// sess field is written only by the read pump, so it needs no locking.
type client struct {
	id   string
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte

	sess      *session.Session
	closeOnce sync.Once
}

// Deliver queues an outbound frame; false means the send buffer is full.
func (c *client) Deliver(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close tears down the transport. Both pumps exit once the conn is closed.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// writePump handles sending messages to the websocket connection
func (c *client) writePump() {
	ticker := time.NewTicker(c.gw.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.config.WriteTimeout))
			if message == nil {
				// sentinel from closeSoon: flush done, say goodbye
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the websocket connection
func (c *client) readPump() {
	defer func() {
		if c.sess != nil {
			if err := c.sess.Disconnect(c); err != nil {
				log.Debug().Str("connection_id", c.id).Msg("disconnect on stopped session")
			}
		}
		c.Close()
		log.Info().Str("connection_id", c.id).Msg("websocket connection closed")
	}()

	c.conn.SetReadLimit(c.gw.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.handleMessage(message)
		c.conn.SetReadDeadline(time.Now().Add(c.gw.config.ReadTimeout))
	}
}

// handleMessage parses one inbound frame and routes it. Protocol and
// validation problems are reported to this connection only and never close
// it; only a failed JOIN is fatal.
func (c *client) handleMessage(message []byte) {
	var env session.Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		log.Debug().Str("connection_id", c.id).Msg("unparseable message")
		c.sendError(session.ErrKindProtocol, "could not parse message")
		return
	}

	if env.Type == TypeJoin {
		c.handleJoin(env.Payload)
		return
	}

	if c.sess == nil {
		c.sendError(session.ErrKindValidation, "not joined to a room")
		return
	}

	var err error
	switch env.Type {
	case TypeAddUser:
		var p struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(env.Payload, &p) != nil {
			c.sendError(session.ErrKindValidation, "invalid ADD_USER payload")
			return
		}
		err = c.sess.AddMember(c, p.Name)

	case TypeUserVacation:
		var p struct {
			ID         string `json:"id"`
			IsVacation bool   `json:"isVacation"`
		}
		if json.Unmarshal(env.Payload, &p) != nil {
			c.sendError(session.ErrKindValidation, "invalid USER_VACATION payload")
			return
		}
		id, ok := c.parseMemberID(p.ID)
		if !ok {
			return
		}
		err = c.sess.SetVacation(c, id, p.IsVacation)

	case TypeUserWon:
		var p struct {
			ID     string `json:"id"`
			HasWon bool   `json:"hasWon"`
		}
		if json.Unmarshal(env.Payload, &p) != nil {
			c.sendError(session.ErrKindValidation, "invalid USER_WON payload")
			return
		}
		id, ok := c.parseMemberID(p.ID)
		if !ok {
			return
		}
		err = c.sess.SetWon(c, id, p.HasWon)

	case TypeDeleteUser:
		var p struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(env.Payload, &p) != nil {
			c.sendError(session.ErrKindValidation, "invalid DELETE_USER payload")
			return
		}
		id, ok := c.parseMemberID(p.ID)
		if !ok {
			return
		}
		err = c.sess.RemoveMember(c, id)

	case TypeDraw:
		err = c.sess.Draw(c)

	default:
		log.Warn().Str("connection_id", c.id).Str("type", env.Type).Msg("unknown message type")
		return
	}

	if errors.Is(err, session.ErrSessionClosed) {
		log.Warn().Str("connection_id", c.id).Str("type", env.Type).Msg("command hit stopped session")
		c.sendError(session.ErrKindValidation, "room session closed, rejoin")
		c.closeSoon()
	}
}

// handleJoin resolves the room through the registry and attaches this
// connection to its session. An unknown room is a hard close.
func (c *client) handleJoin(payload json.RawMessage) {
	if c.sess != nil {
		c.sendError(session.ErrKindValidation, "already joined to a room")
		return
	}

	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		c.sendError(session.ErrKindValidation, "missing roomId")
		c.closeSoon()
		return
	}

	ctx := context.Background()
	sess, err := c.gw.registry.GetOrLoad(ctx, p.RoomID)
	if err == nil {
		joinErr := sess.Join(c)
		if errors.Is(joinErr, session.ErrSessionClosed) {
			// lost a race with eviction, the registry will build a fresh session
			sess, err = c.gw.registry.GetOrLoad(ctx, p.RoomID)
			if err == nil {
				joinErr = sess.Join(c)
			}
		}
		if err == nil && joinErr != nil {
			err = joinErr
		}
	}

	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		log.Warn().Str("connection_id", c.id).Str("room", p.RoomID).Msg("join attempt for nonexistent room")
		c.sendError(session.ErrKindNotFound, "room not found")
		c.closeSoon()
		return
	case errors.Is(err, session.ErrSessionClosed):
		// lost the eviction race twice, the client should reconnect and retry
		log.Warn().Str("connection_id", c.id).Str("room", p.RoomID).Msg("room session stopped during join")
		c.sendError(session.ErrKindValidation, "room is restarting, retry")
		c.closeSoon()
		return
	case err != nil:
		log.Error().Err(err).Str("connection_id", c.id).Str("room", p.RoomID).Msg("failed to load room")
		c.sendError(session.ErrKindStore, "database error")
		c.closeSoon()
		return
	}

	c.sess = sess
	log.Info().Str("connection_id", c.id).Str("room", p.RoomID).Msg("connection joined room")
}

func (c *client) parseMemberID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.sendError(session.ErrKindValidation, "invalid member id")
		return 0, false
	}
	return id, true
}

func (c *client) sendError(kind session.ErrorKind, message string) {
	if !c.Deliver(session.MarshalError(kind, message)) {
		c.Close()
	}
}

// closeSoon ends the connection gracefully: a nil sentinel queued behind any
// pending error frame makes the write pump flush, emit a close frame and
// exit. Falls back to a hard close if the buffer is full.
func (c *client) closeSoon() {
	select {
	case c.send <- nil:
	default:
		c.Close()
	}
}
