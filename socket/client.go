package socket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"senarai/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows connections from the dev frontend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live authenticated connection. A client can sit in many
// rooms at once; the rooms set is guarded by the hub mutex.
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	UserID string
	Send   chan []byte

	rooms  map[string]bool
	closed bool
}

// ServeWs upgrades an authenticated request and eager-subscribes the session
// to every room the user can access, so the first event needs no round trip.
func ServeWs(hub *Hub, access Access, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
	}
	hub.Register(client)

	listIDs, err := access.ListIDsForUser(userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to load rooms for user %s: %v", userID, err)
		hub.Remove(client)
		conn.Close()
		return
	}
	for _, listID := range listIDs {
		hub.Join(client, listID)
	}

	go client.writePump()
	go client.readPump(access)
}

// readPump consumes advisory room control messages until the connection
// drops, then removes the session from every room.
func (c *Client) readPump(access Access) {
	defer func() {
		c.Hub.Remove(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg ControlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling control message: %v", err)
			continue
		}
		if msg.ListID == "" {
			continue
		}

		switch msg.Type {
		case JoinListType:
			ok, err := access.CanView(c.UserID, msg.ListID)
			if err != nil || !ok {
				logger.Sugar.Warnf("User %s denied join to list %s", c.UserID, msg.ListID)
				continue
			}
			c.Hub.Join(c, msg.ListID)
		case LeaveListType:
			c.Hub.Leave(c, msg.ListID)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub removed this session.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}
