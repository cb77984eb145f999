package socket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"kolab/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows the dev frontend on a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one authenticated websocket connection. A single connection
// multiplexes every resource room the user has joined.
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	UserID    string
	Username  string
	SessionID string
	Send      chan []byte

	done  chan struct{}
	rooms map[string]bool // guarded by Hub.mu
}

// ServeWs upgrades the HTTP request and registers the connection with the
// hub. Identity comes from the auth middleware, never from the client.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:       hub,
		Conn:      conn,
		UserID:    userID,
		Username:  username,
		SessionID: ulid.Make().String(),
		Send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		rooms:     make(map[string]bool),
	}

	// Client pings double as presence keepalives for idle viewers.
	conn.SetPingHandler(func(appData string) error {
		hub.touchAll(client)
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(5*time.Second))
	})

	client.Hub.Register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}
		if !msg.Type.Valid() {
			logger.Sugar.Warnf("Rejected unknown event type %q from %s", msg.Type, c.UserID)
			continue
		}
		if !msg.Domain.Valid() {
			logger.Sugar.Warnf("Rejected unknown domain %q from %s", msg.Domain, c.UserID)
			continue
		}

		// Server-authoritative identity: prevent spoofing on behalf of others.
		msg.UserID = c.UserID
		msg.Username = c.Username

		c.Hub.Inbound <- inboundMessage{client: c, msg: msg}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.Send:
			c.Conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // connection is dead
			}
		case <-c.done:
			return
		}
	}
}
