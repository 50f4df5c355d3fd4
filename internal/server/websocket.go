package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

// Client streams execution snapshots to a WebSocket connection. An empty
// execution id streams the snapshots of every execution
type Client struct {
	conn        *websocket.Conn
	consumer    topic.Consumer[*api.Execution]
	executionID string
	closeOnce   sync.Once
}

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	id := c.Query("execution")

	// subscribe before the upgrade so no snapshot emitted in between is lost
	consumer := s.deps.Queues.Executions.Subscribe()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		consumer.Close()
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	client := &Client{
		conn:        conn,
		consumer:    consumer,
		executionID: id,
	}
	s.registerWebSocket(client)

	var initial *api.Execution
	if id != "" {
		initial, _ = s.deps.Executions.FindByID(c.Request.Context(), id)
	}

	go func() {
		defer s.unregisterWebSocket(client)
		client.run(initial)
	}()
}

// Close terminates the connection, which stops the client's stream
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func (c *Client) run(initial *api.Execution) {
	defer func() {
		c.consumer.Close()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if initial != nil && !c.send(initial) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case _, ok := <-incoming:
			if !ok {
				return
			}

		case e, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.matches(e) {
				continue
			}
			if !c.send(e) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- message:
		default:
		}
	}
}

func (c *Client) matches(e *api.Execution) bool {
	return c.executionID == "" || e.ID == c.executionID
}

func (c *Client) send(e *api.Execution) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(e); err != nil {
		slog.Error("WebSocket write failed",
			log.ExecutionID(e.ID),
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
