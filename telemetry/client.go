package telemetry

import "github.com/gorilla/websocket"

// client is one websocket connection in a room.
type client struct {
	socket *websocket.Conn
	send   chan []byte
	room   *Room
}

// read drains inbound messages until the peer goes away. Telemetry is
// one-way; inbound payloads are discarded.
func (c *client) read() {
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			break
		}
	}
	c.socket.Close()
}

func (c *client) write() {
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	c.socket.Close()
}
