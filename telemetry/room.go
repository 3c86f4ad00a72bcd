// Package telemetry streams control-loop records to websocket clients.
// Client-Server pattern adapted from Mat Ryer's Go Blueprints examples,
// see https://github.com/matryer/goblueprints
package telemetry

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// Room fans telemetry frames out to every connected websocket client.
type Room struct {
	// forward holds frames that should go out to all clients.
	forward chan []byte
	// join is a channel for clients wishing to join the room.
	join chan *client
	// leave is a channel for clients wishing to leave the room.
	leave chan *client
	// clients holds all current clients in this room.
	clients map[*client]bool
}

// NewRoom makes a new room that is ready to go.
func NewRoom() *Room {
	return &Room{
		forward: make(chan []byte),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
	}
}

func (r *Room) Run() {
	for {
		select {
		case client := <-r.join:
			r.clients[client] = true
			log.Println("telemetry: new client joined")
		case client := <-r.leave:
			delete(r.clients, client)
			close(client.send)
			log.Println("telemetry: client left")
		case msg := <-r.forward:
			// a client that cannot keep up just misses this frame
			for client := range r.clients {
				select {
				case client.send <- msg:
				default:
				}
			}
		}
	}
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 10
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("telemetry: upgrade:", err)
		return
	}
	client := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		room:   r,
	}
	r.join <- client
	defer func() { r.leave <- client }()
	go client.write()
	client.read()
}
