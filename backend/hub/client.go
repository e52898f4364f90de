// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package hub

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/efchatnet/efrooms/backend/models"
)

const sendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checking happens in the CORS middleware in front of the
	// upgrade handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live connection in the registry. Name, Room, PublicKey
// and Host are owned by the hub and mutated only from its dispatch loop.
type Client struct {
	ID        string
	Name      string
	Room      string
	PublicKey string
	Host      bool

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

// NewClient builds an unregistered connection record. conn may be nil
// when the transport is driven elsewhere (tests).
func NewClient(name string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.New().String(),
		Name: name,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *Client) view() models.MemberView {
	return models.MemberView{
		ID:        c.ID,
		Name:      c.Name,
		Room:      c.Room,
		PublicKey: c.PublicKey,
		Host:      c.Host,
	}
}

// deliver queues an event for the write pump. A consumer that cannot
// keep up loses events rather than stalling the dispatch loop.
func (c *Client) deliver(ev models.Event) {
	select {
	case c.send <- ev.Marshal():
	default:
		log.Printf("send buffer full, dropping event for %s", c.ID)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ServeWS upgrades an authenticated request and runs the connection's
// pumps. name is the identity label established by the login flow.
func ServeWS(h *Hub, name string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := NewClient(name, conn)
	h.Register(c)
	go c.writePump()
	go c.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := models.ParseEvent(raw)
		if err != nil {
			log.Printf("bad event from %s: %v", c.ID, err)
			continue
		}
		h.Dispatch(c, ev)
	}
}
