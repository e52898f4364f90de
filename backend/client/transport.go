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

package client

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/efchatnet/efrooms/backend/models"
)

// Conn is the websocket transport to the relay.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Dial connects to the relay's websocket endpoint with the JWT from the
// login flow.
func Dial(url, token string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// Emit writes one event. Safe for concurrent use; gorilla allows only
// one writer at a time.
func (c *Conn) Emit(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, ev.Marshal())
}

// ReadEvent blocks for the next server event.
func (c *Conn) ReadEvent() (models.Event, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return models.Event{}, err
	}
	return models.ParseEvent(raw)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}
