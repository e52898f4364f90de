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

// Package hub is the relay core: the registry of live connections, room
// membership with host election, and the broadcast/targeted delivery of
// wire events. All room state is mutated from a single dispatch loop, so
// join/leave/message handling for a given connection never races.
package hub

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/efchatnet/efrooms/backend/models"
	"github.com/efchatnet/efrooms/backend/storage"
)

// AdminName labels server-generated notices in the chat stream.
const AdminName = "admin"

type inbound struct {
	client *Client
	event  models.Event
}

// Hub owns every live connection and room. It is created at process
// start and handed to the transport layer; nothing reaches its state
// except through Register/Unregister/Dispatch and the run loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string][]*Client // members in join order

	register   chan *Client
	unregister chan *Client
	events     chan inbound

	store storage.MessageStore
}

// NewHub creates an empty hub. The message store may be nil in tests;
// persistence is best-effort either way.
func NewHub(store storage.MessageStore) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan inbound),
		store:      store,
	}
}

// Run is the dispatch loop. Handlers complete each mutation before the
// next event is taken, which is the whole concurrency story for room
// state.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case in := <-h.events:
			h.handleEvent(in.client, in.event)
		}
	}
}

// Register announces a new connection to the loop.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a dropped connection.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Dispatch hands an inbound wire event to the loop.
func (h *Hub) Dispatch(c *Client, ev models.Event) {
	h.events <- inbound{client: c, event: ev}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	c.deliver(models.NewEvent(models.EventConnected, models.ConnectedPayload{ID: c.ID}))
	c.deliver(models.NewEvent(models.EventMessage, adminMsg("Welcome to the chat!")))
	h.broadcastRoomList()
	log.Printf("connection registered: %s (%s)", c.ID, c.Name)
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	room := c.Room
	if room != "" {
		h.removeFromRoom(c)
	}
	h.mu.Unlock()

	if room != "" {
		h.broadcastRoom(room, models.NewEvent(models.EventMessage,
			adminMsg(c.Name+" has left the room")))
		h.broadcastUserList(room)
		h.broadcastRoomList()
	}
	c.close()
	log.Printf("connection closed: %s (%s)", c.ID, c.Name)
}

func (h *Hub) handleEvent(c *Client, ev models.Event) {
	switch ev.Event {
	case models.EventJoinRoom:
		var p models.JoinRoomPayload
		if err := ev.Decode(&p); err != nil {
			log.Printf("drop event from %s: %v", c.ID, err)
			return
		}
		h.handleJoin(c, p)
	case models.EventSendSessionKey:
		var p models.SendSessionKeyPayload
		if err := ev.Decode(&p); err != nil {
			log.Printf("drop event from %s: %v", c.ID, err)
			return
		}
		h.handleSendSessionKey(c, p)
	case models.EventMessage:
		var m models.ChatMessage
		if err := ev.Decode(&m); err != nil {
			log.Printf("drop event from %s: %v", c.ID, err)
			return
		}
		h.handleMessage(c, m)
	default:
		// Server-to-client events arriving inbound are a client bug.
		log.Printf("drop unexpected %q event from %s", ev.Event, c.ID)
	}
}

// handleJoin moves a connection into a room, electing it host if the
// room was empty. The current host (if any, and if it is not the joiner)
// gets a targeted userJoined notification carrying the joiner's public
// key so it can deliver the session key.
func (h *Hub) handleJoin(c *Client, p models.JoinRoomPayload) {
	h.mu.Lock()
	prevRoom := c.Room
	if prevRoom != "" {
		h.removeFromRoom(c)
	}

	host := len(h.rooms[p.Room]) == 0
	c.Name = p.Name
	c.Room = p.Room
	c.PublicKey = p.PublicKey
	c.Host = host
	h.rooms[p.Room] = append(h.rooms[p.Room], c)
	roomHost := h.hostOf(p.Room)
	h.mu.Unlock()

	if prevRoom != "" {
		h.broadcastRoom(prevRoom, models.NewEvent(models.EventMessage,
			adminMsg(c.Name+" has left the room")))
	}

	c.deliver(models.NewEvent(models.EventMessage,
		adminMsg("Welcome to the "+p.Room+" room!")))
	h.broadcastRoomExcept(p.Room, c, models.NewEvent(models.EventMessage,
		adminMsg(c.Name+" has joined the room")))

	if !host && roomHost != nil {
		roomHost.deliver(models.NewEvent(models.EventUserJoined, models.UserJoinedPayload{
			ID:        c.ID,
			Name:      c.Name,
			PublicKey: c.PublicKey,
		}))
	}

	h.broadcastUserList(p.Room)
	h.broadcastRoomList()
}

// handleSendSessionKey relays a wrapped session key to exactly one
// connection. The payload is already encrypted under the recipient's
// public key; the hub never inspects it.
func (h *Hub) handleSendSessionKey(c *Client, p models.SendSessionKeyPayload) {
	h.mu.RLock()
	target, ok := h.clients[p.To]
	h.mu.RUnlock()
	if !ok {
		log.Printf("sessionKey for unknown connection %s dropped", p.To)
		return
	}
	target.deliver(models.NewEvent(models.EventSessionKey, models.SessionKeyPayload{
		From:         c.ID,
		EncryptedKey: p.EncryptedKey,
	}))
}

// handleMessage stamps and relays an envelope to the sender's room and
// appends it to the message store. Persistence is best-effort: a store
// failure is logged and never blocks or fails the relay.
func (h *Hub) handleMessage(c *Client, m models.ChatMessage) {
	room := c.Room
	if room == "" {
		return
	}
	m.Date = time.Now().UTC()

	ev := models.NewEvent(models.EventMessage, m)
	h.broadcastRoom(room, ev)

	if h.store != nil {
		body := ev.Data
		sentAt := m.Date
		id := c.ID
		go func() {
			if err := h.store.Append(room, m.Name, id, body, sentAt); err != nil {
				log.Printf("failed to persist message in %s: %v", room, err)
			}
		}()
	}
}

// removeFromRoom drops c from its room's member list. No host
// re-election happens here: a room whose host leaves stays host-less
// until it empties out and a fresh first joiner is elected.
// Callers hold h.mu.
func (h *Hub) removeFromRoom(c *Client) {
	members := h.rooms[c.Room]
	for i, m := range members {
		if m.ID == c.ID {
			h.rooms[c.Room] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(h.rooms[c.Room]) == 0 {
		delete(h.rooms, c.Room)
	}
	c.Room = ""
	c.Host = false
}

// hostOf returns the room's host connection, or nil. Callers hold h.mu.
func (h *Hub) hostOf(room string) *Client {
	for _, m := range h.rooms[room] {
		if m.Host {
			return m
		}
	}
	return nil
}

// Members returns a snapshot of one room's member views in join order.
func (h *Hub) Members(room string) []models.MemberView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]models.MemberView, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c.view())
	}
	return members
}

// ActiveRooms returns the sorted ids of rooms with at least one member.
func (h *Hub) ActiveRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (h *Hub) broadcastUserList(room string) {
	h.broadcastRoom(room, models.NewEvent(models.EventUserList,
		models.UserListPayload{Users: h.Members(room)}))
}

func (h *Hub) broadcastRoomList() {
	ev := models.NewEvent(models.EventRoomList,
		models.RoomListPayload{Rooms: h.ActiveRooms()})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.deliver(ev)
	}
}

func (h *Hub) broadcastRoom(room string, ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		c.deliver(ev)
	}
}

func (h *Hub) broadcastRoomExcept(room string, except *Client, ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		if c.ID != except.ID {
			c.deliver(ev)
		}
	}
}

func adminMsg(text string) models.ChatMessage {
	return models.ChatMessage{Name: AdminName, Text: text, Date: time.Now().UTC()}
}
