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

// Package client implements the protocol endpoint: identity key
// handling, host-side session key generation and delivery, the
// encrypt-or-fallback send path, and the ordered timeline with deferred
// decryption.
package client

import (
	"crypto/rsa"
	"fmt"
	"log"
	"sync"

	"github.com/efchatnet/efrooms/backend/crypto"
	"github.com/efchatnet/efrooms/backend/models"
)

// Transport sends wire events to the relay. The websocket Conn in this
// package implements it; tests substitute a recorder.
type Transport interface {
	Emit(ev models.Event) error
}

// Client holds the per-connection protocol state. HandleEvent is driven
// by whatever loop reads the transport; decryption of individual
// envelopes runs in goroutines and patches the timeline in place.
type Client struct {
	name      string
	priv      *rsa.PrivateKey
	transport Transport
	timeline  *Timeline

	mu      sync.Mutex
	id      string
	room    string
	session *crypto.SessionKey
	users   []models.MemberView
	rooms   []string

	decrypts sync.WaitGroup

	// OnEntry, if set, is called after an entry is appended or patched.
	// index addresses the entry in the timeline.
	OnEntry func(index int, e Entry)
}

// New creates a client for one identity. priv is the long-lived
// identity key; it never leaves the process.
func New(name string, priv *rsa.PrivateKey, transport Transport) *Client {
	return &Client{
		name:      name,
		priv:      priv,
		transport: transport,
		timeline:  NewTimeline(),
	}
}

// Join asks the relay to move this connection into a room, advertising
// the public half of the identity key for session-key delivery.
func (c *Client) Join(room string) error {
	publicKey, err := crypto.ExportPublicKeyBase64(&c.priv.PublicKey)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.room = room
	c.session = nil
	c.mu.Unlock()
	return c.transport.Emit(models.NewEvent(models.EventJoinRoom, models.JoinRoomPayload{
		Name:      c.name,
		Room:      room,
		PublicKey: publicKey,
	}))
}

// Send encrypts text under the room session key and emits it. Without a
// key the message goes out as plaintext rather than blocking the room;
// encryption only starts once key distribution has completed.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	msg := models.ChatMessage{Name: c.name}
	if session != nil {
		data, err := session.Encrypt(text)
		if err != nil {
			return fmt.Errorf("failed to encrypt message: %w", err)
		}
		msg.EncryptionData = data
	} else {
		msg.Text = text
	}
	return c.transport.Emit(models.NewEvent(models.EventMessage, msg))
}

// HandleEvent dispatches one server event. The event set is closed;
// anything else is an error.
func (c *Client) HandleEvent(ev models.Event) error {
	switch ev.Event {
	case models.EventConnected:
		var p models.ConnectedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		c.mu.Lock()
		c.id = p.ID
		c.mu.Unlock()
		return nil

	case models.EventUserList:
		var p models.UserListPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return c.handleUserList(p)

	case models.EventRoomList:
		var p models.RoomListPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		c.mu.Lock()
		c.rooms = p.Rooms
		c.mu.Unlock()
		return nil

	case models.EventUserJoined:
		var p models.UserJoinedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return c.handleUserJoined(p)

	case models.EventSessionKey:
		var p models.SessionKeyPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return c.handleSessionKey(p)

	case models.EventMessage:
		var m models.ChatMessage
		if err := ev.Decode(&m); err != nil {
			return err
		}
		c.handleMessage(m)
		return nil

	default:
		return fmt.Errorf("unexpected %q event", ev.Event)
	}
}

// handleUserList updates the member view and, when this connection has
// just been elected host of an empty room, generates the room's session
// key. Generation is local; nothing goes on the wire until a member
// joins.
func (c *Client) handleUserList(p models.UserListPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = p.Users

	for _, u := range p.Users {
		if u.ID == c.id && u.Host && c.session == nil {
			session, err := crypto.GenerateSessionKey()
			if err != nil {
				return fmt.Errorf("failed to generate session key: %w", err)
			}
			c.session = session
			log.Printf("elected host of %s, session key generated", u.Room)
		}
	}
	return nil
}

// handleUserJoined is the host's half of key distribution: wrap the
// session key under the joiner's public key and ask the relay for a
// targeted delivery. If the key does not exist yet (the joiner raced
// key generation), nothing is sent; the joiner stays keyless until a
// later join re-triggers delivery.
func (c *Client) handleUserJoined(p models.UserJoinedPayload) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil
	}

	pub, err := crypto.ImportPublicKeyBase64(p.PublicKey)
	if err != nil {
		return fmt.Errorf("bad public key for %s: %w", p.Name, err)
	}
	wrapped, err := crypto.WrapSessionKey(session, pub)
	if err != nil {
		return err
	}
	return c.transport.Emit(models.NewEvent(models.EventSendSessionKey,
		models.SendSessionKeyPayload{To: p.ID, EncryptedKey: wrapped}))
}

// handleSessionKey unwraps a delivered key, installs it, and re-resolves
// every pending timeline entry exactly once in arrival order.
func (c *Client) handleSessionKey(p models.SessionKeyPayload) error {
	session, err := crypto.UnwrapSessionKey(p.EncryptedKey, c.priv)
	if err != nil {
		return fmt.Errorf("failed to unwrap session key: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	for _, index := range c.timeline.Resolve(session) {
		c.notify(index)
	}
	return nil
}

// handleMessage appends the envelope immediately, preserving arrival
// order, then decrypts asynchronously if a key is held. Without a key
// the entry stays pending until handleSessionKey resolves it.
func (c *Client) handleMessage(m models.ChatMessage) {
	index := c.timeline.Append(m)
	c.notify(index)

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if m.EncryptionData != nil && session != nil {
		c.decrypts.Add(1)
		go func() {
			defer c.decrypts.Done()
			c.timeline.Decrypt(index, session)
			c.notify(index)
		}()
	}
}

func (c *Client) notify(index int) {
	if c.OnEntry != nil {
		c.OnEntry(index, c.timeline.Entry(index))
	}
}

// Wait blocks until all in-flight decryptions have settled.
func (c *Client) Wait() {
	c.decrypts.Wait()
}

// Timeline returns the client's message sequence.
func (c *Client) Timeline() *Timeline {
	return c.timeline
}

// ID returns the server-assigned connection id.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Room returns the current room.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// HasSessionKey reports whether encrypted send/receive is possible yet.
func (c *Client) HasSessionKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Users returns the latest member list for the current room.
func (c *Client) Users() []models.MemberView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.MemberView(nil), c.users...)
}

// Rooms returns the latest active-room listing.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rooms...)
}
