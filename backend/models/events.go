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

package models

import (
	"encoding/json"
	"fmt"
)

// Wire event names. This is a closed set: anything else on the socket is
// a protocol error, not an extension point.
const (
	EventConnected      = "connected"
	EventJoinRoom       = "join room"
	EventMessage        = "message"
	EventSendSessionKey = "sendSessionKey"
	EventSessionKey     = "sessionKey"
	EventUserList       = "userList"
	EventRoomList       = "roomList"
	EventUserJoined     = "userJoined"
)

// Event is the framing for everything on the websocket: a name from the
// closed set above plus one payload shape per name.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedPayload announces the server-assigned connection id.
type ConnectedPayload struct {
	ID string `json:"id"`
}

// JoinRoomPayload asks to join a room, carrying the joiner's exported
// public key for session-key delivery.
type JoinRoomPayload struct {
	Name      string `json:"name"`
	Room      string `json:"room"`
	PublicKey string `json:"publickey"`
}

// SendSessionKeyPayload is a host-to-server request to relay a wrapped
// session key to exactly one connection.
type SendSessionKeyPayload struct {
	To           string `json:"to"`
	EncryptedKey []byte `json:"encryptedKey"`
}

// SessionKeyPayload is the targeted delivery of a wrapped session key.
type SessionKeyPayload struct {
	From         string `json:"from"`
	EncryptedKey []byte `json:"encryptedKey"`
}

// UserListPayload lists the members of one room.
type UserListPayload struct {
	Users []MemberView `json:"users"`
}

// RoomListPayload lists the distinct active room ids.
type RoomListPayload struct {
	Rooms []string `json:"rooms"`
}

// UserJoinedPayload notifies the room host, and only the host, of a new
// member so it can deliver the session key.
type UserJoinedPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"publickey"`
}

// NewEvent wraps a payload in an Event. Payloads are the fixed structs
// above, so a marshal failure here would be a programming error.
func NewEvent(name string, payload interface{}) Event {
	data, _ := json.Marshal(payload)
	return Event{Event: name, Data: data}
}

// ParseEvent decodes the framing and checks the name against the closed
// set. Payload decoding is left to the dispatching switch.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", err)
	}
	switch ev.Event {
	case EventConnected, EventJoinRoom, EventMessage, EventSendSessionKey,
		EventSessionKey, EventUserList, EventRoomList, EventUserJoined:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("unknown event %q", ev.Event)
	}
}

// Decode unmarshals the event payload into the shape for its variant.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("bad %s payload: %w", e.Event, err)
	}
	return nil
}

// Marshal returns the wire form of the event.
func (e Event) Marshal() []byte {
	data, _ := json.Marshal(e)
	return data
}
