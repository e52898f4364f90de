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
	"sync"
	"testing"
	"time"

	"github.com/efchatnet/efrooms/backend/models"
	"github.com/efchatnet/efrooms/backend/storage"
)

// Tests drive the handlers directly instead of going through Run: the
// dispatch loop serializes them the same way, and calling them inline
// keeps everything deterministic.

func joinRoom(h *Hub, c *Client, room string) {
	h.handleJoin(c, models.JoinRoomPayload{
		Name:      c.Name,
		Room:      room,
		PublicKey: "pk-" + c.Name,
	})
}

// drain empties a client's send buffer into parsed events.
func drain(t *testing.T, c *Client) []models.Event {
	t.Helper()
	var events []models.Event
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return events
			}
			ev, err := models.ParseEvent(raw)
			if err != nil {
				t.Fatalf("bad event on wire: %v", err)
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventsOf(events []models.Event, name string) []models.Event {
	var out []models.Event
	for _, ev := range events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func hostCount(members []models.MemberView) int {
	n := 0
	for _, m := range members {
		if m.Host {
			n++
		}
	}
	return n
}

func TestFirstJoinerAndOnlyFirstJoinerIsHost(t *testing.T) {
	h := NewHub(nil)
	var clients []*Client
	for _, name := range []string{"a", "b", "c", "d"} {
		c := NewClient(name, nil)
		h.handleRegister(c)
		joinRoom(h, c, "alpha")
		clients = append(clients, c)
	}

	if !clients[0].Host {
		t.Fatal("first joiner is not host")
	}
	for _, c := range clients[1:] {
		if c.Host {
			t.Fatalf("%s is host but joined a non-empty room", c.Name)
		}
	}
	if n := hostCount(h.Members("alpha")); n != 1 {
		t.Fatalf("host count = %d, want 1", n)
	}
}

func TestUserJoinedGoesToHostOnly(t *testing.T) {
	h := NewHub(nil)
	host := NewClient("host", nil)
	member := NewClient("member", nil)
	h.handleRegister(host)
	h.handleRegister(member)
	joinRoom(h, host, "alpha")
	joinRoom(h, member, "alpha")
	drain(t, host)
	drain(t, member)

	joiner := NewClient("joiner", nil)
	h.handleRegister(joiner)
	joinRoom(h, joiner, "alpha")

	notified := eventsOf(drain(t, host), models.EventUserJoined)
	if len(notified) != 1 {
		t.Fatalf("host got %d userJoined events, want 1", len(notified))
	}
	var p models.UserJoinedPayload
	if err := notified[0].Decode(&p); err != nil {
		t.Fatalf("decode userJoined: %v", err)
	}
	if p.ID != joiner.ID || p.Name != "joiner" || p.PublicKey != "pk-joiner" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if got := eventsOf(drain(t, member), models.EventUserJoined); len(got) != 0 {
		t.Fatalf("non-host member got %d userJoined events", len(got))
	}
	if got := eventsOf(drain(t, joiner), models.EventUserJoined); len(got) != 0 {
		t.Fatalf("joiner got %d userJoined events about itself", len(got))
	}
}

func TestHostItselfGetsNoJoinNotification(t *testing.T) {
	h := NewHub(nil)
	host := NewClient("host", nil)
	h.handleRegister(host)
	joinRoom(h, host, "alpha")

	if got := eventsOf(drain(t, host), models.EventUserJoined); len(got) != 0 {
		t.Fatalf("host notified about its own join: %d events", len(got))
	}
}

func TestSendSessionKeyIsTargeted(t *testing.T) {
	h := NewHub(nil)
	host := NewClient("host", nil)
	member := NewClient("member", nil)
	other := NewClient("other", nil)
	for _, c := range []*Client{host, member, other} {
		h.handleRegister(c)
		joinRoom(h, c, "alpha")
		drain(t, c)
	}

	wrapped := []byte{0xde, 0xad, 0xbe, 0xef}
	h.handleSendSessionKey(host, models.SendSessionKeyPayload{
		To:           member.ID,
		EncryptedKey: wrapped,
	})

	delivered := eventsOf(drain(t, member), models.EventSessionKey)
	if len(delivered) != 1 {
		t.Fatalf("recipient got %d sessionKey events, want 1", len(delivered))
	}
	var p models.SessionKeyPayload
	if err := delivered[0].Decode(&p); err != nil {
		t.Fatalf("decode sessionKey: %v", err)
	}
	if p.From != host.ID {
		t.Fatalf("from = %s, want host %s", p.From, host.ID)
	}
	if string(p.EncryptedKey) != string(wrapped) {
		t.Fatal("wrapped key not relayed verbatim")
	}

	if got := eventsOf(drain(t, other), models.EventSessionKey); len(got) != 0 {
		t.Fatalf("sessionKey broadcast to %d bystanders", len(got))
	}
	if got := eventsOf(drain(t, host), models.EventSessionKey); len(got) != 0 {
		t.Fatal("sessionKey echoed to sender")
	}
}

func TestHostDisconnectLeavesRoomHostless(t *testing.T) {
	h := NewHub(nil)
	host := NewClient("a", nil)
	member := NewClient("b", nil)
	h.handleRegister(host)
	h.handleRegister(member)
	joinRoom(h, host, "alpha")
	joinRoom(h, member, "alpha")
	drain(t, member)

	h.handleUnregister(host)

	members := h.Members("alpha")
	if len(members) != 1 || members[0].Name != "b" {
		t.Fatalf("members after host left = %+v", members)
	}
	if hostCount(members) != 0 {
		t.Fatal("host flag reassigned after host departure")
	}

	events := drain(t, member)
	lists := eventsOf(events, models.EventUserList)
	if len(lists) == 0 {
		t.Fatal("no userList broadcast after disconnect")
	}
	var p models.UserListPayload
	if err := lists[len(lists)-1].Decode(&p); err != nil {
		t.Fatalf("decode userList: %v", err)
	}
	if len(p.Users) != 1 || p.Users[0].Name != "b" {
		t.Fatalf("broadcast member list = %+v", p.Users)
	}

	// A new joiner finds no host: membership updates, but nobody is
	// notified and no key delivery can happen.
	joiner := NewClient("c", nil)
	h.handleRegister(joiner)
	joinRoom(h, joiner, "alpha")
	if joiner.Host {
		t.Fatal("joiner elected host of a non-empty room")
	}
	if len(h.Members("alpha")) != 2 {
		t.Fatal("membership not updated for joiner")
	}
	for _, c := range []*Client{member, joiner} {
		if got := eventsOf(drain(t, c), models.EventUserJoined); len(got) != 0 {
			t.Fatalf("%s received userJoined in a hostless room", c.Name)
		}
	}
}

func TestEmptiedRoomDisappearsAndHostElectionResets(t *testing.T) {
	h := NewHub(nil)
	a := NewClient("a", nil)
	h.handleRegister(a)
	joinRoom(h, a, "alpha")
	h.handleUnregister(a)

	if rooms := h.ActiveRooms(); len(rooms) != 0 {
		t.Fatalf("active rooms = %v, want none", rooms)
	}

	// First joiner of the re-created room is host again.
	b := NewClient("b", nil)
	h.handleRegister(b)
	joinRoom(h, b, "alpha")
	if !b.Host {
		t.Fatal("first joiner of emptied room not elected host")
	}
}

func TestRejoinLeavesPreviousRoom(t *testing.T) {
	h := NewHub(nil)
	a := NewClient("a", nil)
	b := NewClient("b", nil)
	h.handleRegister(a)
	h.handleRegister(b)
	joinRoom(h, a, "alpha")
	joinRoom(h, b, "alpha")
	drain(t, b)

	joinRoom(h, a, "beta")

	if len(h.Members("alpha")) != 1 {
		t.Fatal("previous room still lists the mover")
	}
	if !a.Host {
		t.Fatal("mover not elected host of the empty room it joined")
	}
	notices := eventsOf(drain(t, b), models.EventMessage)
	found := false
	for _, ev := range notices {
		var m models.ChatMessage
		if ev.Decode(&m) == nil && m.Name == AdminName && m.Text == "a has left the room" {
			found = true
		}
	}
	if !found {
		t.Fatal("previous room got no departure notice")
	}
}

func TestMessageRelayedToWholeRoomAndPersisted(t *testing.T) {
	store := &recordingStore{appended: make(chan models.StoredMessage, 1)}
	h := NewHub(store)
	a := NewClient("a", nil)
	b := NewClient("b", nil)
	outsider := NewClient("x", nil)
	h.handleRegister(a)
	h.handleRegister(b)
	h.handleRegister(outsider)
	joinRoom(h, a, "alpha")
	joinRoom(h, b, "alpha")
	joinRoom(h, outsider, "beta")
	for _, c := range []*Client{a, b, outsider} {
		drain(t, c)
	}

	h.handleMessage(a, models.ChatMessage{
		Name: "a",
		EncryptionData: &models.EncryptionData{
			IV:               []byte{1, 2, 3},
			EncryptedContent: []byte{4, 5, 6},
		},
	})

	// Broadcast includes the sender; outsiders in other rooms see nothing.
	for _, c := range []*Client{a, b} {
		msgs := eventsOf(drain(t, c), models.EventMessage)
		if len(msgs) != 1 {
			t.Fatalf("%s got %d message events, want 1", c.Name, len(msgs))
		}
		var m models.ChatMessage
		if err := msgs[0].Decode(&m); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if m.EncryptionData == nil || m.Text != "" {
			t.Fatalf("relay altered the envelope: %+v", m)
		}
		if m.Date.IsZero() {
			t.Fatal("relay did not stamp the envelope")
		}
	}
	if got := eventsOf(drain(t, outsider), models.EventMessage); len(got) != 0 {
		t.Fatalf("message leaked to another room: %d events", len(got))
	}

	select {
	case stored := <-store.appended:
		if stored.Room != "alpha" || stored.Username != "a" || stored.ConnectionID != a.ID {
			t.Fatalf("stored = %+v", stored)
		}
		if len(stored.Body) == 0 {
			t.Fatal("stored body empty")
		}
	case <-time.After(time.Second):
		t.Fatal("message never persisted")
	}
}

func TestMessageOutsideRoomNotRelayed(t *testing.T) {
	store := &recordingStore{appended: make(chan models.StoredMessage, 1)}
	h := NewHub(store)
	a := NewClient("a", nil)
	h.handleRegister(a)
	drain(t, a)

	h.handleMessage(a, models.ChatMessage{Name: "a", Text: "hello?"})

	if got := eventsOf(drain(t, a), models.EventMessage); len(got) != 0 {
		t.Fatal("roomless message relayed")
	}
	select {
	case <-store.appended:
		t.Fatal("roomless message persisted")
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingStore struct {
	mu       sync.Mutex
	appended chan models.StoredMessage
}

var _ storage.MessageStore = (*recordingStore)(nil)

func (s *recordingStore) Append(room, sender, senderConn string, body []byte, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended <- models.StoredMessage{
		Room:         room,
		Username:     sender,
		ConnectionID: senderConn,
		Body:         body,
		SentAt:       sentAt,
	}
	return nil
}

func (s *recordingStore) History(room string, limit int) ([]models.StoredMessage, error) {
	return nil, nil
}
