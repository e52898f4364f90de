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
	"testing"
)

func TestEventRoundTrip(t *testing.T) {
	ev := NewEvent(EventJoinRoom, JoinRoomPayload{
		Name:      "alice",
		Room:      "alpha",
		PublicKey: "a2V5",
	})

	parsed, err := ParseEvent(ev.Marshal())
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	var p JoinRoomPayload
	if err := parsed.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Name != "alice" || p.Room != "alpha" || p.PublicKey != "a2V5" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestParseEventRejectsOutsideClosedSet(t *testing.T) {
	cases := map[string][]byte{
		"unknown name":  []byte(`{"event":"eval","data":{}}`),
		"missing name":  []byte(`{"data":{}}`),
		"not an object": []byte(`"join room"`),
		"malformed":     []byte(`{"event":`),
	}
	for name, raw := range cases {
		if _, err := ParseEvent(raw); err == nil {
			t.Errorf("%s: accepted %q", name, raw)
		}
	}
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	ev := Event{Event: EventSessionKey, Data: []byte(`{"encryptedKey":"?not-base64?"}`)}
	var p SessionKeyPayload
	if err := ev.Decode(&p); err == nil {
		t.Fatal("decoded invalid base64 into []byte payload")
	}
}
