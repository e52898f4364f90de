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
	"time"
)

// EncryptionData carries an AES-GCM ciphertext and the IV it was sealed
// with. The relay treats both as opaque byte sequences.
type EncryptionData struct {
	IV               []byte `json:"iv"`
	EncryptedContent []byte `json:"encryptedContent"`
}

// ChatMessage is the wire envelope for chat traffic. Either Text or
// EncryptionData is set: plaintext fallback before a session key is held,
// ciphertext once encryption is up. Admin notices are always plaintext.
type ChatMessage struct {
	Name           string          `json:"name"`
	Text           string          `json:"text,omitempty"`
	EncryptionData *EncryptionData `json:"encryptionData,omitempty"`
	Date           time.Time       `json:"date"`
}

// StoredMessage is the persisted form of an envelope. Body holds the
// marshaled content (plaintext or ciphertext) exactly as relayed; the
// store never needs to understand it.
type StoredMessage struct {
	ID           string    `json:"id" db:"id"`
	Room         string    `json:"room" db:"room"`
	Username     string    `json:"username" db:"username"`
	ConnectionID string    `json:"connection_id" db:"connection_id"`
	Body         []byte    `json:"body" db:"body"`
	SentAt       time.Time `json:"sent_at" db:"sent_at"`
}
