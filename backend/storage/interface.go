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

package storage

import (
	"errors"
	"time"

	"github.com/efchatnet/efrooms/backend/models"
)

// ErrNotFound is returned for lookups of unknown users or rooms.
var ErrNotFound = errors.New("not found")

// IdentityStore is the identity-directory boundary. The relay core only
// reads public keys and connection associations; credential checking
// lives in the login handler.
type IdentityStore interface {
	Register(username, passwordHash string, publicKey []byte) (*models.User, error)
	GetUser(username string) (*models.User, error)
	GetPublicKey(username string) ([]byte, error)
	UpdateConnection(username, connectionID string) error
}

// MessageStore is the durable message-history boundary. Append receives
// the relayed body exactly as broadcast, encrypted or not; failures are
// the caller's to log, never to propagate into the relay.
type MessageStore interface {
	Append(room, sender, senderConn string, body []byte, sentAt time.Time) error
	History(room string, limit int) ([]models.StoredMessage, error)
}

type Store interface {
	IdentityStore
	MessageStore
}
