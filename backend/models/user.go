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

// User is an identity-directory record. The password hash never crosses
// the wire; the public key is the PKIX DER encoding of the user's RSA key.
type User struct {
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	PublicKey    []byte    `json:"public_key" db:"public_key"`
	ConnectionID string    `json:"connection_id,omitempty" db:"connection_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// MemberView is what the relay knows about one live connection. It is
// broadcast in userList events, so everything here is public.
type MemberView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Room      string `json:"room"`
	PublicKey string `json:"publickey"`
	Host      bool   `json:"host"`
}
