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

package postgres

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efrooms/backend/models"
	"github.com/efchatnet/efrooms/backend/storage"
	redisStore "github.com/efchatnet/efrooms/backend/storage/redis"
)

// Store implements the identity directory and message store on postgres,
// with a redis recent-history window in front of message reads.
type Store struct {
	db      *sql.DB
	redis   *redis.Client
	history *redisStore.HistoryStore
}

func NewStore(db *sql.DB, redis *redis.Client) *Store {
	return &Store{
		db:      db,
		redis:   redis,
		history: redisStore.NewHistoryStore(redis),
	}
}

func (s *Store) Register(username, passwordHash string, publicKey []byte) (*models.User, error) {
	user := &models.User{
		Username:     username,
		PasswordHash: passwordHash,
		PublicKey:    publicKey,
		CreatedAt:    time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO users (username, password_hash, public_key, created_at)
		VALUES ($1, $2, $3, $4)`,
		user.Username, user.PasswordHash, user.PublicKey, user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUser(username string) (*models.User, error) {
	user := &models.User{}
	var connectionID sql.NullString
	err := s.db.QueryRow(`
		SELECT username, password_hash, public_key, connection_id, created_at
		FROM users WHERE username = $1`, username).Scan(
		&user.Username, &user.PasswordHash, &user.PublicKey,
		&connectionID, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.ConnectionID = connectionID.String
	return user, nil
}

func (s *Store) GetPublicKey(username string) ([]byte, error) {
	var publicKey []byte
	err := s.db.QueryRow(`
		SELECT public_key FROM users WHERE username = $1`, username).Scan(&publicKey)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return publicKey, nil
}

func (s *Store) UpdateConnection(username, connectionID string) error {
	result, err := s.db.Exec(`
		UPDATE users SET connection_id = $2 WHERE username = $1`,
		username, connectionID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Append(room, sender, senderConn string, body []byte, sentAt time.Time) error {
	msg := models.StoredMessage{
		ID:           uuid.New().String(),
		Room:         room,
		Username:     sender,
		ConnectionID: senderConn,
		Body:         body,
		SentAt:       sentAt,
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, room, username, connection_id, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.Room, msg.Username, msg.ConnectionID, msg.Body, msg.SentAt)
	if err != nil {
		return err
	}

	// The recent window is a cache: postgres already has the row, so a
	// redis failure only costs a cache miss.
	_ = s.history.Push(msg)
	return nil
}

func (s *Store) History(room string, limit int) ([]models.StoredMessage, error) {
	if msgs, err := s.history.Recent(room, limit); err == nil && len(msgs) >= limit {
		return msgs, nil
	}

	rows, err := s.db.Query(`
		SELECT id, room, username, connection_id, body, sent_at
		FROM messages WHERE room = $1
		ORDER BY sent_at DESC LIMIT $2`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.StoredMessage
	for rows.Next() {
		var msg models.StoredMessage
		if err := rows.Scan(&msg.ID, &msg.Room, &msg.Username,
			&msg.ConnectionID, &msg.Body, &msg.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come back newest first; callers want display order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
