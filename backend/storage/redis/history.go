// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efrooms/backend/models"
)

const (
	// HistoryTTL bounds how long a room's recent window survives after
	// its last message. Full history stays in postgres.
	HistoryTTL = 7 * 24 * time.Hour

	// maxRecent caps the per-room recent window.
	maxRecent = 200

	// Redis key prefixes
	historyPrefix = "room:history:" // room:history:{room} - list of stored messages
	notifyPrefix  = "room:notify:"  // room:notify:{room} - pub/sub channel
)

// HistoryStore keeps a capped recent-message window per room so history
// reads do not hit postgres for the common case.
type HistoryStore struct {
	rdb *redis.Client
	ctx context.Context
}

func NewHistoryStore(rdb *redis.Client) *HistoryStore {
	return &HistoryStore{
		rdb: rdb,
		ctx: context.Background(),
	}
}

// Push appends a stored message to the room's recent window, trims it to
// maxRecent and refreshes the TTL.
func (s *HistoryStore) Push(msg models.StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := historyPrefix + msg.Room
	if err := s.rdb.RPush(s.ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to push history: %w", err)
	}
	s.rdb.LTrim(s.ctx, key, -maxRecent, -1)
	s.rdb.Expire(s.ctx, key, HistoryTTL)

	// Publish notification for observers (dashboards, future fanout)
	notification, _ := json.Marshal(map[string]string{
		"type": "new_message",
		"id":   msg.ID,
		"room": msg.Room,
	})
	s.rdb.Publish(s.ctx, notifyPrefix+msg.Room, notification)

	return nil
}

// Recent returns up to limit messages from the room's window, oldest
// first. An empty result is not an error; the caller falls back to
// postgres.
func (s *HistoryStore) Recent(room string, limit int) ([]models.StoredMessage, error) {
	key := historyPrefix + room
	raw, err := s.rdb.LRange(s.ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	msgs := make([]models.StoredMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.StoredMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue // Skip malformed entries
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Subscribe returns a pub/sub subscription for a room's message
// notifications.
func (s *HistoryStore) Subscribe(room string) *redis.PubSub {
	return s.rdb.Subscribe(s.ctx, notifyPrefix+room)
}

// Drop removes a room's recent window.
func (s *HistoryStore) Drop(room string) error {
	return s.rdb.Del(s.ctx, historyPrefix+room).Err()
}
