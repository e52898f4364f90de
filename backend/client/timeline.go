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

package client

import (
	"sync"
	"time"

	"github.com/efchatnet/efrooms/backend/crypto"
	"github.com/efchatnet/efrooms/backend/models"
)

// EntryState tracks what the display layer may show for an entry.
type EntryState int

const (
	// EntryPlain arrived as plaintext (admin notice or pre-key fallback).
	EntryPlain EntryState = iota
	// EntryPending is ciphertext awaiting a session key.
	EntryPending
	// EntryDecrypted has recovered plaintext in Text.
	EntryDecrypted
	// EntryFailed could not be decrypted with the key that was tried.
	EntryFailed
)

// Entry is one message in the local display sequence.
type Entry struct {
	Name  string
	Text  string
	Date  time.Time
	Data  *models.EncryptionData
	State EntryState
}

// Timeline is the addressable ordered message sequence. Entries are
// appended in arrival order and only ever patched in place; decryption
// latency never reorders anything. Encrypted entries without recovered
// plaintext also sit in a pending queue that Resolve drains when a
// session key arrives.
type Timeline struct {
	mu      sync.Mutex
	entries []*Entry
	pending []*Entry
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// Append adds an envelope at the end of the sequence and returns its
// stable index. Encrypted envelopes start out pending.
func (t *Timeline) Append(msg models.ChatMessage) int {
	e := &Entry{
		Name:  msg.Name,
		Text:  msg.Text,
		Date:  msg.Date,
		Data:  msg.EncryptionData,
		State: EntryPlain,
	}
	if msg.EncryptionData != nil {
		e.State = EntryPending
		e.Text = ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	if e.State == EntryPending {
		t.pending = append(t.pending, e)
	}
	return len(t.entries) - 1
}

// Decrypt attempts one entry with the given key, patching it in place.
// On failure the entry stays in the pending queue so a later key can
// retry it.
func (t *Timeline) Decrypt(index int, key *crypto.SessionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[index]
	if e.Data == nil || e.State == EntryDecrypted {
		return false
	}
	return t.decryptLocked(e, key)
}

// Resolve re-attempts every pending entry exactly once with a newly
// arrived key, in original arrival order. Entries that decrypt are
// rewritten; the rest are marked failed but stay queued for any future
// key. Returns the indices of entries whose state changed.
func (t *Timeline) Resolve(key *crypto.SessionKey) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.pending
	changed := make([]int, 0, len(queue))
	index := make(map[*Entry]int, len(t.entries))
	for i, e := range t.entries {
		index[e] = i
	}
	for _, e := range queue {
		t.decryptLocked(e, key)
		changed = append(changed, index[e])
	}
	return changed
}

// decryptLocked patches one entry and maintains the pending queue.
// Callers hold t.mu.
func (t *Timeline) decryptLocked(e *Entry, key *crypto.SessionKey) bool {
	text, err := key.Decrypt(e.Data)
	if err != nil {
		e.State = EntryFailed
		return false
	}
	e.Text = text
	e.State = EntryDecrypted
	for i, p := range t.pending {
		if p == e {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	return true
}

// Entries returns a copy of the sequence in display order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Entry returns a copy of one entry by its stable index.
func (t *Timeline) Entry(index int) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.entries[index]
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
