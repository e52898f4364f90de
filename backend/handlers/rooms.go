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

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efrooms/backend/hub"
	"github.com/efchatnet/efrooms/backend/storage"
)

const defaultHistoryLimit = 50

// RoomHandler exposes read-only room state: the live listing from the
// hub and persisted history from the message store. History entries are
// whatever was relayed; encrypted bodies stay encrypted here.
type RoomHandler struct {
	hub   *hub.Hub
	store storage.MessageStore
}

func NewRoomHandler(h *hub.Hub, store storage.MessageStore) *RoomHandler {
	return &RoomHandler{hub: h, store: store}
}

func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": h.hub.ActiveRooms(),
	})
}

func (h *RoomHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room := vars["room"]

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":  room,
		"users": h.hub.Members(room),
	})
}

func (h *RoomHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room := vars["room"]

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := h.store.History(room, limit)
	if err != nil {
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":     room,
		"messages": msgs,
	})
}
