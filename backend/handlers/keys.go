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
	"encoding/base64"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efrooms/backend/storage"
)

// KeyHandler serves identity public keys out of the directory. Clients
// use it to verify the key a join event advertised.
type KeyHandler struct {
	store storage.IdentityStore
}

func NewKeyHandler(store storage.IdentityStore) *KeyHandler {
	return &KeyHandler{store: store}
}

func (h *KeyHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	username := vars["username"]

	publicKey, err := h.store.GetPublicKey(username)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username":  username,
		"publickey": base64.StdEncoding.EncodeToString(publicKey),
	})
}
