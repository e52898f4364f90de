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
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/efchatnet/efrooms/backend/middleware"
	"github.com/efchatnet/efrooms/backend/storage"
)

const tokenTTL = 24 * time.Hour

// AuthHandler implements the login-or-register flow. An unknown
// username with no public key gets 404 so the client can generate a key
// pair and retry; an unknown username with a public key is registered.
type AuthHandler struct {
	store storage.IdentityStore
	jwt   *middleware.JWTConfig
}

func NewAuthHandler(store storage.IdentityStore, jwt *middleware.JWTConfig) *AuthHandler {
	return &AuthHandler{store: store, jwt: jwt}
}

type loginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	PublicKey    string `json:"publickey,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Invalid request body"})
		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Username and password are required"})
		return
	}

	user, err := h.store.GetUser(req.Username)
	switch {
	case err == nil:
		// User exists - Login
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			writeJSON(w, http.StatusUnauthorized, loginResponse{Message: "Invalid credentials"})
			return
		}
		if req.ConnectionID != "" {
			if err := h.store.UpdateConnection(req.Username, req.ConnectionID); err != nil {
				log.Printf("failed to update connection for %s: %v", req.Username, err)
			}
		}
		h.issueToken(w, http.StatusOK, "Login successful", req.Username)

	case errors.Is(err, storage.ErrNotFound):
		// User does not exist - Register flow
		if req.PublicKey == "" {
			// Client needs to generate keys and retry
			writeJSON(w, http.StatusNotFound, loginResponse{Message: "User not found, registration required"})
			return
		}
		publicKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Invalid public key"})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Internal server error"})
			return
		}
		if _, err := h.store.Register(req.Username, string(hash), publicKey); err != nil {
			log.Printf("failed to register %s: %v", req.Username, err)
			writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Internal server error"})
			return
		}
		h.issueToken(w, http.StatusCreated, "User created", req.Username)

	default:
		log.Printf("login lookup failed for %s: %v", req.Username, err)
		writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Internal server error"})
	}
}

func (h *AuthHandler) issueToken(w http.ResponseWriter, status int, message, username string) {
	token, err := middleware.SignJWT(username, h.jwt, tokenTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Internal server error"})
		return
	}
	writeJSON(w, status, loginResponse{
		Success:  true,
		Message:  message,
		Username: username,
		Token:    token,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
