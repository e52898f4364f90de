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

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testConfig = &JWTConfig{Secret: "test-secret", Issuer: "efchat"}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	token, err := SignJWT("alice", testConfig, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	claims, err := verifyJWT(token, testConfig)
	if err != nil {
		t.Fatalf("verifyJWT: %v", err)
	}
	if claims.Username != "alice" {
		t.Fatalf("username = %q, want alice", claims.Username)
	}
	if claims.Issuer != "efchat" {
		t.Fatalf("issuer = %q, want efchat", claims.Issuer)
	}
	if claims.ExpiresAt <= time.Now().Unix() {
		t.Fatal("token already expired")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	token, _ := SignJWT("alice", testConfig, time.Hour)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "A." + parts[2]
	if _, err := verifyJWT(tampered, testConfig); err == nil {
		t.Fatal("tampered claims accepted")
	}

	wrongSecret := &JWTConfig{Secret: "other-secret", Issuer: "efchat"}
	if _, err := verifyJWT(token, wrongSecret); err == nil {
		t.Fatal("token verified with wrong secret")
	}
}

func authedRequest(token string) *http.Request {
	r := httptest.NewRequest("GET", "/api/rooms", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestMiddlewarePassesValidToken(t *testing.T) {
	mw := NewAuthMiddleware(testConfig.Secret, testConfig.Issuer)
	var gotUsername string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUsername, _ = GetUsername(r)
	}))

	token, _ := SignJWT("bob", testConfig, time.Hour)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(token))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUsername != "bob" {
		t.Fatalf("context username = %q, want bob", gotUsername)
	}
}

func TestMiddlewareAcceptsQueryParamToken(t *testing.T) {
	mw := NewAuthMiddleware(testConfig.Secret, testConfig.Issuer)
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	token, _ := SignJWT("bob", testConfig, time.Hour)
	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if !called {
		t.Fatalf("query-param token rejected: status %d", w.Code)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	mw := NewAuthMiddleware(testConfig.Secret, testConfig.Issuer)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached without valid token")
	}))

	expired, _ := SignJWT("bob", testConfig, -time.Minute)
	otherIssuer, _ := SignJWT("bob", &JWTConfig{Secret: testConfig.Secret, Issuer: "someone-else"}, time.Hour)

	cases := map[string]string{
		"no token":     "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong issuer": otherIssuer,
	}
	for name, token := range cases {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(token))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, w.Code)
		}
	}
}
