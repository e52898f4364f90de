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

package main

import (
	"database/sql"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efrooms/backend/handlers"
	"github.com/efchatnet/efrooms/backend/hub"
	"github.com/efchatnet/efrooms/backend/middleware"
	"github.com/efchatnet/efrooms/backend/storage/postgres"
)

func main() {
	// Database connection
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost/efrooms?sslmode=disable"
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Redis connection
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Initialize storage
	store := postgres.NewStore(db, rdb)

	// Run migrations
	if err := store.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Get JWT configuration from environment
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	jwtIssuer := os.Getenv("JWT_ISSUER")
	if jwtIssuer == "" {
		jwtIssuer = "efchat"
	}
	jwtConfig := &middleware.JWTConfig{Secret: jwtSecret, Issuer: jwtIssuer}

	// The relay core: one hub, one dispatch loop
	relay := hub.NewHub(store)
	go relay.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(store, jwtConfig)
	keyHandler := handlers.NewKeyHandler(store)
	roomHandler := handlers.NewRoomHandler(relay, store)
	wsHandler := handlers.NewWSHandler(relay)

	// Create auth middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtSecret, jwtIssuer)

	// Setup router
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(middleware.CORS)

	// Login/registration (no auth required)
	r.HandleFunc("/login", authHandler.Login).Methods("POST")

	// Websocket relay endpoint
	r.Handle("/ws", authMiddleware(http.HandlerFunc(wsHandler.Connect))).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/keys/{username}", keyHandler.GetPublicKey).Methods("GET")
	api.HandleFunc("/rooms", roomHandler.ListRooms).Methods("GET")
	api.HandleFunc("/rooms/{room}/members", roomHandler.GetMembers).Methods("GET")
	api.HandleFunc("/rooms/{room}/history", roomHandler.GetHistory).Methods("GET")

	// Health check (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check database connection
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	log.Printf("Relay server starting on port %s", port)
	log.Printf("JWT Issuer: %s", jwtIssuer)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
