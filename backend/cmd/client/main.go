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

// Line-oriented terminal client. Reads chat lines from stdin, prints
// the room's timeline as entries arrive and as pending ciphertext gets
// resolved.
package main

import (
	"bufio"
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/efchatnet/efrooms/backend/client"
	"github.com/efchatnet/efrooms/backend/crypto"
)

func main() {
	server := flag.String("server", "http://localhost:8081", "relay server base URL")
	name := flag.String("name", "", "username")
	password := flag.String("password", "", "password")
	room := flag.String("room", "", "room to join")
	keyPath := flag.String("key", "identity.pem", "path to the identity key file")
	flag.Parse()

	if *name == "" || *password == "" || *room == "" {
		flag.Usage()
		os.Exit(2)
	}

	priv, err := crypto.LoadOrGenerateKey(*keyPath)
	if err != nil {
		log.Fatalf("identity key: %v", err)
	}

	token, err := login(*server, *name, *password, priv)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/ws"
	conn, err := client.Dial(wsURL, token)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	c := client.New(*name, priv, conn)
	c.OnEntry = func(index int, e client.Entry) {
		printEntry(index, e)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev, err := conn.ReadEvent()
			if err != nil {
				return
			}
			if err := c.HandleEvent(ev); err != nil {
				log.Printf("event: %v", err)
			}
		}
	}()

	if err := c.Join(*room); err != nil {
		log.Fatalf("join: %v", err)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if err := c.Send(text); err != nil {
				log.Printf("send: %v", err)
			}
		}
		conn.Close()
	}()

	<-done
}

func printEntry(index int, e client.Entry) {
	switch e.State {
	case client.EntryPending:
		fmt.Printf("[%d] %s: (encrypted, waiting for key)\n", index, e.Name)
	case client.EntryFailed:
		fmt.Printf("[%d] %s: (failed to decrypt)\n", index, e.Name)
	default:
		fmt.Printf("[%d] %s: %s\n", index, e.Name, e.Text)
	}
}

// login runs the login-or-register flow. The public key rides along on
// every attempt, so an unknown username registers in one round trip;
// the directory ignores it for existing users.
func login(server, name, password string, priv *rsa.PrivateKey) (string, error) {
	publicKey, err := crypto.ExportPublicKeyBase64(&priv.PublicKey)
	if err != nil {
		return "", err
	}

	body, _ := json.Marshal(map[string]string{
		"username":  name,
		"password":  password,
		"publickey": publicKey,
	})
	resp, err := http.Post(server+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("bad login response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("login rejected: %s", result.Message)
	}
	return result.Token, nil
}
