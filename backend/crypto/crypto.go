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

// Package crypto implements the hybrid scheme used for room traffic:
// a long-lived RSA-OAEP identity key pair wraps a per-room AES-256-GCM
// session key, and the session key seals the chat text. The relay only
// ever sees the wrapped key and the sealed envelopes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/efchatnet/efrooms/backend/models"
)

const (
	identityKeyBits = 2048
	sessionKeySize  = 32
	gcmIVSize       = 12
)

// GenerateKeyPair creates a new RSA identity key pair.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, identityKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return key, nil
}

// ExportPublicKey encodes a public key as PKIX DER, the transferable form
// registered with the identity directory and sent in join events.
func ExportPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}
	return der, nil
}

// ImportPublicKey decodes a PKIX DER public key.
func ImportPublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}

// ExportPublicKeyBase64 is the JSON-friendly form of ExportPublicKey.
func ExportPublicKeyBase64(pub *rsa.PublicKey) (string, error) {
	der, err := ExportPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ImportPublicKeyBase64 decodes a base64 PKIX public key.
func ImportPublicKeyBase64(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	return ImportPublicKey(der)
}

// SessionKey is the ephemeral symmetric key shared by the members of one
// room. It lives in memory only and is never serialized except as raw
// bytes immediately before RSA wrapping.
type SessionKey struct {
	raw  []byte
	aead cipher.AEAD
}

func newSessionKey(raw []byte) (*SessionKey, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SessionKey{raw: raw, aead: aead}, nil
}

// GenerateSessionKey creates a fresh random AES-256 session key. Called
// by a client when it becomes host of a room.
func GenerateSessionKey() (*SessionKey, error) {
	raw := make([]byte, sessionKeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return newSessionKey(raw)
}

// ImportSessionKey rebuilds a session key from its raw exported bytes.
func ImportSessionKey(raw []byte) (*SessionKey, error) {
	if len(raw) != sessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", sessionKeySize, len(raw))
	}
	return newSessionKey(raw)
}

// Bytes returns the raw key material. Callers wrap it immediately; it
// must never leave the process unencrypted.
func (k *SessionKey) Bytes() []byte {
	return k.raw
}

// Encrypt seals plaintext under a fresh random IV.
func (k *SessionKey) Encrypt(plaintext string) (*models.EncryptionData, error) {
	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}
	sealed := k.aead.Seal(nil, iv, []byte(plaintext), nil)
	return &models.EncryptionData{IV: iv, EncryptedContent: sealed}, nil
}

// Decrypt opens a sealed envelope. A wrong or stale key fails the GCM
// tag check; there is no partial or garbage success.
func (k *SessionKey) Decrypt(data *models.EncryptionData) (string, error) {
	if len(data.IV) != gcmIVSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", gcmIVSize, len(data.IV))
	}
	plaintext, err := k.aead.Open(nil, data.IV, data.EncryptedContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt message: %w", err)
	}
	return string(plaintext), nil
}

// WrapSessionKey encrypts the raw session key under a member's public
// key with RSA-OAEP. This is the only form in which the key transits the
// relay.
func WrapSessionKey(key *SessionKey, pub *rsa.PublicKey) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key.raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap session key: %w", err)
	}
	return wrapped, nil
}

// UnwrapSessionKey decrypts a wrapped session key with the recipient's
// private key and imports it.
func UnwrapSessionKey(wrapped []byte, priv *rsa.PrivateKey) (*SessionKey, error) {
	raw, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap session key: %w", err)
	}
	return ImportSessionKey(raw)
}

// LoadOrGenerateKey loads a PEM-encoded identity key from path, or
// generates one and writes it there if the file does not exist. The
// private key stays client-local; only the public half is ever exported.
func LoadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no PEM block in %s", path)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity key: %w", err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity key: %w", err)
	}

	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to save identity key: %w", err)
	}
	return key, nil
}
