// Copyright 2015 Tamás Demeter-Haludka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

var ErrNoKey = errors.New("encryption key is not set")

var aesgcm cipher.AEAD

// Sets the package global secret. The size of the secret should be 32 bytes. See Encrypt() and Decrypt()
func SetKey(key []byte) error {
	aescipcher, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	aesgcm, err = cipher.NewGCM(aescipcher)
	if err != nil {
		return err
	}

	return nil
}

// Derives a 32 byte key from an arbitrary secret (app.key) and sets it as the package global key.
func SetKeyString(secret string) error {
	key, err := DeriveKey(secret, "pulseframe encryption")
	if err != nil {
		return err
	}

	return SetKey(key)
}

// Derives a 32 byte key for the given purpose from a secret with HKDF-SHA256.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, ErrNoKey
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose)), key); err != nil {
		return nil, err
	}

	return key, nil
}

// Encrypts a message with AES-GCM using the package global key.
func Encrypt(msg []byte) ([]byte, error) {
	if aesgcm == nil {
		return nil, ErrNoKey
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(nil)
	buf.Write(nonce)

	encrypted := aesgcm.Seal(nil, nonce, msg, nil)
	buf.Write(encrypted)

	return buf.Bytes(), nil
}

// Decrypts a message with AES-GCM using the package global key.
func Decrypt(msg []byte) ([]byte, error) {
	if aesgcm == nil {
		return nil, ErrNoKey
	}

	noncelen := aesgcm.NonceSize()
	if len(msg) < noncelen {
		return nil, errors.New("decryption failed")
	}
	nonce := msg[:noncelen]
	encrypted := msg[noncelen:]

	data, err := aesgcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, errors.New("decryption failed")
	}

	return data, nil
}

// Encrypts a string using the package global key.
func EncryptString(msg string) (string, error) {
	if msg == "" {
		return "", nil
	}

	encrypted, err := Encrypt([]byte(msg))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// Decrypts a string using the package global key.
func DecryptString(msg string) (string, error) {
	if msg == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(msg)
	if err != nil {
		return "", err
	}

	data, err := Decrypt(decoded)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// Generates a random (version 4) UUID.
func UUID() string {
	return uuid.NewString()
}

// Checks if s is a canonical (8-4-4-4-12 hex) UUID.
func IsUUID(s string) bool {
	return uuidRegex.MatchString(s)
}

var uuidRegex = regexp.MustCompile(`^(?i)[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)

// Generates a short, human readable code (8 uppercase characters) that identifies an error occurrence.
func ErrorCode() string {
	buf := make([]byte, 6)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}

	return strings.ToUpper(base64.StdEncoding.EncodeToString(buf))[:8]
}

var colorCodeRegex = regexp.MustCompile(`\x1b?\[[0-9;]+m`)

func StripTerminalColorCodes(s string) string {
	return colorCodeRegex.ReplaceAllString(s, "")
}
