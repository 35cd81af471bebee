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

package pulse

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pulseframe/pulse/database"
	"golang.org/x/crypto/scrypt"
)

// Cost parameters of new password hashes. Existing hashes carry their own parameters.
type ScryptParams struct {
	SaltLength int
	N          int
	R          int
	P          int
	KeyLength  int
}

var DefaultScryptParams = ScryptParams{
	SaltLength: 32,
	N:          32768,
	R:          8,
	P:          1,
	KeyLength:  64,
}

// Shorter stored keys are rejected.
const minKeyLength = 16

// Returned by Attempt() for an unknown email or a wrong password.
var ErrInvalidCredentials = WrapError(errors.New("invalid credentials"), "Invalid email or password.")

// Hashes a password with scrypt, using DefaultScryptParams.
//
// The result has the form scrypt$salt$n$r$p$hash, with the salt and the hash hex encoded.
func HashPassword(password string) (string, error) {
	return hashPassword(password, DefaultScryptParams)
}

func hashPassword(password string, params ScryptParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, params.KeyLength)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("scrypt$%s$%d$%d$%d$%s",
		hex.EncodeToString(salt),
		params.N, params.R, params.P,
		hex.EncodeToString(hash),
	), nil
}

// Checks a password against a hash made by HashPassword().
func VerifyPassword(password, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return false, Error.New("invalid hash format")
	}
	if parts[0] != "scrypt" {
		return false, Error.New("unknown hash algorithm: %s", parts[0])
	}

	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, Error.Wrap(err)
	}
	if len(salt) == 0 {
		return false, Error.New("invalid hash format")
	}

	var cost [3]int
	for i := range cost {
		if cost[i], err = strconv.Atoi(parts[2+i]); err != nil {
			return false, Error.Wrap(err)
		}
	}

	stored, err := hex.DecodeString(parts[5])
	if err != nil {
		return false, Error.Wrap(err)
	}
	if len(stored) < minKeyLength {
		return false, Error.New("invalid hash format")
	}

	computed, err := scrypt.Key([]byte(password), salt, cost[0], cost[1], cost[2], len(stored))
	if err != nil {
		return false, Error.Wrap(err)
	}

	return subtle.ConstantTimeCompare(stored, computed) == 1, nil
}

// Looks up a user of the users model by email, and checks the password against its "password" column.
func Attempt(ctx context.Context, db *database.Manager, email, password string) (database.Row, error) {
	user, err := db.FindWhere(ctx, UsersModel, map[string]interface{}{"email": email})
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	var hash string
	switch v := user["password"].(type) {
	case string:
		hash = v
	case []byte:
		hash = string(v)
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Logs in the user with the given credentials. On success the session holds the user, see Login().
func LoginWithPassword(r *http.Request, email, password string) error {
	user, err := Attempt(r.Context(), GetDB(r), email, password)
	if err != nil {
		return err
	}

	Login(GetSession(r), user)

	return nil
}
