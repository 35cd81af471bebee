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

//go:build gofuzz

package pulse

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log"
)

var fuzzKey SecretKey

func init() {
	fuzzKey = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, fuzzKey); err != nil {
		log.Fatal(err)
	}
}

// Feeds correctly signed, arbitrary session payloads to the cookie reader.
func Fuzz(data []byte) int {
	cookieValue := hex.EncodeToString(fuzzKey.sign(data)) + hex.EncodeToString(data)

	s, err := readCookie(cookieValue, fuzzKey)
	if err != nil {
		return 0
	}

	if _, err := s.cookieValue(fuzzKey); err != nil {
		panic(err)
	}

	return 1
}
