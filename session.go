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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"
)

const sessionKey contextKey = "pulsesession"

const flashKey = "_flash"

var ErrInvalidSessionCookie = errors.New("invalid session cookie")

// The key used to sign the session cookies.
type SecretKey []byte

func (k SecretKey) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, k)
	mac.Write(data)
	return mac.Sum(nil)
}

// Key value store of the client, kept in a signed cookie.
//
// The values must be JSON encodable. Numbers come back as float64 on the next request.
type Session struct {
	values  map[string]interface{}
	changed bool
}

func NewSession() *Session {
	return &Session{values: make(map[string]interface{})}
}

// Parses a cookie value: hex(HMAC-SHA256(data)) followed by hex(data), where data is the JSON encoded session.
func readCookie(cookieValue string, key SecretKey) (*Session, error) {
	raw, err := hex.DecodeString(cookieValue)
	if err != nil {
		return nil, ErrInvalidSessionCookie
	}

	if len(raw) < sha256.Size {
		return nil, ErrInvalidSessionCookie
	}

	signature, data := raw[:sha256.Size], raw[sha256.Size:]
	if !hmac.Equal(signature, key.sign(data)) {
		return nil, ErrInvalidSessionCookie
	}

	s := NewSession()
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, ErrInvalidSessionCookie
	}
	if s.values == nil {
		s.values = make(map[string]interface{})
	}

	return s, nil
}

func (s *Session) cookieValue(key SecretKey) (string, error) {
	data, err := json.Marshal(s.values)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(key.sign(data)) + hex.EncodeToString(data), nil
}

// Returns the value of key, or nil.
func (s *Session) Get(key string) interface{} {
	return s.values[key]
}

// Returns the value of key if it is a string.
func (s *Session) GetString(key string) string {
	v, _ := s.values[key].(string)
	return v
}

func (s *Session) GetBool(key string) bool {
	v, _ := s.values[key].(bool)
	return v
}

func (s *Session) Set(key string, value interface{}) {
	s.values[key] = value
	s.changed = true
}

func (s *Session) Forget(keys ...string) {
	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			s.changed = true
		}
	}
}

func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Stores a value that can be read once with Old(), typically on the next request.
func (s *Session) Flash(key string, value interface{}) {
	flash, _ := s.values[flashKey].(map[string]interface{})
	if flash == nil {
		flash = make(map[string]interface{})
	}
	flash[key] = value
	s.Set(flashKey, flash)
}

// Reads and removes a flashed value. Returns def if the value was not flashed.
func (s *Session) Old(key string, def interface{}) interface{} {
	flash, _ := s.values[flashKey].(map[string]interface{})
	value, ok := flash[key]
	if !ok {
		return def
	}

	delete(flash, key)
	if len(flash) == 0 {
		delete(s.values, flashKey)
	}
	s.changed = true

	return value
}

// Returns a copy of the session values.
func (s *Session) All() map[string]interface{} {
	all := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		all[k] = v
	}

	return all
}

// Returns the session keys in alphabetical order.
func (s *Session) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Removes every value. The session cookie is deleted at the end of the request.
func (s *Session) Flush() {
	s.values = make(map[string]interface{})
	s.changed = true
}

// Gets the session from the request context.
func GetSession(r *http.Request) *Session {
	return r.Context().Value(sessionKey).(*Session)
}

func sessionCookieName(prefix string) string {
	return prefix + "_SESSION"
}

// Middleware that loads the session from a signed cookie, and saves it if it changed.
//
// The cookie is named prefix+"_SESSION". An invalid cookie is treated as an empty session.
func SessionMiddleware(prefix string, key SecretKey, cookieURL *url.URL, expiresAfter time.Duration) func(http.Handler) http.Handler {
	if cookieURL == nil {
		cookieURL = &url.URL{}
	}
	cookiePath := cookieURL.Path
	if cookiePath == "" {
		cookiePath = "/"
	}
	name := sessionCookieName(prefix)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := NewSession()
			if c, err := r.Cookie(name); err == nil {
				if stored, err := readCookie(c.Value, key); err == nil {
					s = stored
				} else {
					LogVerbose(r).Println(err)
				}
			}

			saved := false
			save := func() {
				if saved || !s.changed {
					return
				}
				saved = true

				cookie := &http.Cookie{
					Name:     name,
					Path:     cookiePath,
					Domain:   cookieURL.Host,
					Secure:   cookieURL.Scheme == "https" || r.TLS != nil,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				}

				if len(s.values) == 0 {
					cookie.MaxAge = -1
				} else {
					value, err := s.cookieValue(key)
					if err != nil {
						LogVerbose(r).Println(err)
						return
					}
					cookie.Value = value
					cookie.Expires = time.Now().Add(expiresAfter)
				}

				http.SetCookie(w, cookie)
			}

			r = SetContext(r, sessionKey, s)
			next.ServeHTTP(&sessionResponseWriter{ResponseWriter: w, save: save}, r)
			save()
		})
	}
}

type sessionResponseWriter struct {
	http.ResponseWriter
	save func()
}

func (w *sessionResponseWriter) WriteHeader(code int) {
	// Behind the RendererMiddleware the headers are not written yet.
	if _, ok := w.ResponseWriter.(*rendererResponseWriter); !ok {
		w.save()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionResponseWriter) Write(b []byte) (int, error) {
	w.save()
	return w.ResponseWriter.Write(b)
}

func (w *sessionResponseWriter) Flush() {
	w.save()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
