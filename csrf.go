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
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"
)

const (
	csrfSessionKey = "_csrf"
	// Form field of the token in urlencoded forms.
	CSRFFormField = "_token"
	// Larger forms are not searched for the token.
	maxCSRFFormSize = 10 << 20
)

var ErrCSRFValidation = errors.New("CSRF token validation failed")

// Enforces a valid CSRF token on every request with an unsafe method (anything but GET, HEAD, OPTIONS and TRACE).
//
// The token is read from the X-CSRF-Token or the X-XSRF-Token header, or from the _token field of an urlencoded form. The middleware is available as the "csrf" alias. To obtain a token, use CSRFTokenHandler on a path.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		default:
			if !validCSRFToken(r, requestCSRFToken(r)) {
				Fail(http.StatusForbidden, ErrCSRFValidation)
			}
		}

		next.ServeHTTP(w, r)
	})
}

func requestCSRFToken(r *http.Request) string {
	for _, header := range []string{"X-CSRF-Token", "X-XSRF-Token"} {
		if token := r.Header.Get(header); token != "" {
			return token
		}
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/x-www-form-urlencoded" || r.Body == nil {
		return ""
	}

	// The body is put back, so the handler can still decode the form.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCSRFFormSize))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	if err != nil {
		return ""
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}

	return values.Get(CSRFFormField)
}

// This middleware checks the CSRF token in the urlParam URL parameter.
//
// This is useful if you want CSRF protection in a GET request, e.g. on a logout link.
func CSRFGetMiddleware(urlParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validCSRFToken(r, r.URL.Query().Get(urlParam)) {
				Fail(http.StatusForbidden, ErrCSRFValidation)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func validCSRFToken(r *http.Request, userToken string) bool {
	token := GetSession(r).GetString(csrfSessionKey)

	return userToken != "" && token != "" && subtle.ConstantTimeCompare([]byte(userToken), []byte(token)) == 1
}

// This middleware creates a cookie with the CSRF token, so JavaScript clients can read it.
//
// The cookie will be named prefix+"_CSRF".
func CSRFCookieMiddleware(prefix string, expiresAfter time.Duration, cookieURL *url.URL) func(http.Handler) http.Handler {
	if cookieURL == nil {
		cookieURL = &url.URL{}
	}
	cookiePath := cookieURL.Path
	if cookiePath == "" {
		cookiePath = "/"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetCSRFToken(r)
			http.SetCookie(w, &http.Cookie{
				Name:     prefix + "_CSRF",
				Value:    token,
				HttpOnly: false,
				Path:     cookiePath,
				Domain:   cookieURL.Host,
				Secure:   cookieURL.Scheme == "https",
				Expires:  time.Now().Add(expiresAfter),
			})
			next.ServeHTTP(w, r)
		})
	}
}

// Returns the CSRF token for the current session.
//
// If the token does not exist, the function generates one and places it inside the session.
func GetCSRFToken(r *http.Request) string {
	s := GetSession(r)
	token := s.GetString(csrfSessionKey)

	if token == "" {
		rawToken := make([]byte, 32)
		if _, err := rand.Read(rawToken); err != nil {
			panic(err)
		}
		token = hex.EncodeToString(rawToken)
		s.Set(csrfSessionKey, token)
	}

	return token
}

// A simple handler which returns the valid csrf token for the current client.
//
// The return format is either JSON or text.
func CSRFTokenHandler(w http.ResponseWriter, r *http.Request) {
	token := GetCSRFToken(r)

	Render(r).
		JSON(map[string]string{"token": token}).
		Text(token)
}
