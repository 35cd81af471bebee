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
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pulseframe/pulse/database"
	"golang.org/x/time/rate"
)

const (
	LoginPath    = "/account/login"
	RegisterPath = "/account/register"
	// The model holding the users, looked up by email.
	UsersModel = "users"
)

// Middleware of the "web" route group: the maintenance gate, then logged in users are sent away from the login and register pages.
//
// The destination is the redirect_to parameter (local paths only), or the route named "home".
func WebMiddleware(m *Maintenance, s *Server) Middleware {
	return func(next http.Handler) http.Handler {
		guest := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (r.URL.Path == LoginPath || r.URL.Path == RegisterPath) && GetSession(r).GetBool("loggedin") {
				dest := RedirectDestination(r, "")
				if dest == "" {
					home, err := s.URL("home", nil)
					if err != nil {
						home = "/"
					}
					dest = home
				}

				http.Redirect(w, r, dest, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})

		if m == nil {
			return guest
		}

		return m.Middleware(guest)
	}
}

// Limits the requests per client IP address in fixed windows.
//
// The window of a client starts with its first request and lasts one period; after that the count starts over.
type RateLimiter struct {
	Now func() time.Time

	windows map[string]*rateWindow
	mu      sync.Mutex
	limit   int
	period  time.Duration
	sweep   rate.Sometimes
}

type rateWindow struct {
	start time.Time
	count int
}

// Creates a rate limiter that lets n requests through per period for every client.
func NewRateLimiter(n int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		Now:     time.Now,
		windows: make(map[string]*rateWindow),
		limit:   n,
		period:  period,
		sweep:   rate.Sometimes{Interval: period},
	}
}

// Counts a request of the client, and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.sweep.Do(rl.Cleanup)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.Now()
	w, exists := rl.windows[key]
	if !exists || !now.Before(w.start.Add(rl.period)) {
		w = &rateWindow{start: now}
		rl.windows[key] = w
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++

	return true
}

// Drops the expired windows. Allow calls it once per period.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.Now()
	for key, w := range rl.windows {
		if !now.Before(w.start.Add(rl.period)) {
			delete(rl.windows, key)
		}
	}
}

// Answers 429 with {"error":"Rate limit exceeded."} when the client is over the limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !rl.Allow(ip) {
			LogVerbose(r).Printf("rate limit exceeded for %s\n", ip)
			body := map[string]string{"error": "Rate limit exceeded."}
			if rd, ok := r.Context().Value(renderKey).(*Renderer); ok {
				rd.SetCode(http.StatusTooManyRequests).JSON(body)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded."}` + "\n"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Middleware of the "api" route group: 100 requests per hour per client.
func APIMiddleware() (Middleware, *RateLimiter) {
	rl := NewRateLimiter(100, time.Hour)
	return rl.Middleware, rl
}

// Stores a user in the session, marking it logged in.
func Login(s *Session, user database.Row) {
	s.Set("loggedin", true)
	s.Set("name", sessionValue(user["name"]))
	s.Set("email", sessionValue(user["email"]))
	s.Set("role", sessionValue(user["role"]))
	s.Set("password_last_changed", sessionValue(user["password_last_changed"]))
}

// Converts a database value to its session representation.
func sessionValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}

	return fmt.Sprint(v)
}

func loginURL(r *http.Request) string {
	return LoginPath + "?redirect_to=" + url.QueryEscape(r.URL.RequestURI())
}

// Requires a logged in user.
//
// Guests are redirected to the login page. The user is reloaded from the database on every request: the session is logged out if the user is gone or the password changed, and the name, email and role are refreshed.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := GetSession(r)
		if !s.GetBool("loggedin") {
			http.Redirect(w, r, loginURL(r), http.StatusFound)
			return
		}

		user, err := GetDB(r).FindWhere(r.Context(), UsersModel, map[string]interface{}{
			"email": s.GetString("email"),
		})
		if errors.Is(err, database.ErrNotFound) {
			LogVerbose(r).Printf("user %s is gone, logging out\n", s.GetString("email"))
			s.Flush()
			http.Redirect(w, r, loginURL(r), http.StatusFound)
			return
		}
		MaybeFail(http.StatusInternalServerError, err)

		if sessionValue(user["password_last_changed"]) != s.GetString("password_last_changed") {
			LogVerbose(r).Printf("password of %s changed, logging out\n", s.GetString("email"))
			s.Flush()
			http.Redirect(w, r, loginURL(r), http.StatusFound)
			return
		}

		for _, key := range []string{"name", "email", "role"} {
			if v := sessionValue(user[key]); v != s.GetString(key) {
				s.Set(key, v)
			}
		}

		next.ServeHTTP(w, r)
	})
}

// Requires the admin role. Must come after AuthMiddleware.
func AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetSession(r).GetString("role") != "admin" {
			Fail(http.StatusForbidden, errors.New("Forbidden"))
		}

		next.ServeHTTP(w, r)
	})
}

// Allows cross origin requests from anywhere. Preflight requests are answered immediately.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
