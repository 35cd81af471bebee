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
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Configuration of the Strict-Transport-Security header (env key "hsts").
type HSTSConfig struct {
	MaxAge            time.Duration `mapstructure:"maxage"`
	IncludeSubDomains bool          `mapstructure:"includesubdomains"`
	Preload           bool          `mapstructure:"preload"`
	// Hosts that never get the header, e.g. localhost during development. Ports are ignored.
	HostBlacklist []string `mapstructure:"hostblacklist"`
}

// Renders the header value. A zero MaxAge renders nothing, as max-age is required.
func (c HSTSConfig) String() string {
	if c.MaxAge <= 0 {
		return ""
	}

	directives := []string{"max-age=" + strconv.FormatInt(int64(c.MaxAge/time.Second), 10)}
	if c.IncludeSubDomains {
		directives = append(directives, "includeSubDomains")
	}
	if c.Preload {
		directives = append(directives, "preload")
	}

	return strings.Join(directives, "; ")
}

func (c HSTSConfig) isHostBlacklisted(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	for _, blacklisted := range c.HostBlacklist {
		if strings.EqualFold(blacklisted, host) {
			return true
		}
	}

	return false
}

func HSTSMiddleware(config HSTSConfig) func(http.Handler) http.Handler {
	headerValue := config.String()

	return func(next http.Handler) http.Handler {
		if headerValue == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.isHostBlacklisted(r.Host) {
				w.Header().Set("Strict-Transport-Security", headerValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
