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
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

type contextKey string

var (
	trustedProxiesMu sync.RWMutex
	trustedProxies   []*net.IPNet
)

func parseCIDRs(addresses []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, len(addresses))
	for i, address := range addresses {
		_, n, err := net.ParseCIDR(address)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		nets[i] = n
	}

	return nets, nil
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

// Sets the address ranges of the reverse proxies in front of the application. The X-Forwarded-For header is only believed when it comes from one of them.
func SetTrustedProxies(addresses ...string) error {
	nets, err := parseCIDRs(addresses)
	if err != nil {
		return err
	}

	trustedProxiesMu.Lock()
	defer trustedProxiesMu.Unlock()
	trustedProxies = nets

	return nil
}

// Restricts access to the clients in the given CIDR address ranges. Other clients get 403.
func RestrictAddressMiddleware(addresses ...string) func(http.Handler) http.Handler {
	cidrnets, err := parseCIDRs(addresses)
	if err != nil {
		panic(err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !containsIP(cidrnets, net.ParseIP(ip)) {
				Fail(http.StatusForbidden, Error.New("address %s is not allowed", ip))
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RestrictPrivateAddressMiddleware() func(http.Handler) http.Handler {
	return RestrictAddressMiddleware("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8", "::1/128")
}

// Returns the IP address of the client, without the port.
//
// When the request comes from a trusted proxy (see SetTrustedProxies), the X-Forwarded-For header is walked from the right, and the first untrusted address is the client.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	trustedProxiesMu.RLock()
	defer trustedProxiesMu.RUnlock()

	if len(trustedProxies) == 0 || !containsIP(trustedProxies, net.ParseIP(host)) {
		return host
	}

	forwarded := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(forwarded) - 1; i >= 0; i-- {
		addr := strings.TrimSpace(forwarded[i])
		ip := net.ParseIP(addr)
		if ip == nil {
			break
		}
		host = addr
		if !containsIP(trustedProxies, ip) {
			break
		}
	}

	return host
}

// Returns the redirect_to query parameter if it is a local path, otherwise def.
//
// Absolute and protocol relative URLs are rejected.
func RedirectDestination(r *http.Request, def string) string {
	dest := r.URL.Query().Get("redirect_to")
	if dest == "" || !strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "//") || strings.HasPrefix(dest, "/\\") {
		return def
	}

	return dest
}

// Returns the offset of the requested page (the "page" query parameter, starting from 1) for listing endpoints.
//
// A page that is not a number, or whose offset does not fit in an int, fails the request with 400.
func Pager(r *http.Request, limit int) int {
	page := r.URL.Query().Get("page")
	if page == "" {
		return 0
	}

	pagenum, err := strconv.Atoi(page)
	MaybeFail(http.StatusBadRequest, err)
	if pagenum < 2 {
		return 0
	}
	if limit > 0 && pagenum-1 > math.MaxInt/limit {
		Fail(http.StatusBadRequest, Error.New("page %d is out of range", pagenum))
	}

	return (pagenum - 1) * limit
}

func SetContext(r *http.Request, key, value interface{}) *http.Request {
	ctx := context.WithValue(r.Context(), key, value)
	return r.WithContext(ctx)
}
