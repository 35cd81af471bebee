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
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/pulseframe/pulse/storage"
	"github.com/pulseframe/pulse/util"
	"github.com/pulseframe/pulse/view"
)

// Path of the maintenance flag, relative to the storage directory.
const MaintenanceFlag = "framework/maintenance.flag"

// Name of the cookie and the session key holding the bypass token.
const MaintenanceTokenKey = "maintenanceUUID"

// Maintenance mode.
//
// When the flag file exists, the site is in maintenance mode: only clients presenting the token stored in the flag get through the gate. A client gets the token by visiting the bypass URL (/activate/<token>).
type Maintenance struct {
	Storage *storage.Storage
	View    *view.Engine
	// Base URL of the site, used in BypassURL().
	URL string
}

func (m *Maintenance) Enabled() bool {
	return m.Storage.Exists(MaintenanceFlag)
}

// Returns the bypass token. The site is not in maintenance mode if the flag does not exist.
func (m *Maintenance) Token() (string, error) {
	b, err := m.Storage.Get(MaintenanceFlag)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(b)), nil
}

// Switches maintenance mode.
//
// Turning it on writes a new token into the flag, which is returned. Turning it off deletes the flag.
func (m *Maintenance) Toggle() (enabled bool, token string, err error) {
	if m.Enabled() {
		return false, "", m.Storage.Delete(MaintenanceFlag)
	}

	token = util.UUID()
	if err := m.Storage.Put(MaintenanceFlag, []byte(token)); err != nil {
		return false, "", err
	}

	return true, token, nil
}

func (m *Maintenance) BypassURL(token string) string {
	return strings.TrimRight(m.URL, "/") + "/activate/" + token
}

// Checks if the request may pass the gate.
func (m *Maintenance) allowed(r *http.Request) bool {
	token, err := m.Token()
	if err != nil {
		// The flag may have been deleted since Enabled() was called.
		return !m.Enabled()
	}

	if token == "" {
		return false
	}

	if GetCookie(r, MaintenanceTokenKey, "") == token {
		return true
	}

	if s, ok := r.Context().Value(sessionKey).(*Session); ok && s.GetString(MaintenanceTokenKey) == token {
		return true
	}

	return false
}

// The maintenance gate. In maintenance mode, clients without the token get the maintenance page with 503 Service Unavailable.
func (m *Maintenance) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() || m.allowed(r) {
			next.ServeHTTP(w, r)
			return
		}

		LogVerbose(r).Printf("%s %s blocked by maintenance mode\n", r.Method, r.URL.Path)

		page := bytes.NewBuffer(nil)
		if m.View != nil {
			MaybeFail(http.StatusInternalServerError, m.View.Render(page, "maintenance", nil, nil))
		} else {
			page.WriteString(StatusMessage(http.StatusServiceUnavailable))
		}

		w.Header().Set("Retry-After", "60")
		renderOrWrite(w, r, http.StatusServiceUnavailable, "text/html; charset=utf-8", page.Bytes())
	})
}

// Handles GET /activate/:uuid.
//
// Stores the token in the session and in a cookie, so the client can pass the gate. Outside of maintenance mode it just redirects to the front page.
func (m *Maintenance) ActivateHandler(w http.ResponseWriter, r *http.Request) {
	if !m.Enabled() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	uuid := GetParams(r).ByName("uuid")
	if !util.IsUUID(uuid) {
		JSONStatus(w, r, http.StatusBadRequest, "error", "Invalid UUID format: "+uuid)
		return
	}

	if s, ok := r.Context().Value(sessionKey).(*Session); ok {
		s.Set(MaintenanceTokenKey, uuid)
	}
	SetCookie(w, MaintenanceTokenKey, uuid, time.Now().Add(24*time.Hour))

	message := "UUID successfully set: " + uuid

	if rd, ok := r.Context().Value(renderKey).(*Renderer); ok {
		rd.
			HTMLBytes(activatedPage(message)).
			JSON(map[string]string{"status": "success", "message": message})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(activatedPage(message))
}

var activatedTemplate = template.Must(template.New("activated").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Maintenance</title></head>
<body>
<p>{{.}}</p>
<script>
setTimeout(function() {
	window.location = '/';
}, 500);
</script>
</body>
</html>
`))

func activatedPage(message string) []byte {
	buf := bytes.NewBuffer(nil)
	activatedTemplate.Execute(buf, message)
	return buf.Bytes()
}

// Writes a complete response through the Renderer if the request has one, or directly otherwise.
func renderOrWrite(w http.ResponseWriter, r *http.Request, code int, contentType string, body []byte) {
	if rd, ok := r.Context().Value(renderKey).(*Renderer); ok {
		rd.SetCode(code).AddOffer(strings.Split(contentType, ";")[0], func(w http.ResponseWriter) {
			w.Write(body)
		})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	w.Write(body)
}
