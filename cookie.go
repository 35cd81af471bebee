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
	"net/http"
	"time"
)

// Sets an HTTP only cookie on the root path. A zero expires makes it a browser session cookie.
func SetCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
	})
}

// Returns the value of a cookie, or def if the client did not send it.
func GetCookie(r *http.Request, name, def string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return def
	}

	return c.Value
}

func HasCookie(r *http.Request, name string) bool {
	_, err := r.Cookie(name)
	return err == nil
}

// Deletes a cookie, if the client has it.
func DeleteCookie(w http.ResponseWriter, r *http.Request, name string) {
	if !HasCookie(r, name) {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:    name,
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
}
