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
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

var testSessionKey = SecretKey("0123456789abcdef0123456789abcdef")

func TestSessionCookie(t *testing.T) {
	Convey("Given a session with values", t, func() {
		s := NewSession()
		s.Set("name", "Jane")
		s.Set("loggedin", true)

		value, err := s.cookieValue(testSessionKey)
		So(err, ShouldBeNil)

		Convey("The cookie must be read back", func() {
			read, err := readCookie(value, testSessionKey)
			So(err, ShouldBeNil)
			So(read.GetString("name"), ShouldEqual, "Jane")
			So(read.GetBool("loggedin"), ShouldBeTrue)
		})

		Convey("A tampered cookie must be rejected", func() {
			tampered := []byte(value)
			last := len(tampered) - 1
			if tampered[last] == '0' {
				tampered[last] = '1'
			} else {
				tampered[last] = '0'
			}
			_, err := readCookie(string(tampered), testSessionKey)
			So(err, ShouldEqual, ErrInvalidSessionCookie)
		})

		Convey("A cookie signed with another key must be rejected", func() {
			_, err := readCookie(value, SecretKey("another key"))
			So(err, ShouldEqual, ErrInvalidSessionCookie)
		})

		Convey("Garbage must be rejected", func() {
			_, err := readCookie("not hex", testSessionKey)
			So(err, ShouldEqual, ErrInvalidSessionCookie)
			_, err = readCookie("abcd", testSessionKey)
			So(err, ShouldEqual, ErrInvalidSessionCookie)
		})
	})
}

func TestSessionValues(t *testing.T) {
	Convey("Given an empty session", t, func() {
		s := NewSession()

		Convey("Missing values must be empty", func() {
			So(s.Get("missing"), ShouldBeNil)
			So(s.GetString("missing"), ShouldEqual, "")
			So(s.Has("missing"), ShouldBeFalse)
		})

		Convey("Forget must remove values", func() {
			s.Set("a", "1")
			s.Set("b", "2")
			s.Forget("a", "c")
			So(s.Keys(), ShouldResemble, []string{"b"})
		})

		Convey("A flashed value must be read once", func() {
			s.Flash("status", "saved")
			So(s.Old("status", "none"), ShouldEqual, "saved")
			So(s.Old("status", "none"), ShouldEqual, "none")
			So(s.Has(flashKey), ShouldBeFalse)
		})

		Convey("All must return a copy", func() {
			s.Set("a", "1")
			all := s.All()
			all["a"] = "2"
			So(s.GetString("a"), ShouldEqual, "1")
		})

		Convey("Flush must remove everything", func() {
			s.Set("a", "1")
			s.Flush()
			So(s.Keys(), ShouldBeEmpty)
		})
	})
}

func sessionTestHandler(handler http.HandlerFunc) http.Handler {
	return wrapHandler(handler,
		ErrorHandlerMiddleware(nil, false),
		RendererMiddleware,
		SessionMiddleware("TEST", testSessionKey, nil, time.Hour),
	)
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}

	return nil
}

func TestSessionMiddleware(t *testing.T) {
	Convey("Given a handler which writes the session", t, func() {
		h := sessionTestHandler(func(w http.ResponseWriter, r *http.Request) {
			s := GetSession(r)
			if r.URL.Query().Get("flush") != "" {
				s.Flush()
			} else if r.URL.Query().Get("set") != "" {
				s.Set("value", r.URL.Query().Get("set"))
			}
			Render(r).Text(s.GetString("value"))
		})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?set=hello", nil))
		cookie := responseCookie(rec, "TEST_SESSION")
		So(cookie, ShouldNotBeNil)
		So(cookie.HttpOnly, ShouldBeTrue)
		So(cookie.Path, ShouldEqual, "/")

		Convey("The next request must see the stored value", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			So(rec.Body.String(), ShouldEqual, "hello")

			Convey("An unchanged session must not be saved", func() {
				So(responseCookie(rec, "TEST_SESSION"), ShouldBeNil)
			})
		})

		Convey("A flushed session must delete the cookie", func() {
			req := httptest.NewRequest(http.MethodGet, "/?flush=1", nil)
			req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			deleted := responseCookie(rec, "TEST_SESSION")
			So(deleted, ShouldNotBeNil)
			So(deleted.MaxAge, ShouldBeLessThan, 0)
		})

		Convey("A tampered cookie must start a new session", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			flipped := "0"
			if cookie.Value[0] == '0' {
				flipped = "1"
			}
			req.AddCookie(&http.Cookie{Name: "TEST_SESSION", Value: flipped + cookie.Value[1:]})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			So(rec.Body.String(), ShouldEqual, "")
		})
	})
}

func TestCookies(t *testing.T) {
	Convey("Given a request with a cookie", t, func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

		Convey("The cookie must be readable", func() {
			So(HasCookie(req, "theme"), ShouldBeTrue)
			So(GetCookie(req, "theme", "light"), ShouldEqual, "dark")
			So(GetCookie(req, "lang", "en"), ShouldEqual, "en")
		})

		Convey("Deleting must expire the cookie", func() {
			rec := httptest.NewRecorder()
			DeleteCookie(rec, req, "theme")
			c := responseCookie(rec, "theme")
			So(c, ShouldNotBeNil)
			So(c.MaxAge, ShouldBeLessThan, 0)
		})

		Convey("Deleting a missing cookie must not touch the response", func() {
			rec := httptest.NewRecorder()
			DeleteCookie(rec, req, "lang")
			So(rec.Result().Cookies(), ShouldBeEmpty)
		})

		Convey("A set cookie must be HTTP only on the root path", func() {
			rec := httptest.NewRecorder()
			SetCookie(rec, "lang", "hu", time.Now().Add(time.Hour))
			c := responseCookie(rec, "lang")
			So(c, ShouldNotBeNil)
			So(c.Value, ShouldEqual, "hu")
			So(c.Path, ShouldEqual, "/")
			So(c.HttpOnly, ShouldBeTrue)
		})
	})
}
