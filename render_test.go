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
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func renderRequest(accept string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	wrapHandler(handler, ErrorHandlerMiddleware(nil, false), RendererMiddleware).ServeHTTP(rec, req)

	return rec
}

func TestRenderer(t *testing.T) {
	Convey("Given a handler with JSON and text offers", t, func() {
		handler := func(w http.ResponseWriter, r *http.Request) {
			Render(r).
				JSON(map[string]string{"hello": "world"}).
				Text("hello world")
		}

		Convey("The first offer must be the default", func() {
			rec := renderRequest("", handler)
			So(rec.Header().Get("Content-Type"), ShouldEqual, "application/json")
			So(rec.Body.String(), ShouldEqual, `{"hello":"world"}`+"\n")
		})

		Convey("The client's preference must win", func() {
			rec := renderRequest("text/plain", handler)
			So(rec.Header().Get("Content-Type"), ShouldEqual, "text/plain")
			So(rec.Body.String(), ShouldEqual, "hello world")
		})

		Convey("Quality values must be respected", func() {
			rec := renderRequest("application/json;q=0.5, text/plain", handler)
			So(rec.Header().Get("Content-Type"), ShouldEqual, "text/plain")
		})
	})

	Convey("A handler without offers must answer 204", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {})
		So(rec.Code, ShouldEqual, http.StatusNoContent)
		So(rec.Body.Len(), ShouldEqual, 0)
	})

	Convey("A status code without offers must be kept", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			Render(r).SetCode(http.StatusAccepted)
		})
		So(rec.Code, ShouldEqual, http.StatusAccepted)
	})

	Convey("SetCode must set the status of the response", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			Render(r).SetCode(http.StatusCreated).JSON(map[string]int{"id": 1})
		})
		So(rec.Code, ShouldEqual, http.StatusCreated)
	})

	Convey("WriteHeader must be deferred to the renderer", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			Render(r).Text("short and stout")
		})
		So(rec.Code, ShouldEqual, http.StatusTeapot)
		So(rec.Header().Get("Content-Type"), ShouldEqual, "text/plain")
	})

	Convey("Direct writes must go through", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("raw"))
		})
		So(rec.Code, ShouldEqual, http.StatusOK)
		So(rec.Body.String(), ShouldEqual, "raw")
	})

	Convey("The JSON prefix must be written when enabled", t, func() {
		JSONPrefix = true
		Reset(func() { JSONPrefix = false })

		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			Render(r).JSON(true)
		})
		So(rec.Body.String(), ShouldEqual, ")]}',\ntrue\n")
	})

	Convey("CSV records must be written", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			Render(r).CSV([][]string{{"id", "name"}, {"1", "Jane"}})
		})
		So(rec.Header().Get("Content-Type"), ShouldEqual, "text/csv")
		So(rec.Body.String(), ShouldEqual, "id,name\n1,Jane\n")
	})

	Convey("Streamed CSV must stop at the first error", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			Render(r).CSVStream(func(cw *csv.Writer) error {
				for i := 1; i <= 3; i++ {
					if i == 3 {
						return io.EOF
					}
					cw.Write([]string{strconv.Itoa(i)})
					cw.Flush()
				}
				return nil
			})
		})
		So(rec.Body.String(), ShouldEqual, "1\n2\n")
	})

	Convey("Downloads must be attachments", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			Render(r).Download("application/pdf", "report 2024.pdf", strings.NewReader("%PDF"))
		})
		So(rec.Header().Get("Content-Type"), ShouldEqual, "application/pdf")
		So(rec.Header().Get("Content-Disposition"), ShouldEqual, `attachment; filename="report 2024.pdf"`)
		So(rec.Body.String(), ShouldEqual, "%PDF")
	})

	Convey("Headers must be written with the offer", t, func() {
		rec := renderRequest("", func(w http.ResponseWriter, r *http.Request) {
			Render(r).Header("Cache-Control", "no-store").JSON(1).Text("1")
		})
		So(rec.Header().Get("Cache-Control"), ShouldEqual, "no-store")
		So(rec.Header().Get("Vary"), ShouldEqual, "Accept")
	})
}

func TestHSTS(t *testing.T) {
	Convey("Given an HSTS configuration", t, func() {
		config := HSTSConfig{
			MaxAge:            time.Hour,
			IncludeSubDomains: true,
			HostBlacklist:     []string{"localhost"},
		}
		So(config.String(), ShouldEqual, "max-age=3600; includeSubDomains")

		h := HSTSMiddleware(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		Convey("The header must be sent", func() {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
			So(rec.Header().Get("Strict-Transport-Security"), ShouldEqual, "max-age=3600; includeSubDomains")
		})

		Convey("Blacklisted hosts must not get the header", func() {
			for _, target := range []string{"http://localhost/", "http://LOCALHOST:8080/"} {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
				So(rec.Header().Get("Strict-Transport-Security"), ShouldEqual, "")
			}
		})
	})

	Convey("Preload must be appended", t, func() {
		So(HSTSConfig{MaxAge: 365 * 24 * time.Hour, Preload: true}.String(), ShouldEqual, "max-age=31536000; preload")
	})

	Convey("A configuration without max-age must not send the header", t, func() {
		So(HSTSConfig{IncludeSubDomains: true}.String(), ShouldEqual, "")
	})
}
