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
	"net/url"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// Appends name to the X-Trace header, to check the order of the middlewares.
func traceMiddleware(name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Trace", name)
			next.ServeHTTP(w, r)
		})
	}
}

func textHandler(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Render(r).Text(text)
	}
}

func newTestServer() *Server {
	s := NewServer()
	s.Use(ErrorHandlerMiddleware(nil, false), RendererMiddleware)
	return s
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Accept", "text/plain")
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareOrder(t *testing.T) {
	Convey("Given a server with global, alias, group and route middlewares", t, func() {
		s := newTestServer()
		s.Use(traceMiddleware("global"))
		s.AliasMiddleware("first", traceMiddleware("alias1"), traceMiddleware("alias2"))
		s.AliasMiddleware("second", traceMiddleware("alias3"))

		g := s.Group("/admin", "first")
		g.Use(traceMiddleware("group"))
		sub := g.Group("/users", "second")
		sub.GetF("/list", textHandler("list"), traceMiddleware("route"))

		Convey("The middlewares must run outermost first", func() {
			rec := serve(s, http.MethodGet, "/admin/users/list")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "list")
			So(rec.Header()["X-Trace"], ShouldResemble, []string{"global", "alias1", "alias2", "group", "alias3", "route"})
		})

		Convey("An unknown alias must panic", func() {
			So(func() { s.Group("/x", "missing") }, ShouldPanic)
			_, err := s.Middlewares("missing")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a middleware which short-circuits", t, func() {
		s := newTestServer()
		stop := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Fail(http.StatusUnauthorized, nil)
			})
		}
		called := false
		s.GetF("/", func(w http.ResponseWriter, r *http.Request) {
			called = true
		}, stop)

		Convey("The handler must not run", func() {
			rec := serve(s, http.MethodGet, "/")
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(called, ShouldBeFalse)
			So(rec.Body.String(), ShouldContainSubstring, "Unauthorized access.")
		})
	})
}

func TestNamedRoutes(t *testing.T) {
	Convey("Given named routes", t, func() {
		s := newTestServer()
		s.GetF("/", textHandler("home")).Name("home")
		s.GetF("/posts/:id/comments/:comment", textHandler("comment")).Name("comment")
		s.GetF("/files/*path", textHandler("file")).Name("file")

		Convey("They must be listed in order", func() {
			So(s.RouteNames(), ShouldResemble, []NamedRoute{
				{Name: "home", URL: "/"},
				{Name: "comment", URL: "/posts/:id/comments/:comment"},
				{Name: "file", URL: "/files/*path"},
			})
		})

		Convey("URLs must be built from the parameters", func() {
			u, err := s.URL("comment", map[string]string{"id": "3", "comment": "7"})
			So(err, ShouldBeNil)
			So(u, ShouldEqual, "/posts/3/comments/7")

			u, err = s.URL("file", map[string]string{"path": "/a/b.txt"})
			So(err, ShouldBeNil)
			So(u, ShouldEqual, "/files/a/b.txt")
		})

		Convey("A missing parameter must be an error", func() {
			_, err := s.URL("comment", map[string]string{"id": "3"})
			So(err, ShouldNotBeNil)
		})

		Convey("An unknown route must be an error", func() {
			_, err := s.URL("missing", nil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "route 'missing' not found")

			rec := httptest.NewRecorder()
			err = s.Redirect(rec, httptest.NewRequest(http.MethodGet, "/", nil), "missing", nil, 0)
			So(err, ShouldNotBeNil)
			So(rec.Header().Get("Location"), ShouldEqual, "")
		})

		Convey("Redirect must send the client to the route", func() {
			rec := httptest.NewRecorder()
			err := s.Redirect(rec, httptest.NewRequest(http.MethodGet, "/", nil), "comment", map[string]string{"id": "1", "comment": "2"}, 0)
			So(err, ShouldBeNil)
			So(rec.Code, ShouldEqual, http.StatusFound)
			So(rec.Header().Get("Location"), ShouldEqual, "/posts/1/comments/2")
		})

		Convey("Naming a route again must replace it", func() {
			s.GetF("/start", textHandler("start")).Name("home")
			u, err := s.URL("home", nil)
			So(err, ShouldBeNil)
			So(u, ShouldEqual, "/start")
			So(s.RouteNames(), ShouldHaveLength, 3)
		})
	})
}

func TestRouteConstraints(t *testing.T) {
	Convey("Given a route with a constraint", t, func() {
		s := newTestServer()
		s.GetF("/items/:id", func(w http.ResponseWriter, r *http.Request) {
			Render(r).Text(GetParams(r).ByName("id"))
		}).Where("id", `[0-9]+`)

		Convey("A matching parameter must be served", func() {
			rec := serve(s, http.MethodGet, "/items/12")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "12")
		})

		Convey("A partially matching parameter must be not found", func() {
			rec := serve(s, http.MethodGet, "/items/12a")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestRouterErrors(t *testing.T) {
	Convey("Given a server with a single GET route", t, func() {
		s := newTestServer()
		s.GetF("/", textHandler("home"))

		Convey("An unknown path must be not found", func() {
			rec := serve(s, http.MethodGet, "/nope")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(rec.Body.String(), ShouldContainSubstring, "The page you are looking for could not be found.")
		})

		Convey("Another method must not be allowed", func() {
			rec := serve(s, http.MethodPost, "/")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(rec.Body.String(), ShouldContainSubstring, "The method you are using is not supported.")
		})
	})
}

func TestLoadRoutes(t *testing.T) {
	Convey("Given the web and api aliases", t, func() {
		s := newTestServer()
		s.AliasMiddleware("web", traceMiddleware("web"))
		s.AliasMiddleware("api", traceMiddleware("api"))

		s.LoadRoutes(func(g *Group) {
			g.GetF("/", textHandler("web"))
		}, func(g *Group) {
			g.GetF("/status", textHandler("api"))
		})

		Convey("The web routes must get the web alias", func() {
			rec := serve(s, http.MethodGet, "/")
			So(rec.Body.String(), ShouldEqual, "web")
			So(rec.Header()["X-Trace"], ShouldResemble, []string{"web"})
		})

		Convey("The api routes must be under /api with the api alias", func() {
			rec := serve(s, http.MethodGet, "/api/status")
			So(rec.Body.String(), ShouldEqual, "api")
			So(rec.Header()["X-Trace"], ShouldResemble, []string{"api"})
		})
	})
}

func TestRequestHelpers(t *testing.T) {
	Convey("Given a request", t, func() {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/search?q=pulse&page=3&redirect_to=%2Fhome", nil)

		Convey("Query must return the parameter or the default", func() {
			So(Query(req, "q", ""), ShouldEqual, "pulse")
			So(Query(req, "sort", "asc"), ShouldEqual, "asc")
		})

		Convey("Domain must return the host", func() {
			So(Domain(req), ShouldEqual, "example.com")
		})

		Convey("Pager must return the offset", func() {
			So(Pager(req, 20), ShouldEqual, 40)
		})

		Convey("RedirectDestination must accept local paths only", func() {
			So(RedirectDestination(req, "/"), ShouldEqual, "/home")

			for _, dest := range []string{"https://evil.example", "//evil.example", "/\\evil.example"} {
				r := httptest.NewRequest(http.MethodGet, "/?redirect_to="+url.QueryEscape(dest), nil)
				So(RedirectDestination(r, "/"), ShouldEqual, "/")
			}
		})

		Convey("JSONStatus must work without a renderer", func() {
			rec := httptest.NewRecorder()
			JSONStatus(rec, req, http.StatusTeapot, "error", "short and stout", "TEAPOT")
			So(rec.Code, ShouldEqual, http.StatusTeapot)
			So(rec.Header().Get("Content-Type"), ShouldEqual, "application/json")
			So(rec.Body.String(), ShouldEqual, `{"status":"error","message":"short and stout","code":"TEAPOT"}`+"\n")
		})
	})
}
