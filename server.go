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
	"crypto/tls"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pulseframe/pulse/lib/log"
	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"
)

const paramKey contextKey = "pulseparam"

var Error = errs.Class("pulse")

type Middleware = func(http.Handler) http.Handler

// The main server struct.
//
// Middlewares added with Use() wrap every request (including the not found and method not allowed responses), the first one being the outermost. Route middlewares wrap only their route's handler.
type Server struct {
	*httprouter.Router
	middlewares []Middleware
	Logger      *log.Log
	TLSConfig   *tls.Config

	mu      sync.RWMutex
	aliases map[string][]Middleware
	names   []NamedRoute
	routes  map[string]*Route
}

// A route with a name, as listed by Server.RouteNames().
type NamedRoute struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func NewServer() *Server {
	router := httprouter.New()
	router.HandleMethodNotAllowed = true
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Fail(http.StatusNotFound, Error.New("no route for %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Fail(http.StatusMethodNotAllowed, Error.New("method %s is not allowed on %s", r.Method, r.URL.Path))
	})

	return &Server{
		Router:  router,
		Logger:  log.DefaultOSLogger(),
		aliases: make(map[string][]Middleware),
		routes:  make(map[string]*Route),
	}
}

func (s *Server) Use(middleware ...Middleware) {
	s.middlewares = append(s.middlewares, middleware...)
}

func (s *Server) UseHandler(h http.Handler) {
	s.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, r)
			next.ServeHTTP(w, r)
		})
	})
}

// Registers a named group of middlewares, which can be referred to in Group().
func (s *Server) AliasMiddleware(name string, middlewares ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aliases[name] = middlewares
}

// Returns the middlewares of the aliases, in order.
func (s *Server) Middlewares(aliases ...string) ([]Middleware, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var middlewares []Middleware
	for _, alias := range aliases {
		m, ok := s.aliases[alias]
		if !ok {
			return nil, Error.New("middleware alias %q is not registered", alias)
		}
		middlewares = append(middlewares, m...)
	}

	return middlewares, nil
}

func (s *Server) Handler() http.Handler {
	return wrapHandler(s.Router, s.middlewares...)
}

func wrapHandler(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	return handler
}

// A registered route.
type Route struct {
	server      *Server
	Method      string
	Path        string
	name        string
	constraints map[string]*regexp.Regexp
}

// Names the route. Named routes can be used in redirects, and are passed to the frontend.
func (rt *Route) Name(name string) *Route {
	s := rt.server
	s.mu.Lock()
	defer s.mu.Unlock()

	rt.name = name
	s.routes[name] = rt
	for i, nr := range s.names {
		if nr.Name == name {
			s.names[i].URL = rt.Path
			return rt
		}
	}
	s.names = append(s.names, NamedRoute{Name: name, URL: rt.Path})

	return rt
}

// Constrains a parameter of the route to a regular expression, which must match the whole value. Requests with a different value get a not found error.
func (rt *Route) Where(param, pattern string) *Route {
	s := rt.server
	s.mu.Lock()
	defer s.mu.Unlock()

	rt.constraints[param] = regexp.MustCompile("^(?:" + pattern + ")$")

	return rt
}

func (rt *Route) matches(p httprouter.Params) bool {
	rt.server.mu.RLock()
	defer rt.server.mu.RUnlock()

	for param, re := range rt.constraints {
		if !re.MatchString(strings.TrimPrefix(p.ByName(param), "/")) {
			return false
		}
	}

	return true
}

func (s *Server) Handle(method, path string, handler http.Handler, middlewares ...Middleware) *Route {
	rt := &Route{
		server:      s,
		Method:      method,
		Path:        path,
		constraints: make(map[string]*regexp.Regexp),
	}

	handler = wrapHandler(handler, middlewares...)
	s.Router.Handle(method, path, httprouter.Handle(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if !rt.matches(p) {
			Fail(http.StatusNotFound, Error.New("%s does not match the constraints of %s", r.URL.Path, path))
		}
		r = SetContext(r, paramKey, p)
		handler.ServeHTTP(w, r)
	}))

	return rt
}

func (s *Server) Head(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodHead, path, handler, middlewares...)
}

func (s *Server) Get(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodGet, path, handler, middlewares...)
}

func (s *Server) Post(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodPost, path, handler, middlewares...)
}

func (s *Server) Put(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodPut, path, handler, middlewares...)
}

func (s *Server) Delete(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodDelete, path, handler, middlewares...)
}

func (s *Server) Patch(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodPatch, path, handler, middlewares...)
}

func (s *Server) Options(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodOptions, path, handler, middlewares...)
}

func (s *Server) GetF(path string, handler http.HandlerFunc, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodGet, path, handler, middlewares...)
}

func (s *Server) PostF(path string, handler http.HandlerFunc, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodPost, path, handler, middlewares...)
}

func (s *Server) PutF(path string, handler http.HandlerFunc, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodPut, path, handler, middlewares...)
}

func (s *Server) DeleteF(path string, handler http.HandlerFunc, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodDelete, path, handler, middlewares...)
}

func (s *Server) PatchF(path string, handler http.HandlerFunc, middlewares ...Middleware) *Route {
	return s.Handle(http.MethodPatch, path, handler, middlewares...)
}

func GetParams(r *http.Request) httprouter.Params {
	p, _ := r.Context().Value(paramKey).(httprouter.Params)
	return p
}

// Returns the named routes in the order they were named.
func (s *Server) RouteNames() []NamedRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]NamedRoute, len(s.names))
	copy(names, s.names)

	return names
}

// Builds the URL of a named route. The :param and *param segments are replaced from params.
func (s *Server) URL(name string, params map[string]string) (string, error) {
	s.mu.RLock()
	rt, ok := s.routes[name]
	s.mu.RUnlock()
	if !ok {
		return "", Error.New("route '%s' not found", name)
	}

	segments := strings.Split(rt.Path, "/")
	for i, segment := range segments {
		if len(segment) < 2 || (segment[0] != ':' && segment[0] != '*') {
			continue
		}
		value, ok := params[segment[1:]]
		if !ok {
			return "", Error.New("missing parameter %s for route '%s'", segment[1:], name)
		}
		segments[i] = strings.TrimPrefix(value, "/")
	}

	return strings.Join(segments, "/"), nil
}

// Redirects to a named route.
//
// A zero status means 302 Found. Unknown routes are an error, nothing is written in that case.
func (s *Server) Redirect(w http.ResponseWriter, r *http.Request, name string, params map[string]string, status int) error {
	url, err := s.URL(name, params)
	if err != nil {
		return err
	}

	if status == 0 {
		status = http.StatusFound
	}

	http.Redirect(w, r, url, status)

	return nil
}

// Adds a local directory to the router.
func (s *Server) AddLocalDir(prefix, path string) *Server {
	s.ServeFiles(strings.TrimRight(prefix, "/")+"/*filepath", http.Dir(path))

	return s
}

// Serves a http.FileSystem under prefix.
func (s *Server) AddFileSystem(prefix string, fs http.FileSystem) *Server {
	s.ServeFiles(strings.TrimRight(prefix, "/")+"/*filepath", fs)

	return s
}

// Adds a local file to the router.
func (s *Server) AddFile(path, file string) *Server {
	s.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, file)
	}))

	return s
}

// A set of routes sharing a path prefix and middlewares.
type Group struct {
	server      *Server
	prefix      string
	middlewares []Middleware
}

// Creates a route group. The aliases are resolved immediately (see AliasMiddleware), an unknown alias panics.
func (s *Server) Group(prefix string, aliases ...string) *Group {
	middlewares, err := s.Middlewares(aliases...)
	if err != nil {
		panic(err)
	}

	return &Group{
		server:      s,
		prefix:      strings.TrimRight(prefix, "/"),
		middlewares: middlewares,
	}
}

// Creates a nested group.
func (g *Group) Group(prefix string, aliases ...string) *Group {
	sub := g.server.Group(g.prefix+prefix, aliases...)
	sub.middlewares = append(append([]Middleware{}, g.middlewares...), sub.middlewares...)

	return sub
}

// Adds middlewares to the group. Routes added after this call get them.
func (g *Group) Use(middlewares ...Middleware) *Group {
	g.middlewares = append(g.middlewares, middlewares...)
	return g
}

func (g *Group) Server() *Server {
	return g.server
}

func (g *Group) Handle(method, path string, handler http.Handler, middlewares ...Middleware) *Route {
	all := append(append([]Middleware{}, g.middlewares...), middlewares...)
	full := g.prefix + path
	if full == "" {
		full = "/"
	}

	return g.server.Handle(method, full, handler, all...)
}

func (g *Group) Get(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodGet, path, handler, middlewares...)
}

func (g *Group) Post(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodPost, path, handler, middlewares...)
}

func (g *Group) Put(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodPut, path, handler, middlewares...)
}

func (g *Group) Delete(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodDelete, path, handler, middlewares...)
}

func (g *Group) Patch(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodPatch, path, handler, middlewares...)
}

func (g *Group) Options(path string, handler http.Handler, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodOptions, path, handler, middlewares...)
}

func (g *Group) GetF(path string, handler http.HandlerFunc, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodGet, path, handler, middlewares...)
}

func (g *Group) PostF(path string, handler http.HandlerFunc, middlewares ...Middleware) *Route {
	return g.Handle(http.MethodPost, path, handler, middlewares...)
}

// Registers the routes of the application.
//
// The web routes are added under the "web" alias, the api routes under the /api prefix and the "api" alias. Either function can be nil.
func (s *Server) LoadRoutes(web, api func(*Group)) {
	if web != nil {
		web(s.Group("", "web"))
	}
	if api != nil {
		api(s.Group("/api", "api"))
	}
}

// Creates the http.Server for addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		TLSConfig:         s.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if stdlogger := s.Logger.StdLogger(); stdlogger != nil {
		srv.ErrorLog = stdlogger
	}

	return srv
}

// Serves HTTP (or HTTPS, if certFile and keyFile are set) until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := s.HTTPServer(addr)

	s.Logger.User().Printf("Starting server on %s\n", addr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
