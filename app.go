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
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/pulseframe/pulse/config"
	"github.com/pulseframe/pulse/database"
	"github.com/pulseframe/pulse/lib/log"
	"github.com/pulseframe/pulse/mail"
	"github.com/pulseframe/pulse/storage"
	"github.com/pulseframe/pulse/util"
	"github.com/pulseframe/pulse/view"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	FrameworkVersion = "1.1.0"
	FrameworkStage   = "BETA"
)

const appKey contextKey = "pulseapp"
const serverKey contextKey = "pulseserver"

// An application: the facades built from the configuration of a project directory.
//
// The project directory has the following layout:
//
//	config.yml, .env       environment (at least one of them)
//	config/*.yml           configuration files (app.yml, database.yml)
//	resources/views/       templates
//	public/assets/         built frontend assets (.vite/manifest.json)
//	storage/               writable files (logs, maintenance flag, hot file)
type App struct {
	Root        string
	Fs          afero.Fs
	Env         *config.Env
	Config      *config.Config
	Storage     *storage.Storage
	DB          *database.Manager
	View        *view.Engine
	Mailer      *mail.Mailer
	ErrorLog    *log.ErrorLog
	Reporter    Reporter
	Logger      *log.Log
	Maintenance *Maintenance
	Kernel      *Kernel
	// Output of the request loggers.
	Out io.Writer

	sessionKey SecretKey
}

// Loads an application from the root directory.
//
// The logger can be nil, the default is log.DefaultOSLogger().
func NewApp(fs afero.Fs, root string, logger *log.Log) (*App, error) {
	if logger == nil {
		logger = log.DefaultOSLogger()
	}

	env, err := config.LoadEnv(fs, root)
	if err != nil {
		return nil, err
	}

	cfg := config.NewConfig(fs, path.Join(root, "config"))

	if stage := cfg.GetString("app", "stage"); stage != "" {
		env.SetDefault("app.stage", stage)
	}
	env.SetDefault("app.stage", "production")
	env.SetDefault("storage_path", path.Join(root, "storage"))
	env.SetDefault("vite_dev", "http://localhost:5173")
	env.SetDefault("gzip", true)

	if env.IsSet("log_level") {
		logger.Level = log.ParseLevel(env.GetString("log_level"))
	}

	st, err := storage.New(fs, env.GetString("storage_path"))
	if err != nil {
		return nil, err
	}

	connections, err := loadConnections(env, cfg)
	if err != nil {
		return nil, err
	}

	debug := env.GetBool("app.settings.debug")

	engine := view.New(view.Options{
		Fs:           fs,
		ViewsDir:     path.Join(root, "resources", "views"),
		ManifestPath: path.Join(root, "public", "assets", ".vite", "manifest.json"),
		HotFile:      st.Path("hot"),
		ViteDevURL:   env.GetString("vite_dev"),
		Entry:        cfg.GetString("app", "entry"),
		AssetBase:    env.GetString("asset_url"),
		Debug:        debug,
		Logger:       logger,
	})

	channel := env.GetString("app.name")
	if channel == "" {
		channel = "app"
	}

	a := &App{
		Root:     root,
		Fs:       fs,
		Env:      env,
		Config:   cfg,
		Storage:  st,
		DB:       database.NewManager(connections),
		View:     engine,
		Mailer:   mail.NewMailer(mail.FromEnv(env)),
		ErrorLog: log.NewErrorLog(fs, st.Path("logs"), channel),
		Reporter: NopReporter{},
		Logger:   logger,
		Kernel:   DefaultKernel,
		Out:      os.Stdout,
	}

	a.Maintenance = &Maintenance{
		Storage: st,
		View:    engine,
		URL:     env.GetString("app.url"),
	}

	if dsn := env.GetString("sentry_dsn"); dsn != "" {
		reporter, err := NewSentryReporter(dsn, a.Stage(), cfg.GetString("app", "version"))
		if err != nil {
			return nil, err
		}
		a.Reporter = reporter
	}

	if secret := env.GetString("app.key"); secret != "" {
		if err := util.SetKeyString(secret); err != nil {
			return nil, err
		}
		key, err := util.DeriveKey(secret, "pulseframe session")
		if err != nil {
			return nil, err
		}
		a.sessionKey = key
	} else {
		logger.Verbose().Println("app.key is not set, sessions and encryption are disabled")
	}

	return a, nil
}

// Reads the database connections from config/database.yml (the "connections" map), or a single "default" connection from the "database" environment key.
func loadConnections(env *config.Env, cfg *config.Config) (map[string]database.ConnectionConfig, error) {
	connections := make(map[string]database.ConnectionConfig)

	if cfg.Has("database") {
		v, err := cfg.File("database")
		if err != nil {
			return nil, err
		}
		if err := v.UnmarshalKey("connections", &connections); err != nil {
			return nil, config.Error.New("invalid database configuration: %v", err)
		}
		return connections, nil
	}

	if env.IsSet("database") {
		c := database.ConnectionConfig{}
		if err := env.Viper().UnmarshalKey("database", &c); err != nil {
			return nil, config.Error.New("invalid database configuration: %v", err)
		}
		connections[database.DefaultConnection] = c
	}

	return connections, nil
}

// The stage of the application (e.g. development or production).
func (a *App) Stage() string {
	return a.Env.GetString("app.stage")
}

func (a *App) Debug() bool {
	return a.Env.GetBool("app.settings.debug")
}

// The error handler of the application.
func (a *App) ExceptionHandler() *ExceptionHandler {
	return &ExceptionHandler{
		View:     a.View,
		Log:      a.ErrorLog,
		Reporter: a.Reporter,
		Stage:    a.Stage(),
	}
}

// Gets the App from the request context.
func GetApp(r *http.Request) *App {
	return r.Context().Value(appKey).(*App)
}

// Builds the server with the recommended middlewares, the services listed in app.register, and the routes of the application.
//
// The global middlewares, outermost first: request logger, logger, HSTS (if the hsts key is set), gzip (unless gzip is false), error handler, renderer, session, database. The aliases "web", "api", "auth", "admin", "cors" and "csrf" are available for route groups.
func (a *App) Server(web, api func(*Group)) (*Server, error) {
	if a.sessionKey == nil {
		return nil, util.ErrNoKey
	}

	s := NewServer()
	s.Logger = a.Logger

	requestLoggerOut := io.Discard
	if a.Logger.Level > log.LOG_USER {
		requestLoggerOut = a.Out
	}
	s.Use(RequestLoggerMiddleware(requestLoggerOut))
	s.Use(LoggerMiddleware(a.Logger.Level, log.UserLogFactory, log.VerboseLogFactory, log.TraceLogFactory, a.Out))

	if a.Env.IsSet("hsts") {
		hsts := HSTSConfig{}
		if err := a.Env.Viper().UnmarshalKey("hsts", &hsts); err != nil {
			return nil, config.Error.New("invalid hsts configuration: %v", err)
		}
		s.Use(HSTSMiddleware(hsts))
	}

	if a.Env.GetBool("gzip") {
		s.Use(gziphandler.GzipHandler)
	}

	s.Use(ErrorHandlerMiddleware(a.ExceptionHandler(), a.Debug()))
	s.Use(RendererMiddleware)

	var cookieURL *url.URL
	if a.Env.IsSet("cookie_url") {
		u, err := url.Parse(a.Env.GetString("cookie_url"))
		if err != nil {
			return nil, config.Error.New("invalid cookie_url: %v", err)
		}
		cookieURL = u
	}
	cookiePrefix := a.Env.GetString("cookie_prefix")

	s.Use(SessionMiddleware(cookiePrefix, a.sessionKey, cookieURL, 24*time.Hour))
	s.Use(DBMiddleware(a.DB))
	s.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, SetContext(SetContext(r, appKey, a), serverKey, s))
		})
	})

	apiLimiter, _ := APIMiddleware()
	s.AliasMiddleware("web", WebMiddleware(a.Maintenance, s))
	s.AliasMiddleware("api", apiLimiter)
	s.AliasMiddleware("auth", AuthMiddleware)
	s.AliasMiddleware("admin", AdminMiddleware)
	s.AliasMiddleware("cors", CORSMiddleware)
	s.AliasMiddleware("csrf", CSRFCookieMiddleware(cookiePrefix, 24*time.Hour, cookieURL), CSRFMiddleware)

	s.GetF("/activate/:uuid", a.Maintenance.ActivateHandler)
	s.GetF("/csrf-token", CSRFTokenHandler)

	assetsDir := path.Join(a.Root, "public", "assets")
	if exists, _ := afero.DirExists(a.Fs, assetsDir); exists {
		s.AddFileSystem("/assets", afero.NewHttpFs(a.Fs).Dir(assetsDir))
	}

	services, err := a.Config.GetStringSlice("app", "register")
	if err != nil {
		return nil, Error.New("invalid configuration: app.register must be a list of services: %v", err)
	}
	if err := a.Kernel.Boot(context.Background(), s, a.DB, services); err != nil {
		return nil, err
	}

	s.LoadRoutes(web, api)

	return s, nil
}

// Gets the Server handling the request, or nil if the request did not come through App.Server().
func GetServer(r *http.Request) *Server {
	s, _ := r.Context().Value(serverKey).(*Server)
	return s
}

// Runs the server on addr until ctx is done. In debug mode the templates are reloaded when they change.
func (a *App) Serve(ctx context.Context, s *Server, addr string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.ListenAndServe(gctx, addr, a.Env.GetString("certfile"), a.Env.GetString("keyfile"))
	})

	if a.Debug() {
		g.Go(func() error {
			return a.View.Watch(gctx)
		})
	}

	err := g.Wait()

	a.Reporter.Flush(2 * time.Second)

	return errors.Join(err, a.DB.Close())
}

// Renders a view into the response.
//
// Pages (.vue, .ts, .tsx) get the session, the app.settings and the named routes of the server. Rendering errors fail the request.
func View(r *http.Request, name string, data map[string]interface{}) {
	a := GetApp(r)

	var page *view.Page
	if _, isPage := view.PageName(name); isPage {
		var session map[string]interface{}
		if s, ok := r.Context().Value(sessionKey).(*Session); ok {
			session = s.All()
		}
		var routes []NamedRoute
		if s := GetServer(r); s != nil {
			routes = s.RouteNames()
		}
		page = &view.Page{
			Session:  session,
			Settings: a.Env.Get("app.settings", map[string]interface{}{}),
			Routes:   routes,
		}
	}

	buf := bytes.NewBuffer(nil)
	if err := a.View.Render(buf, name, data, page); err != nil {
		var se *view.StatusError
		if errors.As(err, &se) {
			Fail(se.Status, se)
		}
		Fail(http.StatusInternalServerError, err)
	}

	Render(r).HTMLBytes(buf.Bytes())
}
