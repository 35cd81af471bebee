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

/*
Template rendering with Vite asset resolution.

Templates are html/template files in the views directory. A template is looked up by its name, then by its name with the .html or .tmpl extension.

Names ending in .vue, .ts or .tsx are pages of the frontend application. A page is rendered with the "base" template, which receives the page description (session, settings, page name, named routes and the extra data) as "app", and the script and style tags of the frontend as "assets".

In development mode (the hot file exists in the storage directory) the asset tags point to the Vite dev server, which must be running. Otherwise the tags are resolved from the Vite manifest.
*/
package view

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pulseframe/pulse/lib/log"
	"github.com/pulseframe/pulse/lib/watcher"
	"github.com/spf13/afero"
	"github.com/zeebo/errs"
)

var Error = errs.Class("view")

// An error that should be shown to the user with the given HTTP status.
type StatusError struct {
	Status  int
	Message string
	// Extra explanation, only set in debug mode.
	Hint template.HTML
}

func (e *StatusError) Error() string {
	return e.Message
}

var pageExtensions = []string{".vue", ".tsx", ".ts"}

// Returns the page name and true if name is a frontend page.
func PageName(name string) (string, bool) {
	for _, ext := range pageExtensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), true
		}
	}

	return name, false
}

type Options struct {
	Fs           afero.Fs
	ViewsDir     string
	ManifestPath string
	HotFile      string
	ViteDevURL   string
	// The manifest key of the frontend entry point (config app.entry).
	Entry     string
	AssetBase string
	Debug     bool
	Client    *http.Client
	Logger    *log.Log
}

// Per request data of a page.
type Page struct {
	Session  map[string]interface{}
	Settings interface{}
	Routes   interface{}
}

type Engine struct {
	opts Options

	mu       sync.Mutex
	cache    map[string]*template.Template
	manifest Manifest
}

func New(opts Options) *Engine {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 2 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger(io.Discard)
	}

	return &Engine{
		opts:  opts,
		cache: make(map[string]*template.Template),
	}
}

// Checks if the application runs against the Vite dev server.
func (e *Engine) IsDev() bool {
	if e.opts.HotFile == "" {
		return false
	}

	exists, err := afero.Exists(e.opts.Fs, e.opts.HotFile)
	return err == nil && exists
}

func (e *Engine) Debug() bool {
	return e.opts.Debug
}

// Drops the cached templates and the manifest.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cache = make(map[string]*template.Template)
	e.manifest = nil
}

// Invalidates the caches whenever a template or the manifest changes, until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	w := watcher.NewWatcher(e.opts.Logger, func(name string) {
		e.opts.Logger.Verbose().Printf("%s changed, reloading templates\n", name)
		e.Invalidate()
	})
	w.Ignores = append(w.Ignores, watcher.GlobIgnorer("node_modules", "*.tmp"))

	return w.Watch(ctx, e.opts.ViewsDir, path.Dir(e.opts.ManifestPath))
}

func (e *Engine) funcs() template.FuncMap {
	return template.FuncMap{
		"assetURL": e.AssetURL,
		"json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	}
}

func (e *Engine) templateFile(name string) (string, bool) {
	for _, candidate := range []string{name, name + ".html", name + ".tmpl"} {
		p := path.Join(e.opts.ViewsDir, candidate)
		if stat, err := e.opts.Fs.Stat(p); err == nil && !stat.IsDir() {
			return p, true
		}
	}

	return "", false
}

// Checks if a template exists in the views directory.
func (e *Engine) Exists(name string) bool {
	_, ok := e.templateFile(name)
	return ok
}

func (e *Engine) lookup(name string) (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.cache[name]; ok {
		return t, nil
	}

	var src string
	if file, ok := e.templateFile(name); ok {
		b, err := afero.ReadFile(e.opts.Fs, file)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		src = string(b)
	} else if builtin, ok := builtinTemplates[name]; ok {
		src = builtin
	} else {
		return nil, Error.New("template %s not found", name)
	}

	t, err := template.New(name).Funcs(e.funcs()).Parse(src)
	if err != nil {
		return nil, Error.New("template %s: %v", name, err)
	}

	e.cache[name] = t

	return t, nil
}

// Renders a template.
//
// Pages (see PageName) are rendered through the base template; page carries their per request data. The returned error is a *StatusError when the frontend assets are not available.
func (e *Engine) Render(w io.Writer, name string, data map[string]interface{}, page *Page) error {
	if data == nil {
		data = make(map[string]interface{})
	}

	isDev := e.IsDev()
	data["isDev"] = isDev
	if name == "error" {
		data["debug"] = e.opts.Debug
	}

	pageName, isPage := PageName(name)
	if isPage {
		assets, err := e.assetTags(isDev)
		if err != nil {
			return err
		}

		if page == nil {
			page = &Page{}
		}

		app := map[string]interface{}{
			"session":  withoutPassword(page.Session),
			"settings": page.Settings,
			"page":     pageName,
			"routes":   page.Routes,
		}
		for k, v := range data {
			app[k] = v
		}

		data["app"] = app
		data["assets"] = assets
		name = "base"
	}

	t, err := e.lookup(name)
	if err != nil {
		return err
	}

	// Rendering into a buffer first keeps half rendered pages away from the client.
	buf := bytes.NewBuffer(nil)
	if err := t.Execute(buf, data); err != nil {
		return Error.New("rendering %s failed: %v", name, err)
	}

	_, err = buf.WriteTo(w)
	return err
}

func withoutPassword(session map[string]interface{}) map[string]interface{} {
	if session == nil {
		return map[string]interface{}{}
	}

	filtered := make(map[string]interface{}, len(session))
	for k, v := range session {
		if k != "password" {
			filtered[k] = v
		}
	}

	return filtered
}

// Returns the script and style tags of the frontend.
func (e *Engine) assetTags(isDev bool) (template.HTML, error) {
	var data map[string]interface{}

	if isDev {
		if !e.viteServerRunning() {
			se := &StatusError{Status: http.StatusInternalServerError, Message: "Development server not detected."}
			if e.opts.Debug {
				se.Hint = "Make sure the Vite dev server is running.<br>If this is a mistake, delete the <code>storage/hot</code> file."
			}
			return "", se
		}

		base := strings.TrimRight(e.opts.ViteDevURL, "/")
		data = map[string]interface{}{
			"scripts": []string{base + "/@vite/client", base + "/" + strings.TrimLeft(e.opts.Entry, "/")},
		}
	} else {
		manifest, err := e.Manifest()
		if err != nil || len(manifest) == 0 {
			se := &StatusError{Status: http.StatusInternalServerError, Message: "Manifest file not found"}
			if e.opts.Debug {
				se.Hint = "Make sure you have built the project.<br>Not sure? Run <code>npx vite build</code>."
			}
			return "", se
		}

		assets, err := manifest.ResolveAssets(e.opts.Entry)
		if err != nil {
			return "", &StatusError{Status: http.StatusInternalServerError, Message: err.Error()}
		}

		var styles, scripts []string
		for _, a := range assets {
			if strings.HasSuffix(a, ".css") {
				styles = append(styles, e.AssetURL(a))
			} else {
				scripts = append(scripts, e.AssetURL(a))
			}
		}
		data = map[string]interface{}{
			"styles":  styles,
			"scripts": scripts,
		}
	}

	t, err := e.lookup("assets")
	if err != nil {
		return "", err
	}

	buf := bytes.NewBuffer(nil)
	if err := t.Execute(buf, data); err != nil {
		return "", Error.Wrap(err)
	}

	return template.HTML(buf.String()), nil
}

func (e *Engine) viteServerRunning() bool {
	if e.opts.ViteDevURL == "" {
		return false
	}

	resp, err := e.opts.Client.Get(e.opts.ViteDevURL)
	if err != nil {
		e.opts.Logger.Verbose().Println(err)
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Returns the public URL of a built asset.
func (e *Engine) AssetURL(p string) string {
	return strings.TrimRight(e.opts.AssetBase, "/") + "/assets/" + strings.TrimLeft(p, "/")
}

// Loads (and caches) the Vite manifest.
func (e *Engine) Manifest() (Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.manifest != nil {
		return e.manifest, nil
	}

	f, err := e.opts.Fs.Open(e.opts.ManifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Error.New("manifest %s not found", e.opts.ManifestPath)
		}
		return nil, Error.Wrap(err)
	}
	defer f.Close()

	m := Manifest{}
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, Error.New("invalid manifest %s: %v", e.opts.ManifestPath, err)
	}

	e.manifest = m

	return m, nil
}

var builtinTemplates = map[string]string{
	"assets": `{{range .styles}}<link rel="stylesheet" href="{{.}}">
{{end}}{{range .scripts}}<script type="module" src="{{.}}"></script>
{{end}}`,
	"base": `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
{{.assets}}</head>
<body>
<div id="app" data-page="{{json .app}}"></div>
</body>
</html>
`,
	"error": `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.status}}</title></head>
<body>
<h1>{{.status}}</h1>
<p>{{.message}}</p>
{{if .hint}}<p>Hint: {{.hint}}</p>{{end}}
{{if .code}}<p>Error code: <code>{{.code}}</code></p>{{end}}
{{if .debug}}{{if .exception}}<pre>{{.exception}}</pre>{{end}}{{if .logs}}<pre>{{.logs}}</pre>{{end}}{{end}}
</body>
</html>
`,
	"maintenance": `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Maintenance</title></head>
<body>
<h1>We'll be back soon.</h1>
<p>The site is currently down for maintenance.</p>
</body>
</html>
`,
}
