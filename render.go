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
	"encoding/json"
	"encoding/xml"
	"html/template"
	"io"
	"mime"
	"net/http"

	"github.com/golang/gddo/httputil"
)

const renderKey contextKey = "pulserender"

// Global switch for the ")]}',\n" JSON response prefix.
//
// This prefix increases security for browser-based applications, but requires extra support on the client side. It is off by default.
var JSONPrefix = false

// Middleware for the Render API.
//
// The ResponseWriter of the following middlewares and the page handler does not write the headers on WriteHeader(), it just sets the Code of the Renderer. This way the session middleware, which comes after this one, can still set its cookie after the handler returned.
func RendererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renderer := NewRenderer()
		r = SetContext(r, renderKey, renderer)
		next.ServeHTTP(&rendererResponseWriter{
			ResponseWriter: w,
			Renderer:       renderer,
		}, r)
		renderer.Render(w, r)
	})
}

// Gets the Renderer struct from the request context.
func Render(r *http.Request) *Renderer {
	return r.Context().Value(renderKey).(*Renderer)
}

// A per-request struct for the Render API.
//
// The Render API handles content negotiation with the client. The server's preference is the order how the offers are added by either the AddOffer() low-level method or the JSON()/HTML()/Text() higher level methods.
//
// A quick example how to use the Render API:
//
//	func pageHandler(w http.ResponseWriter, r *http.Request) {
//		...
//		pulse.Render(r).
//			HTML(pageTemplate, data).
//			JSON(data)
//	}
//
// In this example, the server prefers rendering an HTML page, but it can render a JSON if that's the client's preference.
type Renderer struct {
	handlers map[string]func(w http.ResponseWriter)
	offers   []string
	headers  http.Header
	rendered bool
	Code     int // HTTP status code.
}

func NewRenderer() *Renderer {
	return &Renderer{
		handlers: make(map[string]func(w http.ResponseWriter)),
		offers:   make([]string, 0),
		headers:  make(http.Header),
	}
}

// Sets the HTTP status code.
func (r *Renderer) SetCode(code int) *Renderer {
	r.Code = code
	return r
}

// Sets a response header. The headers are written together with the chosen offer.
func (r *Renderer) Header(key, value string) *Renderer {
	r.headers.Set(key, value)
	return r
}

// Adds an offer for the content negotiation.
//
// The mediaType is the content type, the handler renders the data to the ResponseWriter. Adding the same media type again replaces the handler but keeps its place in the preference order.
func (r *Renderer) AddOffer(mediaType string, handler func(w http.ResponseWriter)) *Renderer {
	if _, ok := r.handlers[mediaType]; !ok {
		r.offers = append(r.offers, mediaType)
	}
	r.handlers[mediaType] = handler

	return r
}

// Offers a file download. If reader is an io.ReadCloser, it is closed after the download.
func (r *Renderer) Download(mediaType, filename string, reader io.Reader) *Renderer {
	return r.AddOffer(mediaType, func(w http.ResponseWriter) {
		if rc, ok := reader.(io.ReadCloser); ok {
			defer rc.Close()
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
		io.Copy(w, reader)
	})
}

func (r *Renderer) JSON(v interface{}) *Renderer {
	return r.AddOffer("application/json", func(w http.ResponseWriter) {
		if JSONPrefix {
			w.Write([]byte(")]}',\n"))
		}
		json.NewEncoder(w).Encode(v)
	})
}

func (r *Renderer) HTML(t *template.Template, v interface{}) *Renderer {
	return r.AddOffer("text/html", func(w http.ResponseWriter) {
		t.Execute(w, v)
	})
}

// Adds an already rendered HTML document, e.g. a page of the view engine.
func (r *Renderer) HTMLBytes(b []byte) *Renderer {
	return r.AddOffer("text/html", func(w http.ResponseWriter) {
		w.Write(b)
	})
}

func (r *Renderer) Text(t string) *Renderer {
	return r.AddOffer("text/plain", func(w http.ResponseWriter) {
		w.Write([]byte(t))
	})
}

// Adds an XML offer. A pretty document is indented and offered as text/xml instead of application/xml.
func (r *Renderer) XML(v interface{}, pretty bool) *Renderer {
	mt := "application/xml"
	if pretty {
		mt = "text/xml"
	}

	return r.AddOffer(mt, func(w http.ResponseWriter) {
		e := xml.NewEncoder(w)
		if pretty {
			e.Indent("", "\t")
		}
		e.Encode(v)
	})
}

func (r *Renderer) CSV(records [][]string) *Renderer {
	return r.AddOffer("text/csv", func(w http.ResponseWriter) {
		csv.NewWriter(w).WriteAll(records)
	})
}

// Adds a CSV offer for large exports. The write function gets the CSV writer; every flush of it is sent to the client right away. Streaming stops at the first error.
func (r *Renderer) CSVStream(write func(cw *csv.Writer) error) *Renderer {
	return r.AddOffer("text/csv", func(w http.ResponseWriter) {
		cw := csv.NewWriter(flushWriter{w})
		if err := write(cw); err != nil {
			return
		}
		cw.Flush()
	})
}

type flushWriter struct {
	w http.ResponseWriter
}

func (fw flushWriter) Write(b []byte) (int, error) {
	n, err := fw.w.Write(b)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// Renders the best offer according to the Accept header of the client. Without offers the response is empty: 204, or the code set with SetCode().
func (rr *Renderer) Render(w http.ResponseWriter, r *http.Request) {
	if rr.rendered {
		return
	}
	rr.rendered = true

	for key, values := range rr.headers {
		w.Header()[key] = values
	}

	if len(rr.offers) == 0 {
		if rr.Code == 0 || rr.Code == http.StatusOK {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(rr.Code)
		}
		return
	}

	ct := rr.offers[0]
	if len(rr.offers) > 1 {
		ct = httputil.NegotiateContentType(r, rr.offers, ct)
		w.Header().Add("Vary", "Accept")
	}

	w.Header().Set("Content-Type", ct)

	// The offer can still set headers before its first write.
	ow := &offerResponseWriter{ResponseWriter: w, code: rr.Code}
	rr.handlers[ct](ow)
	ow.writeHeader()
}

type offerResponseWriter struct {
	http.ResponseWriter
	code    int
	written bool
}

func (w *offerResponseWriter) writeHeader() {
	if w.written {
		return
	}
	w.written = true
	if w.code > 0 {
		w.ResponseWriter.WriteHeader(w.code)
	}
}

func (w *offerResponseWriter) WriteHeader(code int) {
	if !w.written && code > 0 {
		w.code = code
	}
	w.writeHeader()
}

func (w *offerResponseWriter) Write(b []byte) (int, error) {
	w.writeHeader()
	return w.ResponseWriter.Write(b)
}

func (w *offerResponseWriter) Flush() {
	w.writeHeader()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type rendererResponseWriter struct {
	http.ResponseWriter
	*Renderer
}

func (r *rendererResponseWriter) Header() http.Header {
	return r.ResponseWriter.Header()
}

func (r *rendererResponseWriter) Write(b []byte) (int, error) {
	if !r.Renderer.rendered {
		code := r.Renderer.Code
		if code == 0 {
			code = http.StatusOK
		}
		r.ResponseWriter.WriteHeader(code)
		r.Renderer.rendered = true
	}
	return r.ResponseWriter.Write(b)
}

// Overwrite of the WriteHeader function of the http.ResponseWriter interface.
//
// The headers are written later, by the Renderer or by the first Write().
// The Renderer's status code is overwritten if it is not set yet or the new code is not 200 or 0.
func (r *rendererResponseWriter) WriteHeader(code int) {
	if r.Renderer.Code == 0 || (code != http.StatusOK && code != 0) {
		r.Renderer.SetCode(code)
	}
}

func (r *rendererResponseWriter) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
