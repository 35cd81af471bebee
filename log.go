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
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulseframe/pulse/lib/log"
)

const logKey contextKey = "pulselog"
const logBufKey contextKey = "pulselogbuf"
const requestIDKey contextKey = "pulserequestid"

// Header carrying the request id. An incoming UUID is kept, so ids can be followed through proxies.
const RequestIDHeader = "X-Request-ID"

func DefaultLoggerMiddleware(level log.LogLevel) func(http.Handler) http.Handler {
	return LoggerMiddleware(
		level,
		log.UserLogFactory,
		log.VerboseLogFactory,
		log.TraceLogFactory,
		os.Stdout,
	)
}

// Puts a logger and a request id into the request context.
//
// Everything logged during the request is also collected into a buffer, which is shown on the error page in debug mode (see RequestLogs). The request id is sent back in the X-Request-ID header.
func LoggerMiddleware(level log.LogLevel, userLogFactory, verboseLogFactory, traceLogFactory func(w io.Writer) log.Logger, lw io.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			buf := &syncBuffer{}
			mw := io.MultiWriter(buf, lw)
			l := log.NewLogger(
				userLogFactory(mw),
				verboseLogFactory(mw),
				traceLogFactory(mw),
			)
			l.Level = level

			r = SetContext(r, logKey, l)
			r = SetContext(r, logBufKey, buf)
			r = SetContext(r, requestIDKey, id)

			next.ServeHTTP(w, r)
		})
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Returns the id of the current request, or an empty string outside of LoggerMiddleware.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// Returns the log lines of the current request.
func RequestLogs(r *http.Request) string {
	if buf, ok := r.Context().Value(logBufKey).(*syncBuffer); ok {
		return buf.String()
	}

	return ""
}

var discardLog = log.DefaultLogger(io.Discard)

func logFromContext(r *http.Request) *log.Log {
	if l, ok := r.Context().Value(logKey).(*log.Log); ok {
		return l
	}

	return discardLog
}

func LogUser(r *http.Request) log.Logger {
	return logFromContext(r).User()
}

func LogVerbose(r *http.Request) log.Logger {
	return logFromContext(r).Verbose()
}

func LogTrace(r *http.Request) log.Logger {
	return logFromContext(r).Trace()
}

// Writes a line for every request: method, path, status code, duration and the request id when LoggerMiddleware set one.
func RequestLoggerMiddleware(out io.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusResponseWriter{ResponseWriter: w}

			defer func() {
				code := sw.code
				if code == 0 {
					code = http.StatusOK
				}
				line := fmt.Sprintf("%s %s %s %d %s", start.Format("2006-01-02 15:04:05"), r.Method, r.URL.RequestURI(), code, time.Since(start))
				if id := sw.Header().Get(RequestIDHeader); id != "" {
					line += " " + id
				}
				fmt.Fprintln(out, line)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
