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
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"runtime/debug"

	"github.com/pulseframe/pulse/lib/log"
	"github.com/pulseframe/pulse/util"
	"github.com/pulseframe/pulse/view"
)

// Color codes for HTML error pages
var (
	OtherForegroundColor   = "fdf6e3"
	WarningForegroundColor = "fdf6e3"
	ErrorForegroundColor   = "fdf6e3"
	OtherBackgroundColor   = "268bd2"
	WarningBackgroundColor = "b58900"
	ErrorBackgroundColor   = "dc322f"
)

// Messages shown to the user for the given status codes.
var StatusMessages = map[int]string{
	http.StatusUnauthorized:        "Unauthorized access.",
	http.StatusForbidden:           "Access denied.",
	http.StatusNotFound:            "The page you are looking for could not be found.",
	http.StatusMethodNotAllowed:    "The method you are using is not supported.",
	http.StatusTooManyRequests:     "Rate limit exceeded.",
	http.StatusInternalServerError: "An internal server error occurred.",
	http.StatusServiceUnavailable:  "Service unavailable.",
}

// Returns the user facing message of a status code.
func StatusMessage(code int) string {
	if msg, ok := StatusMessages[code]; ok {
		return msg
	}
	if code >= 500 {
		return StatusMessages[http.StatusInternalServerError]
	}

	return http.StatusText(code)
}

type VerboseError interface {
	// Error that is displayed in the logs and debug messages. Should contain diagnostical information.
	Error() string
	// Error that is displayed to the end user.
	VerboseError() string
}

var _ VerboseError = errorWrapper{}

type errorWrapper struct {
	error
	verboseMessage string
}

func (ew errorWrapper) VerboseError() string {
	return ew.verboseMessage
}

func (ew errorWrapper) Unwrap() error {
	return ew.error
}

func WrapError(err error, verboseMessage string) VerboseError {
	return errorWrapper{
		error:          err,
		verboseMessage: verboseMessage,
	}
}

// Creates a new verbose error message.
//
// If err is an empty string, then verboseMessage will be used it instead.
func NewVerboseError(err, verboseMessage string) VerboseError {
	if err == "" {
		err = verboseMessage
	}

	return WrapError(errors.New(err), verboseMessage)
}

var _ VerboseError = Panic{}

// Custom panic data structure for the ErrorHandler
type Panic struct {
	Code       int
	Err        error
	StackTrace string
	// Identifies this occurrence of the error in the logs and in the error tracker.
	ErrorCode string

	displayErrors bool
}

func (p Panic) Error() string {
	if p.Err == nil {
		return StatusMessage(p.Code)
	}

	return p.Err.Error()
}

func (p Panic) String() string {
	return p.Error()
}

func (p Panic) Unwrap() error {
	return p.Err
}

func (p Panic) VerboseError() string {
	var ve VerboseError
	if errors.As(p.Err, &ve) {
		return ve.VerboseError()
	}

	return ""
}

// The message for the end user.
func (p Panic) Message() string {
	if ve := p.VerboseError(); ve != "" {
		return ve
	}

	var se *view.StatusError
	if errors.As(p.Err, &se) {
		return se.Message
	}

	return StatusMessage(p.Code)
}

// Outputs the error to the HTTP response.
//
// It can render the error in 3 formats: HTML, JSON and text, depending on the Accept header. The default is HTML.
func (p Panic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rd := NewRenderer().SetCode(p.Code)

	pageData := ErrorPageData{
		BackgroundColor: p.backgroundColor(),
		ForegroundColor: p.foregroundColor(),
		Code:            p.Code,
		ErrorCode:       p.ErrorCode,
		Message:         p.Message(),
	}

	if p.displayErrors && p.Err != nil {
		pageData.Message = p.Error()
	}

	logs := ""
	if p.displayErrors {
		logs = p.StackTrace + "\n\n" + util.StripTerminalColorCodes(RequestLogs(r))
	}

	pageData.Logs = logs

	jsonMap := map[string]string{
		"status":  "error",
		"message": pageData.Message,
		"code":    p.ErrorCode,
	}
	text := pageData.Message
	if p.displayErrors {
		jsonMap["logs"] = logs
		text += "\n\n" + logs
	}

	rd.
		HTML(ErrorPage, pageData).
		JSON(jsonMap).
		Text(text)

	rd.Render(w, r)
}

func (p Panic) backgroundColor() string {
	return decideColor(p.Code, OtherBackgroundColor, WarningBackgroundColor, ErrorBackgroundColor)
}

func (p Panic) foregroundColor() string {
	return decideColor(p.Code, OtherForegroundColor, WarningForegroundColor, ErrorForegroundColor)
}

func decideColor(code int, other, warn, err string) string {
	if code >= 500 && code <= 599 {
		return err
	}
	if code >= 400 && code <= 499 {
		return warn
	}
	return other
}

// Renders a recovered error.
type ErrorHandler interface {
	HandleError(w http.ResponseWriter, r *http.Request, p Panic)
}

type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, p Panic)

func (f ErrorHandlerFunc) HandleError(w http.ResponseWriter, r *http.Request, p Panic) {
	f(w, r, p)
}

// Renders the error with the built-in error page.
func HandleError(w http.ResponseWriter, r *http.Request, p Panic) {
	if p.Err != nil {
		LogVerbose(r).Println(p.Err)
		LogTrace(r).Println(p.StackTrace)
	}

	p.ServeHTTP(w, r)
}

// Error handler middleware. Recovers from panics in the following middlewares and the handler, and passes them to the ErrorHandler.
//
// A Panic value (see Fail()) keeps its status code, anything else becomes an internal server error. Every error gets a new error code. The displayErrors parameter sends the error messages to the user, which is useful in a development environment.
func ErrorHandlerMiddleware(eh ErrorHandler, displayErrors bool) func(http.Handler) http.Handler {
	if eh == nil {
		eh = ErrorHandlerFunc(HandleError)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				p, ok := rec.(Panic)
				if !ok {
					err, ok := rec.(error)
					if !ok {
						err = errors.New(fmt.Sprint(rec))
					}
					p = Panic{
						Code: http.StatusInternalServerError,
						Err:  err,
					}
				}

				if p.Code == 0 {
					p.Code = http.StatusInternalServerError
				}
				p.displayErrors = displayErrors
				p.StackTrace = string(debug.Stack())
				p.ErrorCode = util.ErrorCode()

				eh.HandleError(w, r, p)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Aborts the request with the given status code.
//
// The panic is recovered by ErrorHandlerMiddleware.
func Fail(code int, err error) {
	panic(Panic{
		Code: code,
		Err:  err,
	})
}

// Calls Fail() if err is not nil and not any of excludedErrors.
func MaybeFail(code int, err error, excludedErrors ...error) {
	if err == nil {
		return
	}

	for _, e := range excludedErrors {
		if errors.Is(err, e) {
			return
		}
	}

	Fail(code, err)
}

// The error handler of an application.
//
// Errors are written to the error log. Server errors are also reported to the Reporter, tagged with the error code. GET requests get an HTML page rendered with the "error" view, other requests get a JSON document: {"status": "error", "message": ..., "code": ...}.
type ExceptionHandler struct {
	View     *view.Engine
	Log      *log.ErrorLog
	Reporter Reporter
	// In the development stage the JSON responses contain the error message.
	Stage string
}

func (h *ExceptionHandler) HandleError(w http.ResponseWriter, r *http.Request, p Panic) {
	LogVerbose(r).Printf("[%s] %s\n", p.ErrorCode, p.Error())
	LogTrace(r).Println(p.StackTrace)

	if h.Log != nil {
		if err := h.Log.Error(p.Error(), map[string]string{
			"Code":    p.ErrorCode,
			"Status":  fmt.Sprint(p.Code),
			"URL":     r.Method + " " + r.URL.RequestURI(),
			"Request": RequestID(r),
			"Trace":   p.StackTrace,
		}); err != nil {
			LogUser(r).Println(err)
		}
	}

	if h.Reporter != nil && p.Code >= 500 {
		err := p.Err
		if err == nil {
			err = errors.New(p.Error())
		}
		h.Reporter.Report(err, map[string]string{"error_code": p.ErrorCode})
	}

	message := p.Message()
	if p.displayErrors && p.Err != nil {
		message = p.Error()
	}

	jsonMessage := message
	if h.Stage == "development" {
		jsonMessage = p.Error()
	}
	jsonMap := map[string]string{
		"status":  "error",
		"message": jsonMessage,
		"code":    p.ErrorCode,
	}

	rd := NewRenderer().SetCode(p.Code)

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if page, err := h.errorPage(r, p, message); err == nil {
			rd.HTMLBytes(page)
		} else {
			LogVerbose(r).Println(err)
			pageData := ErrorPageData{
				BackgroundColor: p.backgroundColor(),
				ForegroundColor: p.foregroundColor(),
				Code:            p.Code,
				ErrorCode:       p.ErrorCode,
				Message:         message,
			}
			rd.HTML(ErrorPage, pageData)
		}
	}

	rd.JSON(jsonMap).Render(w, r)
}

func (h *ExceptionHandler) errorPage(r *http.Request, p Panic, message string) ([]byte, error) {
	if h.View == nil {
		return nil, errors.New("no view engine")
	}

	data := map[string]interface{}{
		"status":  p.Code,
		"message": message,
		"code":    p.ErrorCode,
	}
	if h.View.Debug() {
		data["exception"] = p.Error() + "\n\n" + p.StackTrace
		data["logs"] = util.StripTerminalColorCodes(RequestLogs(r))
	}

	var se *view.StatusError
	if errors.As(p.Err, &se) {
		data["hint"] = se.Hint
	}

	buf := bytes.NewBuffer(nil)
	if err := h.View.Render(buf, "error", data, nil); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Data for the ErrorPage template.
type ErrorPageData struct {
	BackgroundColor string
	ForegroundColor string
	Code            int
	ErrorCode       string
	Message         string
	Logs            string
}

// HTML template for the built-in error page.
var ErrorPage = template.Must(template.New("ErrorPage").Parse(`<!DOCTYPE HTML>
<html>
<head>
	<meta charset="utf-8" />
	<title>Error</title>
	<style type="text/css">
		body {
			background-color: #{{.BackgroundColor}};
			color: #{{.ForegroundColor}};
		}
	</style>
</head>
	<body>
		<h1>HTTP Error {{.Code}}</h1>
		<p>{{.Message}}</p>
		{{if .ErrorCode}}<p>Error code: <code>{{.ErrorCode}}</code></p>{{end}}
		<hr/>
		<pre>{{.Logs}}</pre>
	</body>
</html>
`))
