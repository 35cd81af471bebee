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

// Generic logger package
//
// There are 3 loglevels for every Log. The user level is what should
// go into every log: startup messages, console output, migrations.
// The verbose level is for development or when a site misbehaves. The
// trace level is for debugging the framework itself.
//
// Errors that must survive a restart go to an ErrorLog, which writes
// one file per day into the storage directory.
package log

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/agtorre/gocolorize"
)

type LogLevel int8

const (
	LOG_USER LogLevel = iota
	LOG_VERBOSE
	LOG_TRACE
	LOG_OFF = -1
)

var levelNames = map[LogLevel]string{
	LOG_OFF:     "off",
	LOG_USER:    "user",
	LOG_VERBOSE: "verbose",
	LOG_TRACE:   "trace",
}

func (lv LogLevel) String() string {
	if name, ok := levelNames[lv]; ok {
		return name
	}

	return "unknown"
}

// Parses a level name ("user", "verbose", "trace", "off"), as found in the log_level setting. Unknown names fall back to LOG_USER.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "verbose", "debug":
		return LOG_VERBOSE
	case "trace":
		return LOG_TRACE
	case "off", "none":
		return LOG_OFF
	}

	return LOG_USER
}

type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

var (
	verbosePrefix = gocolorize.NewColor("white+b:magenta").Paint("DEBUG") + " "
	tracePrefix   = gocolorize.NewColor("black+b:white").Paint("TRACE") + " "
)

// Creates a user level logger: timestamped lines without a prefix.
func UserLogFactory(w io.Writer) Logger {
	return log.New(w, "", log.LstdFlags)
}

// Creates a verbose level logger, which marks the lines with a colored DEBUG label and the source file.
func VerboseLogFactory(w io.Writer) Logger {
	return log.New(w, verbosePrefix, log.Lshortfile)
}

// Creates a trace level logger with microsecond timestamps.
func TraceLogFactory(w io.Writer) Logger {
	return log.New(w, tracePrefix, log.Ltime|log.Lmicroseconds|log.Lshortfile)
}

// A leveled logger. The loggers above Level discard their input.
type Log struct {
	Level   LogLevel
	loggers [3]Logger
}

func NewLogger(user, verbose, trace Logger) *Log {
	return &Log{
		loggers: [3]Logger{user, verbose, trace},
	}
}

// Creates a Log with the default factories that writes to w.
func DefaultLogger(w io.Writer) *Log {
	return NewLogger(
		UserLogFactory(w),
		VerboseLogFactory(w),
		TraceLogFactory(w),
	)
}

// Creates a Log that writes to stdout.
func DefaultOSLogger() *Log {
	return DefaultLogger(os.Stdout)
}

// Returns the logger of the given level, or a discarding one if the level is not enabled.
func (l *Log) At(level LogLevel) Logger {
	if level < LOG_USER || int(level) >= len(l.loggers) || l.Level < level || l.loggers[level] == nil {
		return discard
	}

	return l.loggers[level]
}

func (l *Log) User() Logger {
	return l.At(LOG_USER)
}

func (l *Log) Verbose() Logger {
	return l.At(LOG_VERBOSE)
}

func (l *Log) Trace() Logger {
	return l.At(LOG_TRACE)
}

// Returns the user level logger as a *log.Logger, e.g. for http.Server.ErrorLog. Nil if the user logger is not a *log.Logger.
func (l *Log) StdLogger() *log.Logger {
	std, _ := l.At(LOG_USER).(*log.Logger)
	return std
}

var discard Logger = log.New(io.Discard, "", 0)
