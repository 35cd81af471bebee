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

package log

import (
	"bytes"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/afero"
)

func TestLevels(t *testing.T) {
	Convey("Given a logger writing into a buffer", t, func() {
		buf := bytes.NewBuffer(nil)
		l := DefaultLogger(buf)

		Convey("The user level must hide verbose messages", func() {
			l.Level = LOG_USER
			l.Verbose().Println("hidden")
			l.User().Println("shown")
			So(buf.String(), ShouldContainSubstring, "shown")
			So(buf.String(), ShouldNotContainSubstring, "hidden")
		})

		Convey("The off level must hide everything", func() {
			l.Level = LOG_OFF
			l.User().Println("hidden")
			So(buf.Len(), ShouldEqual, 0)
		})
	})

	Convey("Level names should be parsed", t, func() {
		So(ParseLevel("trace"), ShouldEqual, LOG_TRACE)
		So(ParseLevel("Verbose"), ShouldEqual, LOG_VERBOSE)
		So(ParseLevel("off"), ShouldEqual, LogLevel(LOG_OFF))
		So(ParseLevel("whatever"), ShouldEqual, LOG_USER)
	})
}

func TestErrorLog(t *testing.T) {
	Convey("Given an error log on an in-memory filesystem", t, func() {
		fs := afero.NewMemMapFs()
		el := NewErrorLog(fs, "/storage/logs", "pulse")
		el.Now = func() time.Time {
			return time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)
		}

		Convey("Records must be appended to the daily file", func() {
			So(el.Error("first", map[string]string{"b": "2", "a": "1"}), ShouldBeNil)
			So(el.Exception(errors.New("boom"), "trace"), ShouldBeNil)

			content, err := afero.ReadFile(fs, "/storage/logs/2024-03-09.log")
			So(err, ShouldBeNil)
			So(string(content), ShouldEqual, "2024-03-09 10:11:12 pulse.ERROR: first\na 1\nb 2\n"+
				"2024-03-09 10:11:12 pulse.ERROR: Exception occurred:\nException boom\nTrace trace\n")
		})
	})
}

func TestAt(t *testing.T) {
	Convey("Given a trace level logger", t, func() {
		buf := bytes.NewBuffer(nil)
		l := DefaultLogger(buf)
		l.Level = LOG_TRACE

		Convey("Every level must write", func() {
			l.At(LOG_USER).Print("user")
			l.At(LOG_VERBOSE).Print("verbose")
			l.At(LOG_TRACE).Print("trace")
			So(buf.String(), ShouldContainSubstring, "user")
			So(buf.String(), ShouldContainSubstring, "verbose")
			So(buf.String(), ShouldContainSubstring, "trace")
		})

		Convey("Unknown levels must discard", func() {
			l.At(LogLevel(7)).Print("lost")
			l.At(LOG_OFF).Print("lost")
			So(buf.Len(), ShouldEqual, 0)
		})

		Convey("The standard logger must be exposed", func() {
			So(l.StdLogger(), ShouldNotBeNil)
		})
	})

	Convey("Level names", t, func() {
		So(LOG_VERBOSE.String(), ShouldEqual, "verbose")
		So(LogLevel(LOG_OFF).String(), ShouldEqual, "off")
		So(LogLevel(9).String(), ShouldEqual, "unknown")
	})
}
