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

package mail

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pulseframe/pulse/config"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"
)

type recordingDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestMailer(t *testing.T) {
	Convey("Settings must be read from the environment", t, func() {
		v := viper.New()
		v.Set("smtp.host", "smtp.example.com")
		v.Set("smtp.port", 465)
		v.Set("smtp.from_address", "noreply@example.com")
		v.Set("app.stage", "production")

		cfg := FromEnv(config.NewEnv(v))
		So(cfg.Host, ShouldEqual, "smtp.example.com")
		So(cfg.Port, ShouldEqual, 465)
		So(cfg.FromAddress, ShouldEqual, "noreply@example.com")

		d, ok := NewMailer(cfg).Dialer.(*gomail.Dialer)
		So(ok, ShouldBeTrue)
		So(d.SSL, ShouldBeTrue)
	})

	Convey("Given a mailer in development", t, func() {
		d := &recordingDialer{}
		m := &Mailer{
			Config: Config{
				FromAddress: "noreply@example.com",
				FromName:    "PulseFrame",
				Stage:       "development",
			},
			Dialer: d,
		}

		Convey("The subject must be prefixed", func() {
			So(m.Send("ann@example.com", "Welcome", "<p>Hello</p>", "Hello"), ShouldBeNil)
			So(len(d.sent), ShouldEqual, 1)
			So(d.sent[0].GetHeader("Subject"), ShouldResemble, []string{"Development - Welcome"})
			So(d.sent[0].GetHeader("To"), ShouldResemble, []string{"ann@example.com"})

			buf := bytes.NewBuffer(nil)
			_, err := d.sent[0].WriteTo(buf)
			So(err, ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "<p>Hello</p>")
			So(buf.String(), ShouldContainSubstring, "text/plain")
		})

		Convey("Delivery errors must be reported", func() {
			d.err = errors.New("connection refused")
			err := m.Send("ann@example.com", "Welcome", "<p>Hello</p>", "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "connection refused")
		})

		Convey("A recipient is required", func() {
			So(m.Send("", "Welcome", "<p>Hello</p>", ""), ShouldNotBeNil)
			So(d.sent, ShouldBeEmpty)
		})
	})

	Convey("Production subjects must not be prefixed", t, func() {
		m := &Mailer{Config: Config{FromAddress: "noreply@example.com", Stage: "production"}}
		msg, err := m.Message("ann@example.com", "Welcome", "<p>Hello</p>", "")
		So(err, ShouldBeNil)
		So(msg.GetHeader("Subject"), ShouldResemble, []string{"Welcome"})
	})
}
