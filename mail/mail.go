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

// Mail facade. Sends HTML mails through SMTP.
package mail

import (
	"github.com/pulseframe/pulse/config"
	"github.com/zeebo/errs"
	"gopkg.in/gomail.v2"
)

var Error = errs.Class("mail")

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  string
	FromAddress string
	FromName    string
	// Subjects are prefixed with "Development - " when Stage is development.
	Stage string
}

// Reads the smtp.* settings and app.stage.
func FromEnv(env *config.Env) Config {
	port := env.GetInt("smtp.port")
	if port == 0 {
		port = 587
	}

	return Config{
		Host:        env.GetString("smtp.host"),
		Port:        port,
		Username:    env.GetString("smtp.username"),
		Password:    env.GetString("smtp.password"),
		Encryption:  env.GetString("smtp.encryption"),
		FromAddress: env.GetString("smtp.from_address"),
		FromName:    env.GetString("smtp.from_name"),
		Stage:       env.GetString("app.stage"),
	}
}

// Delivers messages. *gomail.Dialer implements it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Attachment struct {
	Path string
	// Name shown in the mail. Empty keeps the file name.
	Name string
}

type Mailer struct {
	Config Config
	Dialer Dialer
}

func NewMailer(cfg Config) *Mailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.Encryption == "ssl" || cfg.Port == 465

	return &Mailer{
		Config: cfg,
		Dialer: d,
	}
}

// Builds the message without sending it.
func (m *Mailer) Message(to, subject, body, altBody string, attachments ...Attachment) (*gomail.Message, error) {
	if to == "" {
		return nil, Error.New("recipient is empty")
	}
	if m.Config.FromAddress == "" {
		return nil, Error.New("smtp.from_address is not set")
	}

	if m.Config.Stage == "development" {
		subject = "Development - " + subject
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.Config.FromAddress, m.Config.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)
	if altBody != "" {
		msg.AddAlternative("text/plain", altBody)
	}

	for _, a := range attachments {
		if a.Name != "" {
			msg.Attach(a.Path, gomail.Rename(a.Name))
		} else {
			msg.Attach(a.Path)
		}
	}

	return msg, nil
}

// Sends an HTML mail with an optional plain text alternative and attachments.
func (m *Mailer) Send(to, subject, body, altBody string, attachments ...Attachment) error {
	msg, err := m.Message(to, subject, body, altBody, attachments...)
	if err != nil {
		return err
	}

	if err := m.Dialer.DialAndSend(msg); err != nil {
		return Error.New("sending mail to %s failed: %v", to, err)
	}

	return nil
}
