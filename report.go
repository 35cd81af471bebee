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
	"time"

	"github.com/getsentry/sentry-go"
)

// Sends errors to an error tracking service.
type Reporter interface {
	Report(err error, tags map[string]string)
	// Waits until the buffered reports are sent, or the timeout passes.
	Flush(timeout time.Duration) bool
}

// Reports errors to Sentry.
type SentryReporter struct {
	hub *sentry.Hub
}

// Creates a reporter for the given DSN. Every transaction is sampled.
func NewSentryReporter(dsn, environment, release string) (*SentryReporter, error) {
	return NewSentryReporterWithOptions(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
}

func NewSentryReporterWithOptions(opts sentry.ClientOptions) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}

	return &SentryReporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
	}, nil
}

func (r *SentryReporter) Report(err error, tags map[string]string) {
	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
	})
	hub.CaptureException(err)
}

func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Discards every report. Used when no DSN is configured.
type NopReporter struct{}

func (NopReporter) Report(error, map[string]string) {}

func (NopReporter) Flush(time.Duration) bool {
	return true
}
