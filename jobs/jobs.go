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
Cron jobs.

Jobs are registered with a standard cron expression. The run:cronjobs command is meant to be started periodically by the system cron; each run executes the jobs that became due since their last successful run. The last run of every job is stored in the job_status table.
*/
package jobs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pulseframe/pulse/database"
	"github.com/pulseframe/pulse/migrate"
	"github.com/robfig/cron/v3"
	"github.com/zeebo/errs"
)

var Error = errs.Class("jobs")

const StatusTable = "job_status"

// The last run of a job that never ran.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

func init() {
	migrate.RegisterFramework("0001_create_job_status_table", migrate.MigrationFuncs{
		UpFunc: func(ctx context.Context, s *migrate.Schema) error {
			return s.CreateTable(ctx, StatusTable, []migrate.Column{
				{Name: "job_name", Type: "VARCHAR(255) NOT NULL PRIMARY KEY"},
				{Name: "last_run", Type: "TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00'"},
			})
		},
		DownFunc: func(ctx context.Context, s *migrate.Schema) error {
			return s.DropTable(ctx, StatusTable)
		},
	})
}

// Passed to a running job.
type Context struct {
	Name    string
	DB      *database.Manager
	LastRun time.Time
	Now     time.Time
	// The job's log file for the current day.
	Log io.Writer
}

func (c *Context) Printf(format string, v ...interface{}) {
	fmt.Fprintf(c.Log, format, v...)
}

type Job interface {
	Process(ctx context.Context, c *Context) error
}

type JobFunc func(ctx context.Context, c *Context) error

func (f JobFunc) Process(ctx context.Context, c *Context) error {
	return f(ctx, c)
}

type entry struct {
	schedule cron.Schedule
	job      Job
}

// Always due.
type everyRun struct{}

func (everyRun) Next(t time.Time) time.Time {
	return t
}

type Registry struct {
	mu   sync.Mutex
	jobs map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]entry),
	}
}

var Default = NewRegistry()

// Registers a job. An empty schedule means the job runs every time.
func (r *Registry) Register(name, schedule string, job Job) error {
	var s cron.Schedule = everyRun{}
	if schedule != "" {
		parsed, err := cron.ParseStandard(schedule)
		if err != nil {
			return Error.New("invalid schedule %q for job %s: %v", schedule, name, err)
		}
		s = parsed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[name]; ok {
		return Error.New("job %s is already registered", name)
	}

	r.jobs[name] = entry{schedule: s, job: job}

	return nil
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (r *Registry) get(name string) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[name]
	return e, ok
}

// Registers a job in the default registry. Panics on an invalid schedule or a duplicate name.
func Register(name, schedule string, job Job) {
	if err := Default.Register(name, schedule, job); err != nil {
		panic(err)
	}
}

// Checks if a job with the given schedule is due at now.
func due(s cron.Schedule, lastRun, now time.Time) bool {
	return !s.Next(lastRun).After(now)
}
