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

package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pulseframe/pulse/database"
	"github.com/pulseframe/pulse/lib/log"
	"github.com/spf13/afero"
	"github.com/zeebo/errs"
)

type Runner struct {
	DB         *database.Manager
	Connection string
	Registry   *Registry
	Fs         afero.Fs
	LogDir     string
	Out        io.Writer
	Logger     *log.Log
	Now        func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}

	return r.Now()
}

func (r *Runner) logger() *log.Log {
	if r.Logger == nil {
		return log.DefaultLogger(io.Discard)
	}

	return r.Logger
}

func (r *Runner) registry() *Registry {
	if r.Registry == nil {
		return Default
	}

	return r.Registry
}

// Runs every due job, or only the job named only.
//
// A failing job does not stop the others. The failures are written into the job's log file, and returned combined after every job ran.
func (r *Runner) Run(ctx context.Context, only string) error {
	names := r.registry().Names()
	if only != "" {
		if _, ok := r.registry().get(only); !ok {
			return Error.New("job %q is not registered", only)
		}
		names = []string{only}
	}

	if err := r.Fs.MkdirAll(r.LogDir, 0755); err != nil {
		return Error.Wrap(err)
	}

	var group errs.Group
	for _, name := range names {
		if err := r.runJob(ctx, name); err != nil {
			group.Add(Error.New("job %s: %v", name, err))
		}
	}

	fmt.Fprintln(r.Out, "Cron jobs ran.")

	return group.Err()
}

func (r *Runner) runJob(ctx context.Context, name string) error {
	e, _ := r.registry().get(name)
	now := r.now()

	dir := path.Join(r.LogDir, name)
	if err := r.Fs.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := r.Fs.OpenFile(path.Join(dir, "cronjob-"+now.Format("2006-01-02")+".txt"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	lastRun, err := r.lastRun(ctx, name)
	if err != nil {
		return err
	}

	if !due(e.schedule, lastRun, now) {
		r.logger().Verbose().Printf("job %s is not due (last run: %s)\n", name, lastRun.Format(time.RFC3339))
		return nil
	}

	jc := &Context{
		Name:    name,
		DB:      r.DB,
		LastRun: lastRun,
		Now:     now,
		Log:     f,
	}

	if err := process(ctx, e.job, jc); err != nil {
		fmt.Fprintf(f, "[Exception] %s\n", err.Error())
		fmt.Fprintf(r.Out, "Job '%s' failed.\n", name)
		return err
	}

	if _, err := r.DB.Execute(ctx, r.Connection,
		`UPDATE "`+StatusTable+`" SET "last_run" = :last_run WHERE "job_name" = :job_name`,
		map[string]interface{}{"last_run": now.UTC(), "job_name": name}); err != nil {
		return err
	}

	fmt.Fprintf(r.Out, "Job '%s' executed.\n", name)

	return nil
}

func process(ctx context.Context, job Job, jc *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	return job.Process(ctx, jc)
}

// Returns the last run of a job, creating its status row when missing.
func (r *Runner) lastRun(ctx context.Context, name string) (time.Time, error) {
	row, err := r.DB.Query(ctx, r.Connection,
		`SELECT "last_run" FROM "`+StatusTable+`" WHERE "job_name" = :job_name`,
		map[string]interface{}{"job_name": name})
	if err != nil {
		return time.Time{}, err
	}

	if row == nil {
		_, err := r.DB.Execute(ctx, r.Connection,
			`INSERT INTO "`+StatusTable+`" ("job_name", "last_run") VALUES (:job_name, :last_run)`,
			map[string]interface{}{"job_name": name, "last_run": Epoch})
		return Epoch, err
	}

	return parseTime(row["last_run"])
}

var timeFormats = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
}

func parseTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, format := range timeFormats {
			if parsed, err := time.Parse(format, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, Error.New("invalid last_run value: %q", t)
	case nil:
		return Epoch, nil
	}

	return time.Time{}, Error.New("invalid last_run value: %v", v)
}
