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
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pulseframe/pulse/database"
	"github.com/pulseframe/pulse/migrate"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/afero"
)

const (
	selectLastRun = `SELECT "last_run" FROM "job_status" WHERE "job_name" = $1`
	insertStatus  = `INSERT INTO "job_status" ("job_name", "last_run") VALUES ($1, $2)`
	updateStatus  = `UPDATE "job_status" SET "last_run" = $1 WHERE "job_name" = $2`
)

var now = time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)

func TestRegistry(t *testing.T) {
	Convey("Invalid schedules must be rejected", t, func() {
		reg := NewRegistry()
		So(reg.Register("bad", "every minute", JobFunc(nil)), ShouldNotBeNil)
	})

	Convey("Duplicate jobs must be rejected", t, func() {
		reg := NewRegistry()
		So(reg.Register("a", "", JobFunc(nil)), ShouldBeNil)
		So(reg.Register("a", "", JobFunc(nil)), ShouldNotBeNil)
	})

	Convey("The status table must be a framework migration", t, func() {
		So(migrate.Default.Migrations(migrate.SourceFramework), ShouldContain, "0001_create_job_status_table")
	})
}

func TestRunner(t *testing.T) {
	ctx := context.Background()

	Convey("Given a runner with three jobs", t, func() {
		db, mock, err := sqlmock.New()
		So(err, ShouldBeNil)

		m := database.NewManager(nil)
		m.AddConnection(database.DefaultConnection, sqlx.NewDb(db, "postgres"))

		fs := afero.NewMemMapFs()
		out := bytes.NewBuffer(nil)
		ran := []string{}

		reg := NewRegistry()
		So(reg.Register("broken", "", JobFunc(func(ctx context.Context, c *Context) error {
			ran = append(ran, c.Name)
			return errors.New("boom")
		})), ShouldBeNil)
		So(reg.Register("cleanup", "0 * * * *", JobFunc(func(ctx context.Context, c *Context) error {
			ran = append(ran, c.Name)
			c.Printf("removed %d files\n", 3)
			return nil
		})), ShouldBeNil)
		So(reg.Register("report", "0 0 * * *", JobFunc(func(ctx context.Context, c *Context) error {
			ran = append(ran, c.Name)
			return nil
		})), ShouldBeNil)

		r := &Runner{
			DB:       m,
			Registry: reg,
			Fs:       fs,
			LogDir:   "/storage/logs/cronjobs",
			Out:      out,
			Now: func() time.Time {
				return now
			},
		}

		Convey("Due jobs must run and failures must be logged", func() {
			mock.ExpectQuery(regexp.QuoteMeta(selectLastRun)).WithArgs("broken").
				WillReturnRows(sqlmock.NewRows([]string{"last_run"}))
			mock.ExpectExec(regexp.QuoteMeta(insertStatus)).WithArgs("broken", Epoch).
				WillReturnResult(sqlmock.NewResult(0, 1))

			mock.ExpectQuery(regexp.QuoteMeta(selectLastRun)).WithArgs("cleanup").
				WillReturnRows(sqlmock.NewRows([]string{"last_run"}).AddRow(time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC)))
			mock.ExpectExec(regexp.QuoteMeta(updateStatus)).WithArgs(now, "cleanup").
				WillReturnResult(sqlmock.NewResult(0, 1))

			mock.ExpectQuery(regexp.QuoteMeta(selectLastRun)).WithArgs("report").
				WillReturnRows(sqlmock.NewRows([]string{"last_run"}).AddRow("2024-03-09 00:00:00"))

			err := r.Run(ctx, "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "boom")
			So(ran, ShouldResemble, []string{"broken", "cleanup"})
			So(out.String(), ShouldEqual, "Job 'broken' failed.\nJob 'cleanup' executed.\nCron jobs ran.\n")

			brokenLog, err := afero.ReadFile(fs, "/storage/logs/cronjobs/broken/cronjob-2024-03-09.txt")
			So(err, ShouldBeNil)
			So(string(brokenLog), ShouldEqual, "[Exception] boom\n")

			cleanupLog, err := afero.ReadFile(fs, "/storage/logs/cronjobs/cleanup/cronjob-2024-03-09.txt")
			So(err, ShouldBeNil)
			So(string(cleanupLog), ShouldEqual, "removed 3 files\n")
		})

		Convey("A single job can be selected", func() {
			mock.ExpectQuery(regexp.QuoteMeta(selectLastRun)).WithArgs("cleanup").
				WillReturnRows(sqlmock.NewRows([]string{"last_run"}).AddRow(time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC)))
			mock.ExpectExec(regexp.QuoteMeta(updateStatus)).WithArgs(now, "cleanup").
				WillReturnResult(sqlmock.NewResult(0, 1))

			So(r.Run(ctx, "cleanup"), ShouldBeNil)
			So(ran, ShouldResemble, []string{"cleanup"})
		})

		Convey("Unknown jobs must be rejected", func() {
			So(r.Run(ctx, "ghost"), ShouldNotBeNil)
			So(ran, ShouldBeEmpty)
		})

		Convey("The log file must be truncated at the start of a run", func() {
			So(afero.WriteFile(fs, "/storage/logs/cronjobs/report/cronjob-2024-03-09.txt", []byte("old"), 0644), ShouldBeNil)

			mock.ExpectQuery(regexp.QuoteMeta(selectLastRun)).WithArgs("report").
				WillReturnRows(sqlmock.NewRows([]string{"last_run"}).AddRow("2024-03-09 00:00:00"))

			So(r.Run(ctx, "report"), ShouldBeNil)

			content, err := afero.ReadFile(fs, "/storage/logs/cronjobs/report/cronjob-2024-03-09.txt")
			So(err, ShouldBeNil)
			So(string(content), ShouldEqual, "")
		})

		Reset(func() {
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}
