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

package migrate

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pulseframe/pulse/database"
	"github.com/pulseframe/pulse/lib/log"
)

const TrackingTable = "pulseframe_migrations"

// Applies and reverts the registered migrations.
type Runner struct {
	DB         *database.Manager
	Connection string
	Registry   *Registry
	Out        io.Writer
	Logger     *log.Log
	Now        func() time.Time
}

func NewRunner(db *database.Manager, out io.Writer, logger *log.Log) *Runner {
	return &Runner{
		DB:         db,
		Connection: database.DefaultConnection,
		Registry:   Default,
		Out:        out,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (r *Runner) logger() *log.Log {
	if r.Logger == nil {
		return log.DefaultLogger(io.Discard)
	}

	return r.Logger
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}

	return r.Out
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}

	return r.Now()
}

func (r *Runner) schema() *Schema {
	return NewSchema(r.DB, r.Connection)
}

func (r *Runner) ensureTrackingTable(ctx context.Context) error {
	return r.schema().CreateTable(ctx, TrackingTable, []Column{
		{Name: "name", Type: "VARCHAR(255) NOT NULL"},
		{Name: "source", Type: "VARCHAR(32) NOT NULL"},
		{Name: "applied_at", Type: "TIMESTAMP NOT NULL"},
	}, `PRIMARY KEY ("source", "name")`)
}

func (r *Runner) applied(ctx context.Context, source string) (map[string]bool, error) {
	rows, err := r.DB.QueryAll(ctx, r.Connection,
		`SELECT "name" FROM "`+TrackingTable+`" WHERE "source" = :source`,
		map[string]interface{}{"source": source})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	applied := make(map[string]bool, len(rows))
	for _, row := range rows {
		applied[fmt.Sprint(row["name"])] = true
	}

	return applied, nil
}

// Applies every framework migration, then every application migration, that has not been applied yet.
//
// Each migration runs in its own transaction together with its record in the tracking table. The first failure stops the run.
func (r *Runner) Migrate(ctx context.Context) error {
	if err := r.ensureTrackingTable(ctx); err != nil {
		return err
	}

	for _, source := range []string{SourceFramework, SourceApp} {
		applied, err := r.applied(ctx, source)
		if err != nil {
			return err
		}

		for _, name := range r.Registry.Migrations(source) {
			if applied[name] {
				r.logger().Trace().Printf("migration %s is already applied\n", name)
				continue
			}

			if err := r.apply(ctx, source, name); err != nil {
				return Error.New("migration %s failed: %v", name, err)
			}

			if source == SourceFramework {
				fmt.Fprintf(r.out(), "Migrated (PulseFrame): %s\n", name)
			} else {
				fmt.Fprintf(r.out(), "Migrated: %s\n", name)
			}
			r.logger().Verbose().Printf("applied %s migration %s\n", source, name)
		}
	}

	return nil
}

func (r *Runner) apply(ctx context.Context, source, name string) error {
	m := r.Registry.migration(source, name)

	return r.DB.Tx(ctx, r.Connection, func(ctx context.Context) error {
		if err := m.Up(ctx, r.schema()); err != nil {
			return err
		}

		_, err := r.DB.Execute(ctx, r.Connection,
			`INSERT INTO "`+TrackingTable+`" ("name", "source", "applied_at") VALUES (:name, :source, :applied_at)`,
			map[string]interface{}{
				"name":       name,
				"source":     source,
				"applied_at": r.now().UTC(),
			})

		return err
	})
}

// Runs the framework seeders, then the application seeders.
func (r *Runner) Seed(ctx context.Context) error {
	for _, source := range []string{SourceFramework, SourceApp} {
		for _, name := range r.Registry.Seeders(source) {
			if err := r.Registry.seeder(source, name).Run(ctx, r.DB, r.out()); err != nil {
				return Error.New("seeder %s failed: %v", name, err)
			}

			if source == SourceFramework {
				fmt.Fprintf(r.out(), "Seeded (PulseFrame): %s\n", name)
			} else {
				fmt.Fprintf(r.out(), "Seeded: %s\n", name)
			}
		}
	}

	return nil
}

// Reverts the last applied application migration.
func (r *Runner) Rollback(ctx context.Context) error {
	if err := r.ensureTrackingTable(ctx); err != nil {
		return err
	}

	applied, err := r.applied(ctx, SourceApp)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(r.out(), "Nothing to roll back.")
		return nil
	}

	names := make([]string, 0, len(applied))
	for name := range applied {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	name := names[0]

	m := r.Registry.migration(SourceApp, name)
	if m == nil {
		return Error.New("migration %s is not registered", name)
	}

	err = r.DB.Tx(ctx, r.Connection, func(ctx context.Context) error {
		if err := m.Down(ctx, r.schema()); err != nil {
			return err
		}

		_, err := r.DB.Execute(ctx, r.Connection,
			`DELETE FROM "`+TrackingTable+`" WHERE "source" = :source AND "name" = :name`,
			map[string]interface{}{"source": SourceApp, "name": name})

		return err
	})
	if err != nil {
		return Error.New("rollback of %s failed: %v", name, err)
	}

	fmt.Fprintf(r.out(), "Rolled back: %s\n", name)

	return nil
}
