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

package console

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pulseframe/pulse/database"
	"github.com/pulseframe/pulse/jobs"
	"github.com/pulseframe/pulse/migrate"
	"github.com/spf13/cobra"
)

func createServeCmd(c *Console) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "starts the HTTP server",
	}

	addr := serveCmd.Flags().String("addr", "", "Address to listen on (default: env addr or :8080)")

	serveCmd.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := c.App()
		if err != nil {
			return err
		}

		listen := *addr
		if listen == "" {
			listen = a.Env.GetString("addr")
		}
		if listen == "" {
			listen = ":8080"
		}

		s, err := a.Server(c.Web, c.API)
		if err != nil {
			return err
		}

		return a.Serve(cmd.Context(), s, listen)
	}

	return serveCmd
}

func createMigrateCmd(c *Console) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "database:migrate",
		Short: "runs the pending migrations, then the seeders",
	}

	noSeed := migrateCmd.Flags().Bool("no-seed", false, "Skip the seeders")

	migrateCmd.RunE = func(cmd *cobra.Command, args []string) error {
		r, err := c.migrateRunner()
		if err != nil {
			return err
		}

		if err := r.Migrate(cmd.Context()); err != nil {
			return err
		}

		if *noSeed {
			return nil
		}

		return r.Seed(cmd.Context())
	}

	return migrateCmd
}

func createRollbackCmd(c *Console) *cobra.Command {
	return &cobra.Command{
		Use:   "database:rollback",
		Short: "reverts the last applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.migrateRunner()
			if err != nil {
				return err
			}

			return r.Rollback(cmd.Context())
		},
	}
}

func (c *Console) migrateRunner() (*migrate.Runner, error) {
	a, err := c.App()
	if err != nil {
		return nil, err
	}

	r := migrate.NewRunner(a.DB, c.Out, c.Logger)
	r.Registry = c.Migrations

	return r, nil
}

func createMakeMigrationCmd(c *Console) *cobra.Command {
	makeCmd := &cobra.Command{
		Use:   "make:migration <name>",
		Short: "creates a new migration file",
		Args:  cobra.ExactArgs(1),
	}

	dir := makeCmd.Flags().String("dir", "", "Directory of the migrations (default: <root>/database/migrations)")

	makeCmd.RunE = func(cmd *cobra.Command, args []string) error {
		target := *dir
		if target == "" {
			target = path.Join(c.rootDir, "database", "migrations")
		}

		filename, err := migrate.MakeMigration(c.Fs, target, args[0], time.Now())
		if err != nil {
			return err
		}

		fmt.Fprintf(c.Out, "Created migration: %s\n", filename)

		return nil
	}

	return makeCmd
}

func createToggleMaintenanceCmd(c *Console) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle:maintenance",
		Short: "toggles maintenance mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.App()
			if err != nil {
				return err
			}

			enabled, token, err := a.Maintenance.Toggle()
			if err != nil {
				return err
			}

			if !enabled {
				fmt.Fprintln(c.Out, "Maintenance mode disabled.")
				return nil
			}

			fmt.Fprintf(c.Out, "To activate the maintenance bypass: %s\n", a.Maintenance.BypassURL(token))
			fmt.Fprintln(c.Out, "Maintenance mode enabled")

			return nil
		},
	}
}

func createRunCronJobsCmd(c *Console) *cobra.Command {
	cronCmd := &cobra.Command{
		Use:   "run:cronjobs",
		Short: "runs the scheduled cron jobs",
	}

	var (
		logDir = cronCmd.Flags().String("log-dir", "", "Directory to save logs (default: <storage>/logs/cronjobs)")
		job    = cronCmd.Flags().String("job", "", "Run a specific job")
	)

	cronCmd.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := c.App()
		if err != nil {
			return err
		}

		dir := *logDir
		if dir == "" {
			dir = a.Storage.Path("logs/cronjobs")
		}

		r := &jobs.Runner{
			DB:         a.DB,
			Connection: database.DefaultConnection,
			Registry:   c.Jobs,
			Fs:         a.Fs,
			LogDir:     dir,
			Out:        c.Out,
			Logger:     c.Logger,
		}

		return r.Run(cmd.Context(), *job)
	}

	return cronCmd
}

func createGenSecretCmd(c *Console) *cobra.Command {
	gscmd := &cobra.Command{
		Use:   "gensecret",
		Short: "generates a secret value (e.g. for app.key)",
	}

	length := gscmd.Flags().Uint64("length", 32, "length of the secret value")

	gscmd.RunE = func(cmd *cobra.Command, args []string) error {
		buf := make([]byte, *length)
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return err
		}

		fmt.Fprintln(c.Out, hex.EncodeToString(buf))

		return nil
	}

	return gscmd
}
