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
Package console is the command line interface of a Pulse application.

An application's main function creates a Console with its routes, adds its own commands, and executes it:

	func main() {
		c := console.New(routes.Web, routes.API)
		c.AddCommand(importCmd)
		if err := c.Execute(); err != nil {
			os.Exit(1)
		}
	}
*/
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/agtorre/gocolorize"
	"github.com/pulseframe/pulse"
	"github.com/pulseframe/pulse/jobs"
	"github.com/pulseframe/pulse/lib/log"
	"github.com/pulseframe/pulse/migrate"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type Console struct {
	Root   *cobra.Command
	Logger *log.Log
	Fs     afero.Fs
	Out    io.Writer

	Web, API func(*pulse.Group)

	Migrations *migrate.Registry
	Jobs       *jobs.Registry

	rootDir string
	app     *pulse.App
}

// Creates the console with the built-in commands.
func New(web, api func(*pulse.Group)) *Console {
	c := &Console{
		Logger:     log.DefaultOSLogger(),
		Fs:         afero.NewOsFs(),
		Out:        os.Stdout,
		Web:        web,
		API:        api,
		Migrations: migrate.Default,
		Jobs:       jobs.Default,
	}

	c.Root = &cobra.Command{
		Use:           "pulse",
		Short:         "pulse is the command line interface of a PulseFrame application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c.Root.PersistentFlags().StringVar(&c.rootDir, "root", ".", "Root directory of the application")

	var (
		verbose = c.Root.PersistentFlags().Bool("verbose", false, "Turns on verbose mode")
		trace   = c.Root.PersistentFlags().Bool("trace", false, "Turns on tracing and debug mode")
	)

	c.Root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *trace {
			c.Logger.Level = log.LOG_TRACE
		} else if *verbose {
			c.Logger.Level = log.LOG_VERBOSE
		}

		a, err := c.App()
		if err != nil {
			c.Logger.Verbose().Println(err)
		}
		Logo(c.Out, a)
	}

	c.Root.AddCommand(
		createServeCmd(c),
		createMigrateCmd(c),
		createRollbackCmd(c),
		createMakeMigrationCmd(c),
		createToggleMaintenanceCmd(c),
		createRunCronJobsCmd(c),
		createGenSecretCmd(c),
	)

	return c
}

// Loads the application from the --root directory. The application is loaded once.
func (c *Console) App() (*pulse.App, error) {
	if c.app != nil {
		return c.app, nil
	}

	a, err := pulse.NewApp(c.Fs, c.rootDir, c.Logger)
	if err != nil {
		return nil, err
	}
	a.Out = c.Out
	c.app = a

	return a, nil
}

// Adds application commands.
func (c *Console) AddCommand(cmds ...*cobra.Command) {
	c.Root.AddCommand(cmds...)
}

// Runs the command given in the process arguments. SIGINT and SIGTERM cancel the command's context.
func (c *Console) Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.ExecuteContext(ctx, os.Args[1:])
}

func (c *Console) ExecuteContext(ctx context.Context, args []string) error {
	c.Root.SetArgs(args)
	c.Root.SetOut(c.Out)
	c.Root.SetErr(c.Out)

	err := c.Root.ExecuteContext(ctx)
	if err != nil {
		c.Logger.User().Println(err)
	}

	return err
}

const logoArt = `   _____            _                ______
  |  __ \          | |              |  ____|
  | |__) |  _   _  | |  ___    ___  | |__     _ __    __ _   _ __ ___     ___
  |  ___/  | | | | | | / __|  / _ \ |  __|   | '__|  / _` + "`" + ` | | '_ ` + "`" + ` _ \   / _ \
  | |      | |_| | | | \__ \ |  __/ | |      | |    | (_| | | | | | | | |  __/
  |_|       \__,_| |_| |___/  \___| |_|      |_|     \__,_| |_| |_| |_|  \___|`

var (
	logoColor    = gocolorize.NewColor("blue+b")
	versionColor = gocolorize.NewColor("green")
	labelColor   = gocolorize.NewColor("yellow")
)

// Prints the logo with the framework version. The application lines are left out when a is nil.
func Logo(w io.Writer, a *pulse.App) {
	fmt.Fprintln(w, logoArt)
	fmt.Fprintln(w, versionColor.Paint("v"+pulse.FrameworkVersion+"-"+pulse.FrameworkStage))
	fmt.Fprintln(w)

	if a == nil {
		return
	}

	debug := "No"
	if a.Debug() {
		debug = "Yes"
	}

	fmt.Fprintf(w, "%s %s-v%s-%s\n", labelColor.Paint("Application:"), a.Env.GetString("app.name"), a.Config.GetString("app", "version"), a.Config.GetString("app", "stage"))
	fmt.Fprintf(w, "%s %s\n", labelColor.Paint("Is app in debug?"), debug)
	fmt.Fprintln(w)
}
