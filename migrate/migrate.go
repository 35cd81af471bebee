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
Schema migrations and seeders.

Migrations are registered by name from init() functions, usually in the files generated by the make:migration command:

	func init() {
		migrate.Register("20240309101112_create_users_table", CreateUsersTable{})
	}

The framework registers its own migrations with RegisterFramework. The Runner applies the framework migrations first, then the application migrations, both in name order. Every applied migration is recorded in the pulseframe_migrations table, so running the migrations again only applies the new ones.

Seeders run every time the migrations run.
*/
package migrate

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pulseframe/pulse/database"
	"github.com/zeebo/errs"
)

var Error = errs.Class("migrate")

type Migration interface {
	Up(ctx context.Context, s *Schema) error
	Down(ctx context.Context, s *Schema) error
}

// Fills the database with initial data.
type Seeder interface {
	Run(ctx context.Context, db *database.Manager, out io.Writer) error
}

// Wraps a pair of functions into a Migration.
type MigrationFuncs struct {
	UpFunc   func(ctx context.Context, s *Schema) error
	DownFunc func(ctx context.Context, s *Schema) error
}

func (m MigrationFuncs) Up(ctx context.Context, s *Schema) error {
	if m.UpFunc == nil {
		return nil
	}
	return m.UpFunc(ctx, s)
}

func (m MigrationFuncs) Down(ctx context.Context, s *Schema) error {
	if m.DownFunc == nil {
		return nil
	}
	return m.DownFunc(ctx, s)
}

type SeederFunc func(ctx context.Context, db *database.Manager, out io.Writer) error

func (f SeederFunc) Run(ctx context.Context, db *database.Manager, out io.Writer) error {
	return f(ctx, db, out)
}

const (
	SourceFramework = "framework"
	SourceApp       = "app"
)

type Registry struct {
	mu               sync.Mutex
	framework        map[string]Migration
	app              map[string]Migration
	frameworkSeeders map[string]Seeder
	appSeeders       map[string]Seeder
}

func NewRegistry() *Registry {
	return &Registry{
		framework:        make(map[string]Migration),
		app:              make(map[string]Migration),
		frameworkSeeders: make(map[string]Seeder),
		appSeeders:       make(map[string]Seeder),
	}
}

// The registry used by the package level functions.
var Default = NewRegistry()

func add[T any](mu *sync.Mutex, m map[string]T, kind, name string, v T) {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := m[name]; ok {
		panic(fmt.Sprintf("%s %q is already registered", kind, name))
	}
	m[name] = v
}

func sortedNames[T any](mu *sync.Mutex, m map[string]T) []string {
	mu.Lock()
	defer mu.Unlock()

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Registers an application migration. Registering the same name twice panics.
func (r *Registry) Register(name string, m Migration) {
	add(&r.mu, r.app, "migration", name, m)
}

func (r *Registry) RegisterFramework(name string, m Migration) {
	add(&r.mu, r.framework, "framework migration", name, m)
}

func (r *Registry) RegisterSeeder(name string, s Seeder) {
	add(&r.mu, r.appSeeders, "seeder", name, s)
}

func (r *Registry) RegisterFrameworkSeeder(name string, s Seeder) {
	add(&r.mu, r.frameworkSeeders, "framework seeder", name, s)
}

// Returns the sorted names of the migrations of a source.
func (r *Registry) Migrations(source string) []string {
	if source == SourceFramework {
		return sortedNames(&r.mu, r.framework)
	}

	return sortedNames(&r.mu, r.app)
}

func (r *Registry) Seeders(source string) []string {
	if source == SourceFramework {
		return sortedNames(&r.mu, r.frameworkSeeders)
	}

	return sortedNames(&r.mu, r.appSeeders)
}

func (r *Registry) migration(source, name string) Migration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if source == SourceFramework {
		return r.framework[name]
	}

	return r.app[name]
}

func (r *Registry) seeder(source, name string) Seeder {
	r.mu.Lock()
	defer r.mu.Unlock()

	if source == SourceFramework {
		return r.frameworkSeeders[name]
	}

	return r.appSeeders[name]
}

func Register(name string, m Migration) {
	Default.Register(name, m)
}

func RegisterFramework(name string, m Migration) {
	Default.RegisterFramework(name, m)
}

func RegisterSeeder(name string, s Seeder) {
	Default.RegisterSeeder(name, s)
}

func RegisterFrameworkSeeder(name string, s Seeder) {
	Default.RegisterFrameworkSeeder(name, s)
}
