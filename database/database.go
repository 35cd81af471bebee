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
Database facade.

The Manager keeps a set of named connections (see config/database.yml) and a registry of models. A model maps a name to a table, a primary key, a connection and the list of fillable columns. The query helpers (All, Find, Insert, Update, Delete, CountByColumn) build parameterized SQL from these descriptions; raw SQL can be run with Query, QueryAll and Execute.

Supported drivers are "postgres" (lib/pq) and "sqlite" (modernc.org/sqlite).
*/
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zeebo/errs"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var Error = errs.Class("database")

// Returned by Find and FindWhere when no row matches.
var ErrNotFound = Error.New("record not found")

const DefaultConnection = "default"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Settings of a named connection.
type ConnectionConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	// DSN overrides every other connection parameter.
	DSN     string `mapstructure:"dsn"`
	MaxIdle int    `mapstructure:"max_idle"`
	MaxOpen int    `mapstructure:"max_open"`
}

// Returns the database/sql driver name for the configured driver.
func (c ConnectionConfig) DriverName() string {
	switch c.Driver {
	case "", "postgres", "pgsql", "postgresql":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	}

	return c.Driver
}

// Builds the connection string for the driver.
func (c ConnectionConfig) DataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}

	if c.DriverName() == "sqlite" {
		return c.Database
	}

	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.Username, c.Password, c.Database, sslmode)
}

type Manager struct {
	// Clock of the timestamp columns.
	Now func() time.Time

	mu      sync.Mutex
	configs map[string]ConnectionConfig
	conns   map[string]*sqlx.DB
	models  map[string]*Model
}

func NewManager(configs map[string]ConnectionConfig) *Manager {
	if configs == nil {
		configs = make(map[string]ConnectionConfig)
	}

	return &Manager{
		Now:     time.Now,
		configs: configs,
		conns:   make(map[string]*sqlx.DB),
		models:  make(map[string]*Model),
	}
}

// Adds an already open connection. This is mostly useful for tests.
func (m *Manager) AddConnection(name string, db *sqlx.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[name] = db
}

// Returns the named connection, opening it on first use.
func (m *Manager) Conn(name string) (*sqlx.DB, error) {
	if name == "" {
		name = DefaultConnection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.conns[name]; ok {
		return db, nil
	}

	cfg, ok := m.configs[name]
	if !ok {
		return nil, Error.New("connection %q is not configured", name)
	}

	db, err := sqlx.Open(cfg.DriverName(), cfg.DataSourceName())
	if err != nil {
		return nil, Error.New("connection %q failed: %v", name, err)
	}

	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetMaxOpenConns(cfg.MaxOpen)

	m.conns[name] = db

	return db, nil
}

// Lists the names of the configured and added connections.
func (m *Manager) Connections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for name := range m.configs {
		seen[name] = true
	}
	for name := range m.conns {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Closes every open connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var group errs.Group
	for name, db := range m.conns {
		group.Add(db.Close())
		delete(m.conns, name)
	}

	return Error.Wrap(group.Err())
}

type txKey struct {
	connection string
}

// Runs fn inside a transaction on the given connection.
//
// The queries issued through the Manager with the returned context use the transaction. The transaction is committed if fn returns nil, and rolled back otherwise (or if fn panics).
func (m *Manager) Tx(ctx context.Context, connection string, fn func(ctx context.Context) error) (err error) {
	if connection == "" {
		connection = DefaultConnection
	}

	db, err := m.Conn(connection)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}

	committed := false
	defer func() {
		if !committed {
			err = errs.Combine(err, ignoreTxDone(tx.Rollback()))
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{connection}, tx)); err != nil {
		return err
	}

	committed = true
	return Error.Wrap(tx.Commit())
}

func ignoreTxDone(err error) error {
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return Error.Wrap(err)
}

// Returns the transaction in ctx for the connection, or the connection itself.
func (m *Manager) querier(ctx context.Context, connection string) (sqlx.ExtContext, error) {
	if connection == "" {
		connection = DefaultConnection
	}

	if tx, ok := ctx.Value(txKey{connection}).(*sqlx.Tx); ok {
		return tx, nil
	}

	return m.Conn(connection)
}
