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
	"regexp"
	"strings"

	"github.com/pulseframe/pulse/database"
)

type Column struct {
	Name string
	Type string
}

// Schema operations available to migrations.
type Schema struct {
	db         *database.Manager
	connection string
}

func NewSchema(db *database.Manager, connection string) *Schema {
	if connection == "" {
		connection = database.DefaultConnection
	}

	return &Schema{
		db:         db,
		connection: connection,
	}
}

func (s *Schema) DB() *database.Manager {
	return s.db
}

func (s *Schema) Connection() string {
	return s.connection
}

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Creates a table if it does not exist.
//
// On Postgres connections the MySQL style "INT AUTO_INCREMENT" column type is turned into SERIAL. Table constraints, e.g. a composite PRIMARY KEY, follow the columns.
func (s *Schema) CreateTable(ctx context.Context, table string, columns []Column, constraints ...string) error {
	if !identifierRegex.MatchString(table) {
		return Error.New("invalid table name: %q", table)
	}
	if len(columns) == 0 {
		return Error.New("table %s has no columns", table)
	}

	postgres, err := s.isPostgres()
	if err != nil {
		return err
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		if !identifierRegex.MatchString(c.Name) {
			return Error.New("invalid column name: %q", c.Name)
		}

		typ := c.Type
		if postgres {
			typ = strings.Replace(typ, "INT AUTO_INCREMENT", "SERIAL", -1)
		}

		defs[i] = `"` + c.Name + `" ` + typ
	}
	defs = append(defs, constraints...)

	return s.Exec(ctx, `CREATE TABLE IF NOT EXISTS "`+table+`" (`+strings.Join(defs, ", ")+`)`)
}

func (s *Schema) DropTable(ctx context.Context, table string) error {
	if !identifierRegex.MatchString(table) {
		return Error.New("invalid table name: %q", table)
	}

	return s.Exec(ctx, `DROP TABLE IF EXISTS "`+table+`"`)
}

// Runs a statement with positional (?) parameters.
func (s *Schema) Exec(ctx context.Context, query string, args ...interface{}) error {
	return Error.Wrap(s.db.Exec(ctx, s.connection, query, args...))
}

func (s *Schema) isPostgres() (bool, error) {
	conn, err := s.db.Conn(s.connection)
	if err != nil {
		return false, Error.Wrap(err)
	}

	return conn.DriverName() == "postgres", nil
}
