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
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
	"github.com/pulseframe/pulse/database"
)

const dbKey contextKey = "pulsedb"

// Gets the database manager from the request context.
func GetDB(r *http.Request) *database.Manager {
	return r.Context().Value(dbKey).(*database.Manager)
}

// Puts the database manager into the request context.
func DBMiddleware(m *database.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, SetContext(r, dbKey, m))
		})
	}
}

// Runs the handler in a transaction on the given connection.
//
// The queries made with the request's context use the transaction. It is committed when the handler returns, and rolled back when the handler fails.
func TransactionMiddleware(connection string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := GetDB(r).Tx(r.Context(), connection, func(ctx context.Context) error {
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
			MaybeFail(http.StatusInternalServerError, err)
		})
	}
}

// Checks if a table exists in the database.
//
// Postgres and SQLite connections are supported.
func TableExists(ctx context.Context, m *database.Manager, connection, table string) (bool, error) {
	db, err := m.Conn(connection)
	if err != nil {
		return false, err
	}

	query := "SELECT EXISTS(SELECT 1 FROM pg_catalog.pg_class c JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname = 'public' AND c.relname = :table AND c.relkind = 'r') AS found"
	if db.DriverName() == "sqlite" {
		query = "SELECT COUNT(*) > 0 AS found FROM sqlite_master WHERE type = 'table' AND name = :table"
	}

	row, err := m.Query(ctx, connection, query, map[string]interface{}{"table": table})
	if err != nil {
		return false, err
	}

	switch found := row["found"].(type) {
	case bool:
		return found, nil
	case int64:
		return found > 0, nil
	}

	return false, nil
}

// Converts an error with conv if that error is *pq.Error.
//
// Useful when processing database errors (e.g. constraint violations), so the user can get a nice error message.
func ConvertDBError(err error, conv func(*pq.Error) VerboseError) error {
	if err == nil {
		return nil
	}

	var perr *pq.Error
	if errors.As(err, &perr) {
		return conv(perr)
	}

	return err
}

// Maps constraint names to user facing messages.
func ConstraintErrorConverter(msgMap map[string]string) func(*pq.Error) VerboseError {
	return func(err *pq.Error) VerboseError {
		if msg, ok := msgMap[err.Constraint]; ok {
			return WrapError(err, msg)
		}

		return NewVerboseError(err.Message, err.Detail)
	}
}

func DBErrorToVerboseString(err *pq.Error) string {
	return fmt.Sprintf(`
	Severity         %s
	Code             %s
	Message          %s
	Detail           %s
	Hint             %s
	Position         %s
	Where            %s
	Schema           %s
	Table            %s
	Column           %s
	Constraint       %s
	Routine          %s
`,
		err.Severity,
		err.Code,
		err.Message,
		err.Detail,
		err.Hint,
		err.Position,
		err.Where,
		err.Schema,
		err.Table,
		err.Column,
		err.Constraint,
		err.Routine,
	)
}
