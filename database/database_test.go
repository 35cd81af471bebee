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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/smartystreets/goconvey/convey"
)

func setupManager() (*Manager, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	So(err, ShouldBeNil)

	m := NewManager(nil)
	m.AddConnection(DefaultConnection, sqlx.NewDb(db, "postgres"))
	So(m.RegisterModel(&Model{
		Name:     "users",
		Table:    "users",
		Fillable: []string{"name", "email"},
	}), ShouldBeNil)

	return m, mock
}

func TestConnectionConfig(t *testing.T) {
	Convey("Postgres connection strings must be built from the settings", t, func() {
		cfg := ConnectionConfig{
			Driver:   "pgsql",
			Host:     "localhost",
			Username: "pulse",
			Password: "secret",
			Database: "app",
		}
		So(cfg.DriverName(), ShouldEqual, "postgres")
		So(cfg.DataSourceName(), ShouldEqual, "host=localhost port=5432 user=pulse password=secret dbname=app sslmode=disable")
	})

	Convey("Sqlite uses the database path", t, func() {
		cfg := ConnectionConfig{Driver: "sqlite", Database: "storage/app.db"}
		So(cfg.DriverName(), ShouldEqual, "sqlite")
		So(cfg.DataSourceName(), ShouldEqual, "storage/app.db")
	})

	Convey("Unknown connections must be rejected", t, func() {
		_, err := NewManager(nil).Conn("missing")
		So(err, ShouldNotBeNil)
	})
}

func TestModels(t *testing.T) {
	Convey("Models with invalid identifiers must be rejected", t, func() {
		m := NewManager(nil)
		So(m.RegisterModel(&Model{Name: "bad", Table: "users; DROP TABLE users"}), ShouldNotBeNil)
		So(m.RegisterModel(&Model{Name: "bad", Table: "users", Fillable: []string{"a b"}}), ShouldNotBeNil)
	})

	Convey("Unknown models must be reported", t, func() {
		_, err := NewManager(nil).Model("ghost")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "model not found: ghost")
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()

	Convey("Given a manager with a mocked connection", t, func() {
		m, mock := setupManager()

		Convey("All must select every row", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users"`)).
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("1", "Ann").AddRow("2", "Bob"))

			rows, err := m.All(ctx, "users", nil)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
			So(rows[1]["name"], ShouldEqual, "Bob")
		})

		Convey("All must filter by attributes", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "name" = $1`)).
				WithArgs("Ann").
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("1", "Ann"))

			rows, err := m.All(ctx, "users", map[string]interface{}{"name": "Ann"})
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 1)
		})

		Convey("Find must select by primary key", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "id" = $1 LIMIT 1`)).
				WithArgs(5).
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("5", []byte("Ann")))

			row, err := m.Find(ctx, "users", 5)
			So(err, ShouldBeNil)
			So(row["name"], ShouldEqual, "Ann")
		})

		Convey("Find must report missing rows", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "id" = $1 LIMIT 1`)).
				WithArgs(6).
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

			_, err := m.Find(ctx, "users", 6)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("Insert must only accept fillable fields", func() {
			_, err := m.Insert(ctx, "users", map[string]interface{}{"name": "Ann", "role": "admin", "id": 1})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "attempting to insert non-fillable fields: id, role")
		})

		Convey("Insert must return the stored row", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users" ("email", "name") VALUES ($1, $2) RETURNING *`)).
				WithArgs("ann@example.com", "Ann").
				WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name"}).AddRow("1", "ann@example.com", "Ann"))

			row, err := m.Insert(ctx, "users", map[string]interface{}{"name": "Ann", "email": "ann@example.com"})
			So(err, ShouldBeNil)
			So(row["id"], ShouldEqual, "1")
		})

		Convey("Insert must build upserts", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users" ("email", "name") VALUES ($1, $2) ON CONFLICT ("email") DO UPDATE SET "name" = excluded."name" RETURNING *`)).
				WithArgs("ann@example.com", "Ann").
				WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name"}).AddRow("1", "ann@example.com", "Ann"))

			_, err := m.Insert(ctx, "users",
				map[string]interface{}{"name": "Ann", "email": "ann@example.com"},
				OnConflict("email"), DoUpdate("name"))
			So(err, ShouldBeNil)
		})

		Convey("Insert must ignore conflicts without updates", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users" ("email") VALUES ($1) ON CONFLICT ("email") DO NOTHING RETURNING *`)).
				WithArgs("ann@example.com").
				WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name"}))

			row, err := m.Insert(ctx, "users", map[string]interface{}{"email": "ann@example.com"}, OnConflict("email"))
			So(err, ShouldBeNil)
			So(row, ShouldBeNil)
		})

		Convey("Update must set the fillable fields", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "users" SET "name" = $1 WHERE "id" = $2 RETURNING *`)).
				WithArgs("Anne", 1).
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("1", "Anne"))

			row, err := m.Update(ctx, "users", 1, map[string]interface{}{"name": "Anne"})
			So(err, ShouldBeNil)
			So(row["name"], ShouldEqual, "Anne")
		})

		Convey("Delete must remove by primary key", func() {
			mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE "id" = $1`)).
				WithArgs(1).
				WillReturnResult(sqlmock.NewResult(0, 1))

			n, err := m.Delete(ctx, "users", 1)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})

		Convey("CountByColumn requires attributes without an id", func() {
			_, err := m.CountByColumn(ctx, "users", nil, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("CountByColumn must combine the id and the attributes", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "users" WHERE "id" = $1 AND "email" = $2`)).
				WithArgs(1, "ann@example.com").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

			n, err := m.CountByColumn(ctx, "users", 1, map[string]interface{}{"email": "ann@example.com"})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})

		Convey("Transactions must commit on success", func() {
			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE "id" = $1`)).
				WithArgs(1).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			err := m.Tx(ctx, "", func(ctx context.Context) error {
				_, err := m.Delete(ctx, "users", 1)
				return err
			})
			So(err, ShouldBeNil)
		})

		Convey("Transactions must roll back on failure", func() {
			mock.ExpectBegin()
			mock.ExpectRollback()

			failure := errors.New("failure")
			err := m.Tx(ctx, "", func(ctx context.Context) error {
				return failure
			})
			So(errors.Is(err, failure), ShouldBeTrue)
		})

		Reset(func() {
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}

func TestTimestamps(t *testing.T) {
	ctx := context.Background()

	Convey("Given a model with timestamps", t, func() {
		m, mock := setupManager()
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		m.Now = func() time.Time { return now }
		So(m.RegisterModel(&Model{
			Name:       "posts",
			Timestamps: true,
			Fillable:   []string{"title"},
		}), ShouldBeNil)

		Convey("Insert must fill both columns", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "posts" ("created_at", "title", "updated_at") VALUES ($1, $2, $3) RETURNING *`)).
				WithArgs(now, "Hello", now).
				WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("1", "Hello"))

			attrs := map[string]interface{}{"title": "Hello"}
			_, err := m.Insert(ctx, "posts", attrs)
			So(err, ShouldBeNil)
			So(attrs, ShouldHaveLength, 1)
		})

		Convey("Upserts must refresh updated_at", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "posts" ("created_at", "title", "updated_at") VALUES ($1, $2, $3) ON CONFLICT ("title") DO UPDATE SET "title" = excluded."title", "updated_at" = excluded."updated_at" RETURNING *`)).
				WithArgs(now, "Hello", now).
				WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("1", "Hello"))

			_, err := m.Insert(ctx, "posts", map[string]interface{}{"title": "Hello"}, OnConflict("title"), DoUpdate("title"))
			So(err, ShouldBeNil)
		})

		Convey("Update must only touch updated_at", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "posts" SET "title" = $1, "updated_at" = $2 WHERE "id" = $3 RETURNING *`)).
				WithArgs("Bye", now, 1).
				WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("1", "Bye"))

			_, err := m.Update(ctx, "posts", 1, map[string]interface{}{"title": "Bye"})
			So(err, ShouldBeNil)
		})

		Convey("Models without timestamps must be left alone", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "users" SET "name" = $1 WHERE "id" = $2 RETURNING *`)).
				WithArgs("Anne", 1).
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("1", "Anne"))

			_, err := m.Update(ctx, "users", 1, map[string]interface{}{"name": "Anne"})
			So(err, ShouldBeNil)
		})

		Reset(func() {
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}

func TestIgnoreTxDone(t *testing.T) {
	Convey("Finished transactions must not be reported", t, func() {
		So(ignoreTxDone(nil), ShouldBeNil)
		So(ignoreTxDone(sql.ErrTxDone), ShouldBeNil)
		So(ignoreTxDone(fmt.Errorf("rollback: %w", sql.ErrTxDone)), ShouldBeNil)
		So(ignoreTxDone(errors.New("connection reset")), ShouldNotBeNil)
	})
}
