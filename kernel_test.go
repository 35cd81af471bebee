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
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pulseframe/pulse/database"
	. "github.com/smartystreets/goconvey/convey"
)

type pageService struct {
	path string
	text string
}

func (s *pageService) Register(srv *Server) error {
	srv.GetF(s.path, textHandler(s.text))
	return nil
}

type postsService struct {
	pageService
}

func (s *postsService) SchemaInstalled(ctx context.Context, db *database.Manager) (bool, error) {
	return TableExists(ctx, db, database.DefaultConnection, "posts")
}

func (s *postsService) SchemaSQL() string {
	return "CREATE TABLE posts (id serial PRIMARY KEY, title text NOT NULL)"
}

func TestKernel(t *testing.T) {
	Convey("Given a kernel with services", t, func() {
		k := NewKernel()
		So(k.Register("about", &pageService{path: "/about", text: "about"}), ShouldBeNil)
		So(k.Register("contact", &pageService{path: "/contact", text: "contact"}), ShouldBeNil)

		Convey("Registering a name twice must fail", func() {
			So(k.Register("about", &pageService{}), ShouldNotBeNil)
			So(k.Names(), ShouldResemble, []string{"about", "contact"})
		})

		Convey("The listed services must start in order", func() {
			s := newTestServer()
			So(k.Boot(context.Background(), s, nil, []string{"contact", "about", "contact"}), ShouldBeNil)
			So(k.Started(), ShouldResemble, []string{"contact", "about"})

			So(serve(s, http.MethodGet, "/about").Body.String(), ShouldEqual, "about")
			So(serve(s, http.MethodGet, "/contact").Body.String(), ShouldEqual, "contact")
		})

		Convey("Unlisted services must not start", func() {
			s := newTestServer()
			So(k.Boot(context.Background(), s, nil, []string{"about"}), ShouldBeNil)
			So(serve(s, http.MethodGet, "/contact").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("An unknown service must be an error", func() {
			err := k.Boot(context.Background(), newTestServer(), nil, []string{"about", "blog"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "service blog is not registered")
		})
	})

	Convey("Given a service with a schema", t, func() {
		db, mock, err := sqlmock.New()
		So(err, ShouldBeNil)
		m := database.NewManager(nil)
		m.AddConnection(database.DefaultConnection, sqlx.NewDb(db, "postgres"))

		k := NewKernel()
		So(k.Register("posts", &postsService{pageService{path: "/posts", text: "posts"}}), ShouldBeNil)

		existsQuery := regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM pg_catalog.pg_class")

		Convey("A missing schema must be installed", func() {
			mock.ExpectQuery(existsQuery).
				WithArgs("posts").
				WillReturnRows(sqlmock.NewRows([]string{"found"}).AddRow(false))
			mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE posts")).
				WillReturnResult(sqlmock.NewResult(0, 0))

			So(k.Boot(context.Background(), newTestServer(), m, []string{"posts"}), ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("An installed schema must be left alone", func() {
			mock.ExpectQuery(existsQuery).
				WithArgs("posts").
				WillReturnRows(sqlmock.NewRows([]string{"found"}).AddRow(true))

			So(k.Boot(context.Background(), newTestServer(), m, []string{"posts"}), ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
			So(k.Started(), ShouldResemble, []string{"posts"})
		})
	})
}
