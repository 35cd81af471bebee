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
	"bytes"
	"path"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/tools/imports"
)

var migrationNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Converts snake_case to CamelCase.
func TypeName(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}

	return strings.Join(parts, "")
}

func tableName(name string) string {
	table := strings.TrimPrefix(name, "create_")
	table = strings.TrimSuffix(table, "_table")
	if table == "" {
		return name
	}

	return table
}

type migrationTemplateData struct {
	Package string
	ID      string
	Type    string
	Table   string
}

var migrationTemplate = template.Must(template.New("migration").Parse(`package {{.Package}}

import (
	"context"

	"github.com/pulseframe/pulse/migrate"
)

func init() {
	migrate.Register("{{.ID}}", {{.Type}}{})
}

type {{.Type}} struct{}

func ({{.Type}}) Up(ctx context.Context, s *migrate.Schema) error {
	return s.CreateTable(ctx, "{{.Table}}", []migrate.Column{
		{Name: "id", Type: "INT AUTO_INCREMENT PRIMARY KEY"},
		{Name: "name", Type: "VARCHAR(255) NOT NULL"},
		{Name: "email", Type: "VARCHAR(255) NOT NULL UNIQUE"},
		{Name: "password", Type: "VARCHAR(255) NOT NULL"},
		{Name: "created_at", Type: "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"},
	})
}

func ({{.Type}}) Down(ctx context.Context, s *migrate.Schema) error {
	return s.DropTable(ctx, "{{.Table}}")
}
`))

// Generates a new migration file in dir and returns its path.
//
// The file is named <timestamp>_<name>.go, and it registers the migration under the same name without the extension. The package name is the name of dir.
func MakeMigration(fs afero.Fs, dir, name string, now time.Time) (string, error) {
	if !migrationNameRegex.MatchString(name) {
		return "", Error.New("invalid migration name: %q (use lowercase letters, digits and underscores)", name)
	}

	id := now.Format("20060102150405") + "_" + name
	filename := path.Join(dir, id+".go")

	if exists, _ := afero.Exists(fs, filename); exists {
		return "", Error.New("migration %s already exists", filename)
	}

	pkg := strings.Replace(path.Base(path.Clean(dir)), "-", "_", -1)
	if pkg == "." || pkg == "/" || pkg == "" {
		pkg = "migrations"
	}

	buf := bytes.NewBuffer(nil)
	if err := migrationTemplate.Execute(buf, migrationTemplateData{
		Package: pkg,
		ID:      id,
		Type:    TypeName(name),
		Table:   tableName(name),
	}); err != nil {
		return "", Error.Wrap(err)
	}

	processed, err := imports.Process("", buf.Bytes(), nil)
	if err != nil {
		return "", Error.Wrap(err)
	}

	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", Error.Wrap(err)
	}

	if err := afero.WriteFile(fs, filename, processed, 0644); err != nil {
		return "", Error.Wrap(err)
	}

	return filename, nil
}
