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
	"regexp"
	"sort"
	"strings"
	"time"
)

// Describes a table.
type Model struct {
	Name       string
	Table      string
	PrimaryKey string
	// Insert and Update fill created_at and updated_at.
	Timestamps bool
	Connection string
	// Columns that Insert and Update accept.
	Fillable []string
}

func (m *Model) primaryKey() string {
	if m.PrimaryKey == "" {
		return "id"
	}

	return m.PrimaryKey
}

func (m *Model) connection() string {
	if m.Connection == "" {
		return DefaultConnection
	}

	return m.Connection
}

func (m *Model) table() string {
	if m.Table == "" {
		return m.Name
	}

	return m.Table
}

const (
	CreatedAtColumn = "created_at"
	UpdatedAtColumn = "updated_at"
)

// Returns a copy of attrs with the timestamp columns set to now, unless they are given.
func (m *Model) stamp(attrs map[string]interface{}, now time.Time, created bool) map[string]interface{} {
	if !m.Timestamps {
		return attrs
	}

	stamped := make(map[string]interface{}, len(attrs)+2)
	for k, v := range attrs {
		stamped[k] = v
	}
	if _, ok := stamped[UpdatedAtColumn]; !ok {
		stamped[UpdatedAtColumn] = now
	}
	if _, ok := stamped[CreatedAtColumn]; created && !ok {
		stamped[CreatedAtColumn] = now
	}

	return stamped
}

// Returns the sorted keys of attrs that are not fillable.
func (m *Model) nonFillable(attrs map[string]interface{}) []string {
	fillable := make(map[string]bool, len(m.Fillable))
	for _, f := range m.Fillable {
		fillable[f] = true
	}

	var bad []string
	for k := range attrs {
		if !fillable[k] {
			bad = append(bad, k)
		}
	}
	sort.Strings(bad)

	return bad
}

func (m *Model) validate() error {
	if m.Name == "" {
		return Error.New("model name is empty")
	}
	if err := checkIdentifiers(m.table(), m.primaryKey()); err != nil {
		return err
	}

	return checkIdentifiers(m.Fillable...)
}

// Registers a model. A model with the same name is replaced.
func (m *Manager) RegisterModel(model *Model) error {
	if err := model.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.models[model.Name] = model

	return nil
}

// Looks up a registered model.
func (m *Manager) Model(name string) (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.models[name]
	if !ok {
		return nil, Error.New("model not found: %s", name)
	}

	return model, nil
}

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdentifiers(names ...string) error {
	for _, name := range names {
		if !identifierRegex.MatchString(name) {
			return Error.New("invalid identifier: %q", name)
		}
	}

	return nil
}

func quote(name string) string {
	return `"` + name + `"`
}

func sortedKeys(attrs map[string]interface{}) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Builds `"a" = :a AND "b" = :b`.
func whereClause(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = quote(k) + " = :" + k
	}

	return strings.Join(parts, " AND ")
}
