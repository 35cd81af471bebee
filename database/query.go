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
	"strings"

	"github.com/jmoiron/sqlx"
)

// A result row. Text columns are returned as strings.
type Row map[string]interface{}

// Options of Insert.
type InsertOption func(*insertOptions)

type insertOptions struct {
	conflict []string
	update   []string
}

// Adds an ON CONFLICT clause on the given columns. Without DoUpdate, conflicting rows are left alone.
func OnConflict(columns ...string) InsertOption {
	return func(o *insertOptions) {
		o.conflict = columns
	}
}

// Sets the columns that are overwritten on conflict.
func DoUpdate(fields ...string) InsertOption {
	return func(o *insertOptions) {
		o.update = fields
	}
}

// Runs a query and returns the first row, or nil if there are no rows.
func (m *Manager) Query(ctx context.Context, connection, query string, params map[string]interface{}) (Row, error) {
	rows, err := m.query(ctx, connection, query, params, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	return rows[0], nil
}

// Runs a query and returns every row.
func (m *Manager) QueryAll(ctx context.Context, connection, query string, params map[string]interface{}) ([]Row, error) {
	return m.query(ctx, connection, query, params, 0)
}

// Runs a statement with named parameters.
func (m *Manager) Execute(ctx context.Context, connection, query string, params map[string]interface{}) (int64, error) {
	q, err := m.querier(ctx, connection)
	if err != nil {
		return 0, err
	}

	bound, args, err := bind(q, query, params)
	if err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, bound, args...)
	if err != nil {
		return 0, Error.Wrap(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}

	return affected, nil
}

// Runs a statement with positional (?) parameters.
func (m *Manager) Exec(ctx context.Context, connection, query string, args ...interface{}) error {
	q, err := m.querier(ctx, connection)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, q.Rebind(query), args...)
	return Error.Wrap(err)
}

// Returns the rows of a model's table matching every attribute in where. A nil where returns every row.
func (m *Manager) All(ctx context.Context, model string, where map[string]interface{}) ([]Row, error) {
	mod, err := m.Model(model)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + quote(mod.table())
	if len(where) > 0 {
		keys := sortedKeys(where)
		if err := checkIdentifiers(keys...); err != nil {
			return nil, err
		}
		query += " WHERE " + whereClause(keys)
	}

	return m.QueryAll(ctx, mod.connection(), query, where)
}

// Returns the row with the given primary key.
func (m *Manager) Find(ctx context.Context, model string, id interface{}) (Row, error) {
	mod, err := m.Model(model)
	if err != nil {
		return nil, err
	}

	return m.FindWhere(ctx, model, map[string]interface{}{mod.primaryKey(): id})
}

// Returns the first row matching every attribute.
func (m *Manager) FindWhere(ctx context.Context, model string, attrs map[string]interface{}) (Row, error) {
	mod, err := m.Model(model)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, Error.New("attributes must not be empty")
	}

	keys := sortedKeys(attrs)
	if err := checkIdentifiers(keys...); err != nil {
		return nil, err
	}

	row, err := m.Query(ctx, mod.connection(),
		"SELECT * FROM "+quote(mod.table())+" WHERE "+whereClause(keys)+" LIMIT 1", attrs)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}

	return row, nil
}

// Inserts a row and returns it as stored.
//
// Every attribute must be fillable. With OnConflict and DoUpdate the statement becomes an upsert. When a conflicting row is left alone, the returned row is nil.
func (m *Manager) Insert(ctx context.Context, model string, attrs map[string]interface{}, opts ...InsertOption) (Row, error) {
	mod, err := m.Model(model)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, Error.New("nothing to insert")
	}
	if bad := mod.nonFillable(attrs); len(bad) > 0 {
		return nil, Error.New("attempting to insert non-fillable fields: %s", strings.Join(bad, ", "))
	}

	o := &insertOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if err := checkIdentifiers(append(o.conflict, o.update...)...); err != nil {
		return nil, err
	}

	attrs = mod.stamp(attrs, m.Now(), true)
	if mod.Timestamps && len(o.update) > 0 && !contains(o.update, UpdatedAtColumn) {
		o.update = append(o.update[:len(o.update):len(o.update)], UpdatedAtColumn)
	}

	keys := sortedKeys(attrs)
	columns := make([]string, len(keys))
	values := make([]string, len(keys))
	for i, k := range keys {
		columns[i] = quote(k)
		values[i] = ":" + k
	}

	query := "INSERT INTO " + quote(mod.table()) +
		" (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"

	if len(o.conflict) > 0 {
		conflict := make([]string, len(o.conflict))
		for i, c := range o.conflict {
			conflict[i] = quote(c)
		}
		query += " ON CONFLICT (" + strings.Join(conflict, ", ") + ")"

		if len(o.update) > 0 {
			sets := make([]string, len(o.update))
			for i, f := range o.update {
				sets[i] = quote(f) + " = excluded." + quote(f)
			}
			query += " DO UPDATE SET " + strings.Join(sets, ", ")
		} else {
			query += " DO NOTHING"
		}
	}

	query += " RETURNING *"

	return m.Query(ctx, mod.connection(), query, attrs)
}

const pkParam = "pulse_pk"

// Updates the row with the given primary key and returns it. Every attribute must be fillable.
func (m *Manager) Update(ctx context.Context, model string, id interface{}, attrs map[string]interface{}) (Row, error) {
	mod, err := m.Model(model)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, Error.New("nothing to update")
	}
	if bad := mod.nonFillable(attrs); len(bad) > 0 {
		return nil, Error.New("attempting to update non-fillable fields: %s", strings.Join(bad, ", "))
	}
	attrs = mod.stamp(attrs, m.Now(), false)

	keys := sortedKeys(attrs)
	sets := make([]string, len(keys))
	params := make(map[string]interface{}, len(attrs)+1)
	for i, k := range keys {
		sets[i] = quote(k) + " = :" + k
		params[k] = attrs[k]
	}
	params[pkParam] = id

	query := "UPDATE " + quote(mod.table()) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + quote(mod.primaryKey()) + " = :" + pkParam + " RETURNING *"

	row, err := m.Query(ctx, mod.connection(), query, params)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}

	return row, nil
}

// Deletes the row with the given primary key. Returns the number of deleted rows.
func (m *Manager) Delete(ctx context.Context, model string, id interface{}) (int64, error) {
	mod, err := m.Model(model)
	if err != nil {
		return 0, err
	}

	return m.Execute(ctx, mod.connection(),
		"DELETE FROM "+quote(mod.table())+" WHERE "+quote(mod.primaryKey())+" = :"+pkParam,
		map[string]interface{}{pkParam: id})
}

// Counts the rows matching the primary key (when id is not nil) and the attributes.
func (m *Manager) CountByColumn(ctx context.Context, model string, id interface{}, attrs map[string]interface{}) (int64, error) {
	mod, err := m.Model(model)
	if err != nil {
		return 0, err
	}
	if id == nil && len(attrs) == 0 {
		return 0, Error.New("attributes must be a non-empty map when id is nil")
	}

	params := make(map[string]interface{}, len(attrs)+1)
	keys := sortedKeys(attrs)
	if err := checkIdentifiers(keys...); err != nil {
		return 0, err
	}
	for _, k := range keys {
		params[k] = attrs[k]
	}

	conds := []string{}
	if id != nil {
		conds = append(conds, quote(mod.primaryKey())+" = :"+pkParam)
		params[pkParam] = id
	}
	if len(keys) > 0 {
		conds = append(conds, whereClause(keys))
	}

	q, err := m.querier(ctx, mod.connection())
	if err != nil {
		return 0, err
	}

	bound, args, err := bind(q, "SELECT COUNT(*) FROM "+quote(mod.table())+" WHERE "+strings.Join(conds, " AND "), params)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := sqlx.GetContext(ctx, q, &count, bound, args...); err != nil {
		return 0, Error.Wrap(err)
	}

	return count, nil
}

func (m *Manager) query(ctx context.Context, connection, query string, params map[string]interface{}, limit int) ([]Row, error) {
	q, err := m.querier(ctx, connection)
	if err != nil {
		return nil, err
	}

	bound, args, err := bind(q, query, params)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryxContext(ctx, bound, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, normalize(row))

		if limit > 0 && len(result) == limit {
			break
		}
	}

	return result, Error.Wrap(rows.Err())
}

func bind(q sqlx.ExtContext, query string, params map[string]interface{}) (string, []interface{}, error) {
	if params == nil {
		params = map[string]interface{}{}
	}

	bound, args, err := q.BindNamed(query, params)
	if err != nil {
		return "", nil, Error.Wrap(err)
	}

	return bound, args, nil
}

func normalize(row map[string]interface{}) Row {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}

	return Row(row)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
