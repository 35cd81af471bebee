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

// Storage facade for the read-write storage directory (logs, framework flags, uploads).
package storage

import (
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/zeebo/errs"
)

var Error = errs.Class("storage")

type Storage struct {
	fs   afero.Fs
	base string
}

// Creates a storage rooted at base. All paths are relative to base.
func New(fs afero.Fs, base string) (*Storage, error) {
	if base == "" {
		return nil, Error.New("storage_path is not set")
	}

	return &Storage{
		fs:   fs,
		base: strings.TrimRight(base, "/"),
	}, nil
}

// Returns the full path of a file in the storage directory.
func (s *Storage) Path(p string) string {
	return s.base + "/" + strings.TrimLeft(p, "/")
}

// Returns the underlying filesystem.
func (s *Storage) Fs() afero.Fs {
	return s.fs
}

func (s *Storage) Exists(p string) bool {
	exists, err := afero.Exists(s.fs, s.Path(p))
	return err == nil && exists
}

// Writes data into a file. Missing parent directories are created.
func (s *Storage) Put(p string, data []byte) error {
	full := s.Path(p)
	if err := s.fs.MkdirAll(path.Dir(full), 0755); err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(afero.WriteFile(s.fs, full, data, 0644))
}

func (s *Storage) Get(p string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.Path(p))
	return data, Error.Wrap(err)
}

// Deletes a file. Deleting a missing file is not an error.
func (s *Storage) Delete(p string) error {
	err := s.fs.Remove(s.Path(p))
	if os.IsNotExist(err) {
		return nil
	}

	return Error.Wrap(err)
}

// Creates a directory with its parents.
func (s *Storage) MkdirAll(p string) error {
	return Error.Wrap(s.fs.MkdirAll(s.Path(p), 0755))
}
