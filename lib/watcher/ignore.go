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

package watcher

import (
	"path/filepath"
	"strings"
)

// Decides if a file or directory should be skipped, by its base name. Skipped directories are not descended into.
type Ignorer interface {
	Ignored(string) bool
}

type IgnorerFunc func(string) bool

func (f IgnorerFunc) Ignored(s string) bool {
	return f(s)
}

// Skips dotfiles and editor swap/backup files. The .vite directory holds the asset manifest, so it is kept.
var HiddenIgnorer Ignorer = IgnorerFunc(func(s string) bool {
	return (strings.HasPrefix(s, ".") && s != "." && s != ".vite") ||
		strings.HasSuffix(s, "~") ||
		strings.HasSuffix(s, ".swp")
})

// Skips the names matching any of the shell patterns (see filepath.Match). Malformed patterns match nothing.
func GlobIgnorer(patterns ...string) Ignorer {
	return IgnorerFunc(func(s string) bool {
		for _, pattern := range patterns {
			if ok, _ := filepath.Match(pattern, s); ok {
				return true
			}
		}

		return false
	})
}
