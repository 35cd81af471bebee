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

package view

// A chunk of the Vite manifest.
type Chunk struct {
	File    string   `json:"file"`
	Src     string   `json:"src,omitempty"`
	IsEntry bool     `json:"isEntry,omitempty"`
	CSS     []string `json:"css,omitempty"`
	Imports []string `json:"imports,omitempty"`
}

// The Vite build manifest (.vite/manifest.json), keyed by source path.
type Manifest map[string]Chunk

// Collects the files needed by an entry point.
//
// The chunks are walked depth first starting from the entry, the last import first. Every chunk contributes its stylesheets, then its own file, and is visited at most once. The result has no duplicates and keeps the order of the first occurrence.
func (m Manifest) ResolveAssets(entry string) ([]string, error) {
	if _, ok := m[entry]; !ok {
		return nil, Error.New("Entry %s not found in manifest", entry)
	}

	var result []string
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	add := func(file string) {
		if !seen[file] {
			seen[file] = true
			result = append(result, file)
		}
	}

	stack := []string{entry}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		chunk, ok := m[current]
		if !ok || visited[current] {
			continue
		}
		visited[current] = true

		for _, css := range chunk.CSS {
			add(css)
		}
		add(chunk.File)

		stack = append(stack, chunk.Imports...)
	}

	return result, nil
}
