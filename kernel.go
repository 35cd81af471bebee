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
	"sort"
	"sync"

	"github.com/pulseframe/pulse/database"
)

// A service is a unit of functionality. Services are registered by name, and the app.register configuration decides which ones are started, and in which order.
type Service interface {
	// Registers the service's endpoints.
	Register(*Server) error
}

// A service that owns database tables. The schema is installed when the service starts, unless it is installed already.
type SchemaService interface {
	Service
	SchemaInstalled(ctx context.Context, db *database.Manager) (bool, error)
	SchemaSQL() string
}

// A registry of services.
type Kernel struct {
	mu       sync.Mutex
	services map[string]Service
	started  []string
}

func NewKernel() *Kernel {
	return &Kernel{services: make(map[string]Service)}
}

var DefaultKernel = NewKernel()

// Adds a service to the DefaultKernel. Registering a name twice panics.
func RegisterService(name string, svc Service) {
	if err := DefaultKernel.Register(name, svc); err != nil {
		panic(err)
	}
}

func (k *Kernel) Register(name string, svc Service) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.services[name]; ok {
		return Error.New("service %s is already registered", name)
	}
	k.services[name] = svc

	return nil
}

// Lists the registered services.
func (k *Kernel) Names() []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	names := make([]string, 0, len(k.services))
	for name := range k.services {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Returns the services started by Boot(), in order.
func (k *Kernel) Started() []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([]string{}, k.started...)
}

// Starts the named services in order. A name can be listed more than once, it starts only the first time.
//
// db can be nil if none of the services have a schema.
func (k *Kernel) Boot(ctx context.Context, s *Server, db *database.Manager, names []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		svc, ok := k.services[name]
		if !ok {
			return Error.New("service %s is not registered", name)
		}

		if schema, ok := svc.(SchemaService); ok && db != nil {
			installed, err := schema.SchemaInstalled(ctx, db)
			if err != nil {
				return Error.New("service %s: %v", name, err)
			}
			if !installed {
				s.Logger.Verbose().Printf("Installing the schema of %s\n", name)
				if err := db.Exec(ctx, database.DefaultConnection, schema.SchemaSQL()); err != nil {
					return Error.New("service %s: schema installation failed: %v", name, err)
				}
			}
		}

		if err := svc.Register(s); err != nil {
			return Error.New("service %s: %v", name, err)
		}

		k.started = append(k.started, name)
	}

	return nil
}
