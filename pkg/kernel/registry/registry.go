// Copyright 2025 Tom Barlow
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

// Package registry is the directory of services and the resources
// each one provides, consulted by the scheduler's worker-matching
// logic.
package registry

import (
	"sync"
	"time"

	"github.com/kernelflow/kerneld/pkg/kernel/task"
)

// Service is one registered service and the resources it exposes.
type Service struct {
	Name         string
	Resources    []task.ResourceMetadata
	RegisteredAt time.Time
}

// Registry is the in-memory service directory.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Register records svc, replacing any prior registration under the
// same name and always resetting RegisteredAt — registration is a
// full overwrite, never a merge.
func (r *Registry) Register(name string, resources []task.ResourceMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.services[name] = &Service{
		Name:         name,
		Resources:    append([]task.ResourceMetadata(nil), resources...),
		RegisteredAt: time.Now().UTC(),
	}
}

// Unregister removes name from the registry, reporting whether it had
// been registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[name]; !ok {
		return false
	}
	delete(r.services, name)
	return true
}

// Get returns the service registered under name, or nil if none.
func (r *Registry) Get(name string) *Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil
	}
	cp := *svc
	cp.Resources = append([]task.ResourceMetadata(nil), svc.Resources...)
	return &cp
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// List returns every registered service. Iteration order over the
// underlying map is not guaranteed, matching the reference registry.
func (r *Registry) List() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		cp := *svc
		cp.Resources = append([]task.ResourceMetadata(nil), svc.Resources...)
		out = append(out, &cp)
	}
	return out
}

// FindResource returns the first service exposing a resource of the
// given type (and, if resourceName is non-empty, the given name). Map
// iteration order is unspecified, so which service wins among several
// matches is unspecified too — callers must not depend on a
// particular service being preferred.
func (r *Registry) FindResource(resourceType task.ResourceType, resourceName string) (serviceName string, resource task.ResourceMetadata, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, svc := range r.services {
		for _, res := range svc.Resources {
			if res.Type != resourceType {
				continue
			}
			if resourceName != "" && res.Name != resourceName {
				continue
			}
			return svc.Name, res, true
		}
	}
	return "", task.ResourceMetadata{}, false
}

// FindResourceInService looks up a named resource within one specific
// service.
func (r *Registry) FindResourceInService(serviceName, resourceName string) (task.ResourceMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[serviceName]
	if !ok {
		return task.ResourceMetadata{}, false
	}
	for _, res := range svc.Resources {
		if res.Name == resourceName {
			return res, true
		}
	}
	return task.ResourceMetadata{}, false
}

// ServicesByResourceType returns the names of every service exposing
// at least one resource of resourceType.
func (r *Registry) ServicesByResourceType(resourceType task.ResourceType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, svc := range r.services {
		for _, res := range svc.Resources {
			if res.Type == resourceType {
				out = append(out, svc.Name)
				break
			}
		}
	}
	return out
}

// Len reports the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// IsEmpty reports whether no services are registered.
func (r *Registry) IsEmpty() bool { return r.Len() == 0 }
