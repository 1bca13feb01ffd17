/*
 * Copyright (C) 2025 Tuplejump, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not
 * use this file except in compliance with the License. You may obtain a copy of
 * the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
 * License for the specific language governing permissions and limitations under
 * the License.
 */

// Package extensions keeps the registry of processors that can take over
// execution of statements against selected tables. Processors register once
// at process start; lookup during execution is a plain list scan with no
// reflection involved.
package extensions

import (
	"fmt"
	"sync"

	"github.com/tuplejump/cassandra/statements"
)

// Processor handles every statement it intercepts, replacing the engine's
// own write path for those statements.
type Processor = statements.ExtensionProcessorIface

// Registry holds registered processors in registration order. The first
// processor whose Intercepts returns true wins.
type Registry struct {
	mu         sync.RWMutex
	processors []Processor
	byName     map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Processor)}
}

// Register adds a processor. Registering two processors under the same name
// is a startup misconfiguration and fails.
func (r *Registry) Register(p Processor) error {
	if p == nil {
		return fmt.Errorf("cannot register a nil extension processor")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("extension processor must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("extension processor %s is already registered", name)
	}
	r.byName[name] = p
	r.processors = append(r.processors, p)
	return nil
}

// CheckConfigured verifies that every configured processor name was
// registered, so a typo in configuration fails at startup instead of
// silently never intercepting anything.
func (r *Registry) CheckConfigured(names []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if _, ok := r.byName[name]; !ok {
			return fmt.Errorf("extension processor %s is configured but not registered", name)
		}
	}
	return nil
}

// ProcessorFor returns the processor responsible for the statement, or nil
// when no registered processor intercepts it.
func (r *Registry) ProcessorFor(stmt *statements.ModificationStatement) statements.ExtensionProcessorIface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.processors {
		if p.Intercepts(stmt) {
			return p
		}
	}
	return nil
}

var defaultRegistry = NewRegistry()

// Register adds a processor to the process-wide registry.
func Register(p Processor) error {
	return defaultRegistry.Register(p)
}

// CheckConfigured validates configured processor names against the
// process-wide registry.
func CheckConfigured(names []string) error {
	return defaultRegistry.CheckConfigured(names)
}

// Default returns the process-wide registry for wiring into an executor.
func Default() *Registry {
	return defaultRegistry
}
