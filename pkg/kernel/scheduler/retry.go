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

package scheduler

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// retryEvaluator compiles and caches a RetryPolicy.When expression,
// evaluated against the reason a step just failed and how many times
// it has now been attempted. An empty expression always allows the
// retry, matching the teacher's own expression.Evaluator default.
type retryEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newRetryEvaluator() *retryEvaluator {
	return &retryEvaluator{cache: make(map[string]*vm.Program)}
}

func (e *retryEvaluator) allows(when, reason string, attempt int) bool {
	if when == "" {
		return true
	}

	program, err := e.compile(when)
	if err != nil {
		// An unparsable predicate fails closed: never retry rather
		// than retry unconditionally on a misconfigured policy.
		return false
	}

	result, err := expr.Run(program, map[string]any{
		"reason":  reason,
		"attempt": attempt,
	})
	if err != nil {
		return false
	}

	allowed, ok := result.(bool)
	return ok && allowed
}

func (e *retryEvaluator) compile(when string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[when]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	env := map[string]any{"reason": "", "attempt": 0}
	prog, err := expr.Compile(when, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[when] = prog
	e.mu.Unlock()
	return prog, nil
}
