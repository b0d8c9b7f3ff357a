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

package rest

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// applySelect projects result through a jq filter. The await-result
// handler passes the request's ?select= value, or, when that is absent,
// the OutputSelect of the registry's step resource, so a client gets a
// narrower result without round-tripping the full payload.
func applySelect(result []byte, filter string) ([]byte, error) {
	if filter == "" || len(result) == 0 {
		return result, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid select expression: %w", err)
	}

	var input any
	if err := json.Unmarshal(result, &input); err != nil {
		return nil, fmt.Errorf("result is not valid JSON: %w", err)
	}

	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("select expression produced no output")
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("select expression failed: %w", err)
	}

	return json.Marshal(v)
}
