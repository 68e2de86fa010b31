// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sandbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Category classifies why a candidate was rejected.
type Category string

const (
	// CategoryMalformed means the candidate has no collection or the filter
	// is not a document.
	CategoryMalformed Category = "malformed"

	// CategoryCollection means the collection is outside the allowed set.
	CategoryCollection Category = "collection_not_allowed"

	// CategoryDeniedOperator means the filter contains a denied token.
	CategoryDeniedOperator Category = "denied_operator"

	// CategoryUnsupportedOperator means strict mode found an operator
	// outside the read-only whitelist, or one used with the wrong shape.
	CategoryUnsupportedOperator Category = "unsupported_operator"
)

// Verdict is the outcome of validating one candidate query.
type Verdict struct {
	Safe       bool     `json:"safe"`
	Reason     string   `json:"reason,omitempty"`
	Category   Category `json:"category,omitempty"`
	Operator   string   `json:"operator,omitempty"`
	Collection string   `json:"collection"`
}

// Validator checks candidate queries against a Policy. It performs no I/O,
// holds no mutable state and is safe for concurrent use.
type Validator struct {
	policy  Policy
	allowed map[string]bool
}

// NewValidator creates a validator for policy
func NewValidator(policy Policy) *Validator {
	p := policy.normalize()
	allowed := make(map[string]bool, len(p.AllowedCollections))
	for _, c := range p.AllowedCollections {
		allowed[c] = true
	}
	return &Validator{policy: p, allowed: allowed}
}

// Policy returns the normalized policy in force
func (v *Validator) Policy() Policy {
	p := v.policy
	p.AllowedCollections = append([]string(nil), v.policy.AllowedCollections...)
	p.DeniedOperators = append([]string(nil), v.policy.DeniedOperators...)
	return p
}

// Validate decides whether the filter may run against collection. Checks
// short-circuit in order: shape, collection allow-list, denied operators,
// then (strict mode) the operator whitelist.
func (v *Validator) Validate(collection string, filter interface{}) Verdict {
	if strings.TrimSpace(collection) == "" {
		return reject(collection, CategoryMalformed, "", "candidate has no target collection")
	}
	doc, ok := filter.(map[string]interface{})
	if !ok {
		return reject(collection, CategoryMalformed, "",
			fmt.Sprintf("filter must be a JSON object, got %s", describeType(filter)))
	}

	if !v.allowed[collection] {
		return reject(collection, CategoryCollection, "",
			fmt.Sprintf("collection %q is not allowed; allowed collections: %s",
				collection, strings.Join(v.policy.AllowedCollections, ", ")))
	}

	serialized, err := json.Marshal(doc)
	if err != nil {
		return reject(collection, CategoryMalformed, "", fmt.Sprintf("filter cannot be serialized: %v", err))
	}
	text := strings.ToLower(string(serialized))
	for _, op := range v.policy.DeniedOperators {
		if strings.Contains(text, op) {
			return reject(collection, CategoryDeniedOperator, op,
				fmt.Sprintf("filter uses denied operator %q", op))
		}
	}

	if v.policy.Mode == ModeStrict {
		if op, reason := checkStrict(doc, ""); reason != "" {
			return reject(collection, CategoryUnsupportedOperator, op, reason)
		}
	}

	return Verdict{Safe: true, Collection: collection}
}

func reject(collection string, category Category, operator, reason string) Verdict {
	return Verdict{
		Safe:       false,
		Reason:     reason,
		Category:   category,
		Operator:   operator,
		Collection: collection,
	}
}

// checkStrict walks a filter document. It returns the offending operator
// and a reason, or an empty reason when the document is acceptable.
func checkStrict(doc map[string]interface{}, path string) (string, string) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := doc[key]
		here := joinPath(path, key)

		if !strings.HasPrefix(key, "$") {
			if strings.Contains(key, "$") {
				return key, fmt.Sprintf("field name %q must not contain '$'", here)
			}
			if op, reason := checkStrictValue(value, here); reason != "" {
				return op, reason
			}
			continue
		}

		op := strings.ToLower(key)
		if ExtendedJSONTypes[op] {
			s, ok := value.(string)
			if !ok || len(doc) != 1 {
				return key, fmt.Sprintf("%s at %s must be the only key and hold a string", key, displayPath(path))
			}
			if !validExtendedValue(op, s) {
				return key, fmt.Sprintf("%s at %s has malformed value %q", key, displayPath(path), s)
			}
			continue
		}
		if !StrictOperators[op] {
			return key, fmt.Sprintf("operator %q at %s is not permitted; permitted operators: %s",
				key, displayPath(path), strings.Join(strictOperatorList(), ", "))
		}

		switch op {
		case "$and", "$or":
			clauses, ok := value.([]interface{})
			if !ok || len(clauses) == 0 {
				return key, fmt.Sprintf("%s at %s must hold a non-empty array of objects", key, displayPath(path))
			}
			for i, clause := range clauses {
				sub, ok := clause.(map[string]interface{})
				if !ok {
					return key, fmt.Sprintf("%s at %s must hold only objects", key, displayPath(path))
				}
				if o, reason := checkStrict(sub, fmt.Sprintf("%s[%d]", here, i)); reason != "" {
					return o, reason
				}
			}
		case "$in", "$nin":
			items, ok := value.([]interface{})
			if !ok {
				return key, fmt.Sprintf("%s at %s must hold an array", key, displayPath(path))
			}
			for _, item := range items {
				if _, isDoc := item.(map[string]interface{}); isDoc {
					return key, fmt.Sprintf("%s at %s must hold only scalar values", key, displayPath(path))
				}
			}
		case "$regex":
			if _, ok := value.(string); !ok {
				return key, fmt.Sprintf("$regex at %s must be a string", displayPath(path))
			}
		case "$options":
			opts, ok := value.(string)
			if !ok || strings.Trim(opts, "imsx") != "" {
				return key, fmt.Sprintf("$options at %s must only use the flags i, m, s, x", displayPath(path))
			}
		default:
			if o, reason := checkStrictValue(value, here); reason != "" {
				return o, reason
			}
		}
	}
	return "", ""
}

func checkStrictValue(value interface{}, path string) (string, string) {
	switch val := value.(type) {
	case map[string]interface{}:
		return checkStrict(val, path)
	case []interface{}:
		for i, item := range val {
			if op, reason := checkStrictValue(item, fmt.Sprintf("%s[%d]", path, i)); reason != "" {
				return op, reason
			}
		}
	}
	return "", ""
}

func strictOperatorList() []string {
	ops := make([]string, 0, len(StrictOperators))
	for op := range StrictOperators {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "top level"
	}
	return path
}

func describeType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
