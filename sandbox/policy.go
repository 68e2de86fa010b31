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
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Mode selects how thoroughly filters are checked.
type Mode string

const (
	// ModeBasic rejects filters whose serialized form contains a denied
	// operator as a case-insensitive substring.
	ModeBasic Mode = "basic"

	// ModeStrict additionally walks the filter and only admits the
	// comparison, membership, regex and logical operators.
	ModeStrict Mode = "strict"
)

// DefaultMode is the default checking mode.
const DefaultMode = ModeBasic

// IsValid checks if the mode is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeBasic || m == ModeStrict
}

// ParseMode parses a string into a Mode, returning an error if invalid.
func ParseMode(s string) (Mode, error) {
	mode := Mode(strings.ToLower(s))
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid sandbox mode: %q, valid modes are: basic, strict", s)
	}
	return mode, nil
}

// DefaultDeniedOperators are the tokens that must never reach a datastore:
// server-side code execution, aggregation-only escapes and every write verb.
// Tokens are matched case-insensitively. Plain words such as "update" are
// not listed because they appear in ordinary field names like updatedAt.
var DefaultDeniedOperators = []string{
	"$where",
	"$function",
	"$accumulator",
	"$eval",
	"$expr",
	"$set",
	"$unset",
	"$inc",
	"$push",
	"$pull",
	"$rename",
	"$out",
	"$merge",
	"$delete",
	"$drop",
	"$update",
	"$insert",
	"$remove",
	"$replace",
	"deleteone",
	"deletemany",
	"dropdatabase",
}

// StrictOperators are the only $-operators admitted in strict mode
var StrictOperators = map[string]bool{
	"$eq":      true,
	"$ne":      true,
	"$gt":      true,
	"$gte":     true,
	"$lt":      true,
	"$lte":     true,
	"$in":      true,
	"$nin":     true,
	"$regex":   true,
	"$options": true,
	"$and":     true,
	"$or":      true,
}

// ExtendedJSONTypes are value wrappers strict mode admits in place of a
// scalar, e.g. {"$oid": "..."}. The connector converts them to BSON.
var ExtendedJSONTypes = map[string]bool{
	"$oid":  true,
	"$date": true,
}

// validExtendedValue reports whether s is a well-formed payload for wrapper op
func validExtendedValue(op, s string) bool {
	switch op {
	case "$oid":
		_, err := hex.DecodeString(s)
		return len(s) == 24 && err == nil
	case "$date":
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
	}
	return false
}

// Policy is the safety policy a Validator enforces
type Policy struct {
	AllowedCollections []string `json:"allowed_collections" yaml:"allowed_collections"`
	DeniedOperators    []string `json:"denied_operators" yaml:"denied_operators"`
	Mode               Mode     `json:"mode" yaml:"mode"`
}

// normalize returns a copy with duplicates removed, denied operators
// lowercased and defaults filled in. Order is preserved.
func (p Policy) normalize() Policy {
	out := Policy{Mode: p.Mode}
	if !out.Mode.IsValid() {
		out.Mode = DefaultMode
	}

	seen := make(map[string]bool)
	for _, c := range p.AllowedCollections {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out.AllowedCollections = append(out.AllowedCollections, c)
	}

	denied := p.DeniedOperators
	if len(denied) == 0 {
		denied = DefaultDeniedOperators
	}
	seen = make(map[string]bool)
	for _, op := range denied {
		op = strings.ToLower(strings.TrimSpace(op))
		if op == "" || seen[op] {
			continue
		}
		seen[op] = true
		out.DeniedOperators = append(out.DeniedOperators, op)
	}

	return out
}
