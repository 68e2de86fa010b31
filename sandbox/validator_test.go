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
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var referenceCollections = []string{"slots", "appointments", "providers", "patients"}

func mustFilter(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var f map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &f))
	return f
}

func TestValidate_Basic(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections})

	tests := []struct {
		name       string
		collection string
		filter     string
		wantSafe   bool
		wantCat    Category
		wantOp     string
	}{
		{"empty filter", "slots", `{}`, true, "", ""},
		{"available slots on a day", "slots", `{"date":"2025-11-07","isAvailable":true}`, true, "", ""},
		{"regex name", "providers", `{"lastName":{"$regex":"^smi","$options":"i"}}`, true, "", ""},
		{"updatedAt field is fine", "appointments", `{"updatedAt":{"$gte":"2025-01-01"}}`, true, "", ""},
		{"collection not allowed", "payments", `{}`, false, CategoryCollection, ""},
		{"where clause", "slots", `{"$where":"this.a > 1"}`, false, CategoryDeniedOperator, "$where"},
		{"uppercase operator", "slots", `{"$WHERE":"1"}`, false, CategoryDeniedOperator, "$where"},
		{"nested expr", "slots", `{"$and":[{"$expr":{"$gt":["$a","$b"]}}]}`, false, CategoryDeniedOperator, "$expr"},
		{"delete keyword in value", "patients", `{"note":"deleteMany"}`, false, CategoryDeniedOperator, "deletemany"},
		{"unknown operator admitted in basic mode", "slots", `{"date":{"$exists":true}}`, true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.collection, mustFilter(t, tt.filter))
			assert.Equal(t, tt.wantSafe, got.Safe, "reason: %s", got.Reason)
			assert.Equal(t, tt.wantCat, got.Category)
			assert.Equal(t, tt.wantOp, got.Operator)
			assert.Equal(t, tt.collection, got.Collection)
			if !tt.wantSafe {
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestValidate_MalformedShapes(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections})

	tests := []struct {
		name       string
		collection string
		filter     interface{}
		wantInText string
	}{
		{"empty collection", "", map[string]interface{}{}, "no target collection"},
		{"blank collection", "   ", map[string]interface{}{}, "no target collection"},
		{"array filter", "slots", []interface{}{}, "got array"},
		{"string filter", "slots", "date = today", "got string"},
		{"null filter", "slots", nil, "got null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.collection, tt.filter)
			assert.False(t, got.Safe)
			assert.Equal(t, CategoryMalformed, got.Category)
			assert.Contains(t, got.Reason, tt.wantInText)
		})
	}
}

func TestValidate_CollectionReasonListsAllowedSet(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections})
	got := v.Validate("payments", map[string]interface{}{})

	assert.Contains(t, got.Reason, `"payments"`)
	for _, c := range referenceCollections {
		assert.Contains(t, got.Reason, c)
	}
}

func TestValidate_CollectionCheckedBeforeOperators(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections})
	got := v.Validate("payments", map[string]interface{}{"$where": "1"})
	assert.Equal(t, CategoryCollection, got.Category)
}

func TestValidate_Strict(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections, Mode: ModeStrict})

	tests := []struct {
		name     string
		filter   string
		wantSafe bool
		wantOp   string
	}{
		{"equality", `{"date":"2025-11-07"}`, true, ""},
		{"range", `{"date":{"$gte":"2025-11-01","$lt":"2025-12-01"}}`, true, ""},
		{"membership", `{"status":{"$in":["scheduled","confirmed"]}}`, true, ""},
		{"or of objects", `{"$or":[{"status":"cancelled"},{"status":"no_show"}]}`, true, ""},
		{"nested and/or", `{"$and":[{"$or":[{"a":1},{"b":{"$ne":2}}]},{"c":{"$lte":3}}]}`, true, ""},
		{"regex with options", `{"lastName":{"$regex":"smith","$options":"i"}}`, true, ""},
		{"embedded document equality", `{"address":{"city":"Lyon"}}`, true, ""},
		{"object id wrapper", `{"providerId":{"$oid":"64b7f0c2e4a1b2c3d4e5f607"}}`, true, ""},
		{"date wrapper in range", `{"createdAt":{"$gte":{"$date":"2025-11-01T00:00:00Z"}}}`, true, ""},
		{"object id wrapper with sibling", `{"providerId":{"$oid":"64b7f0c2e4a1b2c3d4e5f607","x":1}}`, false, "$oid"},
		{"object id wrapper not string", `{"providerId":{"$oid":7}}`, false, "$oid"},
		{"date wrapper with bare day", `{"date":{"$date":"2025-11-07"}}`, true, ""},
		{"date wrapper unparseable", `{"date":{"$date":"next tuesday"}}`, false, "$date"},
		{"object id wrapper not hex", `{"providerId":{"$oid":"not-an-object-id-at-all!"}}`, false, "$oid"},
		{"exists not whitelisted", `{"email":{"$exists":true}}`, false, "$exists"},
		{"elemMatch not whitelisted", `{"languages":{"$elemMatch":{"$eq":"fr"}}}`, false, "$elemMatch"},
		{"or holding object", `{"$or":{"a":1}}`, false, "$or"},
		{"and holding scalars", `{"$and":[1,2]}`, false, "$and"},
		{"empty or", `{"$or":[]}`, false, "$or"},
		{"in holding scalar", `{"status":{"$in":"scheduled"}}`, false, "$in"},
		{"in holding documents", `{"status":{"$in":[{"$gt":1}]}}`, false, "$in"},
		{"regex not string", `{"name":{"$regex":5}}`, false, "$regex"},
		{"bad regex options", `{"name":{"$regex":"a","$options":"iu"}}`, false, "$options"},
		{"dollar inside field name", `{"a$b":1}`, false, "a$b"},
		{"operator inside and clause", `{"$and":[{"x":{"$size":2}}]}`, false, "$size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate("slots", mustFilter(t, tt.filter))
			assert.Equal(t, tt.wantSafe, got.Safe, "reason: %s", got.Reason)
			assert.Equal(t, tt.wantOp, got.Operator)
			if !tt.wantSafe {
				assert.Equal(t, CategoryUnsupportedOperator, got.Category)
			}
		})
	}
}

func TestValidate_StrictStillAppliesDenylist(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections, Mode: ModeStrict})
	got := v.Validate("slots", map[string]interface{}{"$where": "1"})
	assert.Equal(t, CategoryDeniedOperator, got.Category)
}

func TestNewValidator_Normalizes(t *testing.T) {
	v := NewValidator(Policy{
		AllowedCollections: []string{"slots", "", "slots", "patients"},
		DeniedOperators:    []string{" $WHERE ", "$where", ""},
		Mode:               "bogus",
	})

	p := v.Policy()
	assert.Equal(t, []string{"slots", "patients"}, p.AllowedCollections)
	assert.Equal(t, []string{"$where"}, p.DeniedOperators)
	assert.Equal(t, DefaultMode, p.Mode)

	p.AllowedCollections[0] = "mutated"
	assert.Equal(t, []string{"slots", "patients"}, v.Policy().AllowedCollections)
}

func TestNewValidator_DefaultDenylist(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: []string{"slots"}})
	assert.Equal(t, len(DefaultDeniedOperators), len(v.Policy().DeniedOperators))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("STRICT")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	_, err = ParseMode("off")
	assert.Error(t, err)
}

// randomSafeFilter builds a filter from field names and values that contain
// no denied token
func randomSafeFilter(r *rand.Rand) map[string]interface{} {
	fields := []string{"date", "isAvailable", "status", "lastName", "providerId", "updatedAt"}
	values := []interface{}{"2025-11-07", true, false, "confirmed", 3.0, "smith"}
	f := make(map[string]interface{})
	for i := 0; i < r.Intn(4); i++ {
		f[fields[r.Intn(len(fields))]] = values[r.Intn(len(values))]
	}
	return f
}

func TestProperty_DeniedOperatorAlwaysRejected(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections})
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		f := randomSafeFilter(r)
		op := DefaultDeniedOperators[r.Intn(len(DefaultDeniedOperators))]
		if r.Intn(2) == 0 {
			op = strings.ToUpper(op)
		}
		// Place the token as a key at some depth or inside a value
		switch r.Intn(3) {
		case 0:
			f[op] = "x"
		case 1:
			f["nested"] = map[string]interface{}{op: 1}
		default:
			f["note"] = fmt.Sprintf("please %s now", op)
		}

		got := v.Validate(referenceCollections[r.Intn(len(referenceCollections))], f)
		require.False(t, got.Safe, "filter %v passed", f)
		require.Equal(t, CategoryDeniedOperator, got.Category)
	}
}

func TestProperty_UnknownCollectionAlwaysRejected(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections})
	r := rand.New(rand.NewSource(11))
	others := []string{"payments", "invoices", "users", "Slots", "slots ", "system.users", "admin"}

	for i := 0; i < 200; i++ {
		c := others[r.Intn(len(others))]
		got := v.Validate(c, randomSafeFilter(r))
		require.False(t, got.Safe)
		require.Equal(t, CategoryCollection, got.Category, "collection %q", c)
	}
}

func TestProperty_Deterministic(t *testing.T) {
	v := NewValidator(Policy{AllowedCollections: referenceCollections, Mode: ModeStrict})
	r := rand.New(rand.NewSource(3))

	for i := 0; i < 200; i++ {
		f := randomSafeFilter(r)
		if r.Intn(3) == 0 {
			f["x"] = map[string]interface{}{"$exists": true, "$size": 1, "$type": "string"}
		}
		c := referenceCollections[r.Intn(len(referenceCollections))]
		first := v.Validate(c, f)
		for j := 0; j < 3; j++ {
			require.Equal(t, first, v.Validate(c, f))
		}
	}
}
