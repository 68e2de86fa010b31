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

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/schema"
)

func TestLookup_AllModelsDescribe(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			src, err := Lookup(name)
			require.NoError(t, err)
			assert.Equal(t, name, src.Model())

			fields, err := src.DescribeFields()
			require.NoError(t, err)
			assert.NotEmpty(t, fields)
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("Invoice")
	assert.Error(t, err)
}

func TestSlotFields(t *testing.T) {
	src, err := Lookup("Slot")
	require.NoError(t, err)
	fields, err := src.DescribeFields()
	require.NoError(t, err)

	byName := make(map[string]schema.FieldDescriptor)
	for _, f := range fields {
		byName[f.Name] = f
	}

	assert.Equal(t, schema.TypeBoolean, byName["isAvailable"].DataType)
	assert.Equal(t, schema.TypeString, byName["date"].DataType)
	assert.True(t, byName["date"].Required)
	assert.Equal(t, "providers", byName["providerId"].Reference)
	assert.Equal(t, schema.TypeDate, byName["createdAt"].DataType)
}

func TestReferenceBindings(t *testing.T) {
	seen := make(map[string]bool)
	for _, b := range ReferenceBindings {
		assert.False(t, seen[b.Collection], "collection %s bound twice", b.Collection)
		seen[b.Collection] = true
		_, err := Lookup(b.Model)
		assert.NoError(t, err, "binding %s names unknown model %s", b.Collection, b.Model)
	}
	assert.Len(t, seen, 4)
}
