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

// Package schema describes the shape of each queryable collection so the
// prompt can tell the model which fields exist. Descriptors are derived from
// the owning service's model and cached by Registry.
package schema

import "sort"

// Data types a field may declare
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeObjectID = "objectId"
	TypeArray    = "array"
	TypeObject   = "object"
)

// FieldDescriptor describes one field of a collection
type FieldDescriptor struct {
	Name        string   `json:"name"`
	DataType    string   `json:"type"`
	Required    bool     `json:"required"`
	EnumValues  []string `json:"enum,omitempty"`
	Reference   string   `json:"ref,omitempty"` // Collection this field points at
	Description string   `json:"description,omitempty"`
}

// Descriptor is the cached schema of one collection.
// Descriptors are shared between callers and must not be mutated.
type Descriptor struct {
	Collection string                     `json:"collection"`
	Service    string                     `json:"service"`
	Model      string                     `json:"model"`
	Fields     map[string]FieldDescriptor `json:"fields"`
}

// FieldNames returns the descriptor's field names in sorted order
func (d *Descriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedFields returns the fields ordered by name
func (d *Descriptor) SortedFields() []FieldDescriptor {
	names := d.FieldNames()
	fields := make([]FieldDescriptor, 0, len(names))
	for _, name := range names {
		fields = append(fields, d.Fields[name])
	}
	return fields
}
