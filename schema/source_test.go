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

package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type audit struct {
	CreatedAt time.Time `bson:"createdAt"`
}

type testSlot struct {
	ID          primitive.ObjectID `bson:"_id"`
	Date        string             `bson:"date" schema:"required,desc=Calendar day as YYYY-MM-DD, local time"`
	IsAvailable bool               `bson:"isAvailable" schema:"required"`
	ProviderID  primitive.ObjectID `bson:"providerId" schema:"ref=providers"`
	Status      string             `bson:"status" schema:"enum=open|held|booked"`
	Duration    int                `schema:"type=number"`
	Tags        []string           `bson:"tags,omitempty"`
	Internal    string             `bson:"-"`
	audit       `bson:",inline"`
	hidden      string
}

func fieldsByName(fields []FieldDescriptor) map[string]FieldDescriptor {
	out := make(map[string]FieldDescriptor, len(fields))
	for _, f := range fields {
		out[f.Name] = f
	}
	return out
}

func TestStructSource_DescribeFields(t *testing.T) {
	src, err := NewStructSource(&testSlot{})
	require.NoError(t, err)
	assert.Equal(t, "testSlot", src.Model())

	fields, err := src.DescribeFields()
	require.NoError(t, err)
	byName := fieldsByName(fields)

	tests := []struct {
		field string
		want  FieldDescriptor
	}{
		{"_id", FieldDescriptor{Name: "_id", DataType: TypeObjectID}},
		{"date", FieldDescriptor{Name: "date", DataType: TypeString, Required: true, Description: "Calendar day as YYYY-MM-DD, local time"}},
		{"isAvailable", FieldDescriptor{Name: "isAvailable", DataType: TypeBoolean, Required: true}},
		{"providerId", FieldDescriptor{Name: "providerId", DataType: TypeObjectID, Reference: "providers"}},
		{"status", FieldDescriptor{Name: "status", DataType: TypeString, EnumValues: []string{"open", "held", "booked"}}},
		{"duration", FieldDescriptor{Name: "duration", DataType: TypeNumber}},
		{"tags", FieldDescriptor{Name: "tags", DataType: TypeArray}},
		{"createdAt", FieldDescriptor{Name: "createdAt", DataType: TypeDate}},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, ok := byName[tt.field]
			require.True(t, ok, "field %s missing", tt.field)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Len(t, fields, len(tests), "skipped and unexported fields must not appear")
}

func TestNewStructSource_RejectsNonStruct(t *testing.T) {
	_, err := NewStructSource("slots")
	assert.Error(t, err)

	_, err = NewStructSource(nil)
	assert.Error(t, err)
}

func TestStructSource_BadTag(t *testing.T) {
	type bad struct {
		Status string `bson:"status" schema:"type=text"`
	}
	src, err := NewStructSource(bad{})
	require.NoError(t, err)

	_, err = src.DescribeFields()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestDeclaredModel_DescribeFields(t *testing.T) {
	tests := []struct {
		name    string
		model   DeclaredModel
		wantErr bool
		wantLen int
	}{
		{
			name: "valid",
			model: DeclaredModel{Name: "Invoice", Fields: []DeclaredField{
				{Name: "number", Type: "string", Required: true},
				{Name: "total", Type: "number"},
				{Name: "state", Enum: []string{"draft", "sent"}},
			}},
			wantLen: 3,
		},
		{name: "no fields", model: DeclaredModel{Name: "Empty"}, wantErr: true},
		{name: "unnamed field", model: DeclaredModel{Name: "X", Fields: []DeclaredField{{Type: "string"}}}, wantErr: true},
		{name: "unknown type", model: DeclaredModel{Name: "X", Fields: []DeclaredField{{Name: "a", Type: "uuid"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := tt.model.DescribeFields()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, fields, tt.wantLen)
		})
	}
}

func TestDeclaredModel_DefaultsToString(t *testing.T) {
	m := &DeclaredModel{Name: "Note", Fields: []DeclaredField{{Name: "body"}}}
	fields, err := m.DescribeFields()
	require.NoError(t, err)
	assert.Equal(t, TypeString, fields[0].DataType)
}
