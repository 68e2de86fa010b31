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
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FieldSource is implemented by every backing service's model.
// It is the only thing the registry needs to build a Descriptor.
type FieldSource interface {
	Model() string
	DescribeFields() ([]FieldDescriptor, error)
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	objectIDType = reflect.TypeOf(primitive.ObjectID{})
	dateTimeType = reflect.TypeOf(primitive.DateTime(0))
)

// StructSource derives fields from a Go struct's bson and schema tags.
//
//	type Slot struct {
//	    ProviderID primitive.ObjectID `bson:"providerId" schema:"required,ref=providers"`
//	    Status     string             `bson:"status" schema:"enum=open|held|booked"`
//	}
//
// The schema tag is a comma separated list of type=, required, enum=a|b,
// ref= and desc=. desc= must come last and may itself contain commas.
// When type= is omitted the type is inferred from the Go field type.
type StructSource struct {
	name string
	typ  reflect.Type
}

// NewStructSource creates a source for model, which must be a struct or a
// pointer to one
func NewStructSource(model interface{}) (*StructSource, error) {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %T", model)
	}
	return &StructSource{name: t.Name(), typ: t}, nil
}

// Model returns the struct's type name
func (s *StructSource) Model() string {
	return s.name
}

// DescribeFields reflects over the struct's exported fields
func (s *StructSource) DescribeFields() ([]FieldDescriptor, error) {
	fields := make([]FieldDescriptor, 0, s.typ.NumField())
	if err := collectFields(s.typ, &fields); err != nil {
		return nil, fmt.Errorf("model %s: %w", s.name, err)
	}
	return fields, nil
}

func collectFields(t reflect.Type, out *[]FieldDescriptor) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() && !(sf.Anonymous && sf.Type.Kind() == reflect.Struct) {
			continue
		}

		name, inline, skip := bsonName(sf)
		if skip {
			continue
		}
		if inline {
			ft := sf.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() != reflect.Struct {
				return fmt.Errorf("field %s: inline requires a struct", sf.Name)
			}
			if err := collectFields(ft, out); err != nil {
				return err
			}
			continue
		}

		fd := FieldDescriptor{Name: name, DataType: inferType(sf.Type)}
		if err := parseSchemaTag(sf.Tag.Get("schema"), &fd); err != nil {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}
		*out = append(*out, fd)
	}
	return nil
}

// bsonName follows the driver's default: the lowercased Go name unless a
// bson tag says otherwise
func bsonName(sf reflect.StructField) (name string, inline, skip bool) {
	tag := sf.Tag.Get("bson")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "inline" {
			inline = true
		}
	}
	if parts[0] != "" {
		return parts[0], inline, false
	}
	if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
		return "", true, false
	}
	return strings.ToLower(sf.Name), inline, false
}

func inferType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t {
	case timeType, dateTimeType:
		return TypeDate
	case objectIDType:
		return TypeObjectID
	}
	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Bool:
		return TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.Slice, reflect.Array:
		return TypeArray
	default:
		return TypeObject
	}
}

func parseSchemaTag(tag string, fd *FieldDescriptor) error {
	if tag == "" {
		return nil
	}

	if idx := strings.Index(tag, "desc="); idx != -1 {
		fd.Description = strings.TrimSpace(tag[idx+len("desc="):])
		tag = strings.TrimSuffix(tag[:idx], ",")
	}

	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "type":
			if !validDataType(value) {
				return fmt.Errorf("unknown type %q", value)
			}
			fd.DataType = value
		case "required":
			fd.Required = true
		case "enum":
			values := strings.Split(value, "|")
			for _, v := range values {
				if v == "" {
					return fmt.Errorf("empty enum value")
				}
			}
			fd.EnumValues = values
		case "ref":
			if value == "" {
				return fmt.Errorf("empty ref")
			}
			fd.Reference = value
		default:
			return fmt.Errorf("unknown schema tag option %q", key)
		}
	}
	return nil
}

func validDataType(t string) bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeObjectID, TypeArray, TypeObject:
		return true
	}
	return false
}

// DeclaredModel is a model declared as data, typically in the config file's
// models section, for services whose Go types are not linked into querygate
type DeclaredModel struct {
	Name   string          `yaml:"name" json:"name"`
	Fields []DeclaredField `yaml:"fields" json:"fields"`
}

// DeclaredField is one field of a DeclaredModel
type DeclaredField struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Enum        []string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Ref         string   `yaml:"ref,omitempty" json:"ref,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Model returns the declared model name
func (m *DeclaredModel) Model() string {
	return m.Name
}

// DescribeFields validates and returns the declared fields
func (m *DeclaredModel) DescribeFields() ([]FieldDescriptor, error) {
	if len(m.Fields) == 0 {
		return nil, fmt.Errorf("model %s declares no fields", m.Name)
	}

	fields := make([]FieldDescriptor, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("model %s: field name is required", m.Name)
		}
		dataType := f.Type
		if dataType == "" {
			dataType = TypeString
		}
		if !validDataType(dataType) {
			return nil, fmt.Errorf("model %s: field %s has unknown type %q", m.Name, f.Name, f.Type)
		}
		fields = append(fields, FieldDescriptor{
			Name:        f.Name,
			DataType:    dataType,
			Required:    f.Required,
			EnumValues:  f.Enum,
			Reference:   f.Ref,
			Description: f.Description,
		})
	}
	return fields, nil
}

var (
	_ FieldSource = (*StructSource)(nil)
	_ FieldSource = (*DeclaredModel)(nil)
)
