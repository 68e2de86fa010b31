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

// Package catalog holds the document models of the reference clinic
// deployment. Each model is owned by one backing service:
//
//	slots        -> scheduling       (Slot)
//	appointments -> booking          (Appointment)
//	providers    -> directory        (Provider)
//	patients     -> patient-records  (Patient)
package catalog

import (
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"querygate/schema"
)

// Slot is a bookable block of a provider's time
type Slot struct {
	ID          primitive.ObjectID `bson:"_id"`
	ProviderID  primitive.ObjectID `bson:"providerId" schema:"required,ref=providers,desc=Provider who owns the slot"`
	Date        string             `bson:"date" schema:"required,desc=Calendar day as a YYYY-MM-DD string"`
	StartTime   string             `bson:"startTime" schema:"required,desc=Start time as HH:MM, 24-hour clock"`
	EndTime     string             `bson:"endTime" schema:"required,desc=End time as HH:MM, 24-hour clock"`
	IsAvailable bool               `bson:"isAvailable" schema:"required,desc=True while the slot can still be booked"`
	Location    string             `bson:"location" schema:"desc=Clinic site name"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

// Appointment is a booked slot for a patient
type Appointment struct {
	ID         primitive.ObjectID `bson:"_id"`
	PatientID  primitive.ObjectID `bson:"patientId" schema:"required,ref=patients"`
	ProviderID primitive.ObjectID `bson:"providerId" schema:"required,ref=providers"`
	SlotID     primitive.ObjectID `bson:"slotId" schema:"required,ref=slots"`
	Date       string             `bson:"date" schema:"required,desc=Calendar day as a YYYY-MM-DD string"`
	Status     string             `bson:"status" schema:"required,enum=scheduled|confirmed|completed|cancelled|no_show"`
	Reason     string             `bson:"reason" schema:"desc=Reason for visit as given by the patient"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

// Provider is a clinician listed in the directory
type Provider struct {
	ID        primitive.ObjectID `bson:"_id"`
	FirstName string             `bson:"firstName" schema:"required"`
	LastName  string             `bson:"lastName" schema:"required"`
	Specialty string             `bson:"specialty" schema:"required,desc=Medical specialty, e.g. dermatology"`
	Languages []string           `bson:"languages" schema:"desc=Languages spoken"`
	IsActive  bool               `bson:"isActive" schema:"required,desc=False once the provider stops taking patients"`
}

// Patient is a person on record with the clinic
type Patient struct {
	ID          primitive.ObjectID `bson:"_id"`
	FirstName   string             `bson:"firstName" schema:"required"`
	LastName    string             `bson:"lastName" schema:"required"`
	DateOfBirth string             `bson:"dateOfBirth" schema:"required,desc=YYYY-MM-DD string"`
	Email       string             `bson:"email"`
	Phone       string             `bson:"phone"`
	Status      string             `bson:"status" schema:"enum=active|inactive"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

// Binding ties a collection to its owning service and model
type Binding struct {
	Collection string
	Service    string
	Model      string
}

// ReferenceBindings is the ownership map of the reference deployment
var ReferenceBindings = []Binding{
	{Collection: "slots", Service: "scheduling", Model: "Slot"},
	{Collection: "appointments", Service: "booking", Model: "Appointment"},
	{Collection: "providers", Service: "directory", Model: "Provider"},
	{Collection: "patients", Service: "patient-records", Model: "Patient"},
}

var models = map[string]interface{}{
	"Slot":        Slot{},
	"Appointment": Appointment{},
	"Provider":    Provider{},
	"Patient":     Patient{},
}

// Lookup returns a field source for the named catalog model
func Lookup(model string) (schema.FieldSource, error) {
	m, ok := models[model]
	if !ok {
		return nil, fmt.Errorf("unknown catalog model: %s", model)
	}
	return schema.NewStructSource(m)
}

// Names returns every catalog model name, sorted
func Names() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
