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

package nlquery

import (
	"fmt"
	"sort"
	"strings"

	"querygate/schema"
)

// example is a worked question/answer pair shown to the model
type example struct {
	question string
	answer   string
}

// curatedExamples hold precedent for the reference collections. Other
// collections get the generic "all records" example only.
var curatedExamples = map[string][]example{
	"slots": {
		{"find available slots on 2025-11-07", `{"collection": "slots", "filter": {"date": "2025-11-07", "isAvailable": true}}`},
		{"slots for provider 64b7f0c2e4a1b2c3d4e5f607 after 2025-11-01", `{"collection": "slots", "filter": {"providerId": {"$oid": "64b7f0c2e4a1b2c3d4e5f607"}, "date": {"$gt": "2025-11-01"}}}`},
	},
	"appointments": {
		{"cancelled appointments", `{"collection": "appointments", "filter": {"status": "cancelled"}}`},
		{"upcoming appointments that are scheduled or confirmed from 2025-11-07", `{"collection": "appointments", "filter": {"status": {"$in": ["scheduled", "confirmed"]}, "date": {"$gte": "2025-11-07"}}}`},
	},
	"providers": {
		{"cardiologists", `{"collection": "providers", "filter": {"specialty": {"$regex": "cardio", "$options": "i"}}}`},
		{"active providers who speak Spanish", `{"collection": "providers", "filter": {"isActive": true, "languages": {"$in": ["Spanish"]}}}`},
	},
	"patients": {
		{"patients named smith", `{"collection": "patients", "filter": {"lastName": {"$regex": "smith", "$options": "i"}}}`},
		{"inactive patients or patients without an email", `{"collection": "patients", "filter": {"$or": [{"status": "inactive"}, {"email": ""}]}}`},
	},
}

var rules = []string{
	`A request for "all" records of a collection, or one with no condition, uses the empty filter {}. Never invent a condition the question does not state.`,
	`Dates are stored as "YYYY-MM-DD" strings. Compare them as strings, for example {"date": {"$gte": "2025-11-01"}}.`,
	`Match names and other free text case-insensitively with {"$regex": "<text>", "$options": "i"}.`,
	`"Available" means {"isAvailable": true}. "Active" means {"isActive": true} or {"status": "active"}, whichever the collection has.`,
	`Enum fields only take the listed values. Use the closest listed value.`,
	`Reference fields hold the ObjectId of a record in the referenced collection. Write them as {"$oid": "<24 hex chars>"}.`,
	`Use only these operators: $eq $ne $gt $gte $lt $lte $in $nin $regex $options $and $or.`,
	`The query is read-only. Never produce anything that updates, deletes, inserts or evaluates code.`,
	`Query exactly one collection from the list above.`,
}

// BuildPrompt renders the instructions sent to the model. It is pure: the
// same inputs always produce the same text. priorError, when not empty, is
// the reason the previous attempt failed and is appended verbatim.
func BuildPrompt(question string, schemas map[string]*schema.Descriptor, priorError string) string {
	names := make([]string, 0, len(schemas))
	for name, d := range schemas {
		if d != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("You translate questions about operational data into a single read-only MongoDB find filter.\n\n")

	b.WriteString("## Collections\n")
	for _, name := range names {
		writeSchema(&b, schemas[name])
	}

	b.WriteString("\n## Rules\n")
	for i, rule := range rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}

	b.WriteString("\n## Examples\n")
	for _, name := range names {
		fmt.Fprintf(&b, "Q: all %s\nA: {\"collection\": %q, \"filter\": {}}\n", name, name)
		for _, ex := range curatedExamples[name] {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", ex.question, ex.answer)
		}
	}

	b.WriteString("\n## Output\n")
	b.WriteString(`Respond with one JSON object and nothing else: {"collection": "<name>", "filter": {...}}` + "\n")
	b.WriteString("No prose, no markdown, no other keys.\n")

	if priorError != "" {
		b.WriteString("\n## Correction\n")
		b.WriteString("Your previous answer failed with this error:\n")
		b.WriteString(priorError)
		b.WriteString("\nFix the problem and answer again.\n")
	}

	b.WriteString("\n## Question\n")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}

func writeSchema(b *strings.Builder, d *schema.Descriptor) {
	fmt.Fprintf(b, "\n### %s (model %s", d.Collection, d.Model)
	if d.Service != "" {
		fmt.Fprintf(b, ", service %s", d.Service)
	}
	b.WriteString(")\n")

	for _, f := range d.SortedFields() {
		fmt.Fprintf(b, "- %s: %s", f.Name, f.DataType)
		if f.Required {
			b.WriteString(", required")
		}
		if len(f.EnumValues) > 0 {
			fmt.Fprintf(b, ", one of [%s]", strings.Join(f.EnumValues, ", "))
		}
		if f.Reference != "" {
			fmt.Fprintf(b, ", references %s", f.Reference)
		}
		if f.Description != "" {
			fmt.Fprintf(b, " (%s)", f.Description)
		}
		b.WriteString("\n")
	}
}
