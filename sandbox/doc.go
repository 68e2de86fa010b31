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

/*
Package sandbox decides whether a generated query may run.

A Validator is built from a Policy: the collections that may be queried and
the operator tokens that must never appear. Validate is a pure function of
the policy and its inputs; it never touches a network or a datastore, and the
same input always yields the same Verdict.

# Modes

ModeBasic (default) serializes the filter to JSON and rejects it if any
denied token occurs anywhere in the text, compared case-insensitively. This
is deliberately coarse: a field value that happens to contain a denied token
is rejected too, and an operator missing from the list is admitted.

ModeStrict runs the basic check and then walks the filter, admitting only
$eq, $ne, $gt, $gte, $lt, $lte, $in, $nin, $regex, $options, $and and $or,
with $and/$or holding arrays of documents.

# Usage

	v := sandbox.NewValidator(sandbox.Policy{
	    AllowedCollections: []string{"slots", "appointments"},
	    Mode:               sandbox.ModeStrict,
	})
	verdict := v.Validate("slots", filter)
	if !verdict.Safe {
	    log.Printf("rejected: %s", verdict.Reason)
	}
*/
package sandbox
