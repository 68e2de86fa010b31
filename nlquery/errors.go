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
	"unicode/utf8"

	"querygate/sandbox"
)

// GenerationError means no usable candidate came back from the model:
// the call failed, or its output was not a two-key JSON object.
type GenerationError struct {
	Raw   string // Raw completion text, empty when the call itself failed
	Cause error
}

func (e *GenerationError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("query generation failed: %v", e.Cause)
	}
	return fmt.Sprintf("model output is not a valid query (%v); output was: %s", e.Cause, truncate(e.Raw, 300))
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// SafetyRejection means the validator refused the candidate
type SafetyRejection struct {
	Verdict sandbox.Verdict
}

func (e *SafetyRejection) Error() string {
	return "query rejected: " + e.Verdict.Reason
}

// ExecutionError wraps a datastore failure
type ExecutionError struct {
	Collection string
	Cause      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query on '%s' failed: %v", e.Collection, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// RetriesExhausted is the final error of a run that used every attempt
type RetriesExhausted struct {
	Attempts int
	Last     error
}

func (e *RetriesExhausted) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhausted) Unwrap() error {
	return e.Last
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
