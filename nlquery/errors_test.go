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
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 3, "abc..."},
		{"inside two-byte rune", "aé", 2, "a..."},
		{"inside three-byte rune", "ab…", 3, "ab..."},
		{"on rune boundary", "éé", 2, "é..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestGenerationError_KeepsValidUTF8(t *testing.T) {
	raw := strings.Repeat("a", 299) + "é…" + strings.Repeat("b", 50)
	err := &GenerationError{Raw: raw, Cause: errors.New("no JSON object")}

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, strings.Repeat("a", 299)+"...")
	assert.NotContains(t, msg, "bbb")
}
