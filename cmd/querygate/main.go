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

// Package main is the entry point for querygate.
//
// querygate answers natural-language questions with read-only MongoDB
// lookups. A language model writes the filter, a sandbox checks it and the
// owning service's database runs it.
//
// Usage:
//
//	querygate serve --config querygate.yaml
//	querygate ask --config querygate.yaml "find available slots on 2025-11-07"
//	querygate schemas --config querygate.yaml
//	querygate check-config --config querygate.yaml
//
// Environment Variables:
//
//	QUERYGATE_CONFIG - config file path (default: querygate.yaml)
//	PORT - HTTP server port (default: 8080)
//	QUERYGATE_LLM_API_KEY - LLM API key (ANTHROPIC_API_KEY / OPENAI_API_KEY also work)
//	QUERYGATE_LOG_LEVEL - DEBUG, INFO, WARN or ERROR
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
