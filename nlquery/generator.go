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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"querygate/llm"
)

const (
	DefaultTemperature     = 0.1
	DefaultMaxTokens       = 512
	DefaultGenerateTimeout = 30 * time.Second
)

var (
	// thinkTagPattern matches a reasoning block some models emit before the answer
	thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

	// fencePattern matches a ``` or ```json fence line
	fencePattern = regexp.MustCompile("(?m)^[ \t]*```[a-zA-Z]*[ \t]*$")

	errNoObject = errors.New("no JSON object found")
)

// CandidateQuery is one generated lookup: a target collection and the filter
// to run against it. Both keys are required and no others are accepted.
type CandidateQuery struct {
	Collection string      `json:"collection"`
	Filter     interface{} `json:"filter"`
}

// GeneratorConfig tunes the completion request
type GeneratorConfig struct {
	Temperature float64
	MaxTokens   int
	Model       string
	Timeout     time.Duration
}

// Generator turns a question plus instructions into a CandidateQuery
type Generator struct {
	provider llm.Provider
	config   GeneratorConfig
}

// NewGenerator creates a generator backed by provider. Zero config values
// take the package defaults; use a negative Temperature for 0.
func NewGenerator(provider llm.Provider, cfg GeneratorConfig) *Generator {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	} else if cfg.Temperature < 0 {
		cfg.Temperature = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGenerateTimeout
	}
	return &Generator{provider: provider, config: cfg}
}

// Generate asks the model for a query. Failures of the call and of parsing
// both come back as *GenerationError.
func (g *Generator) Generate(ctx context.Context, question, instructions string) (CandidateQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:       question,
		SystemPrompt: instructions,
		MaxTokens:    g.config.MaxTokens,
		Temperature:  g.config.Temperature,
		Model:        g.config.Model,
	})
	if err != nil {
		return CandidateQuery{}, &GenerationError{Cause: fmt.Errorf("%s completion: %w", g.provider.Name(), err)}
	}
	return ParseCandidate(resp.Content)
}

// ParseCandidate extracts a CandidateQuery from raw model output. Leading
// <think> blocks and markdown fences are stripped first.
func ParseCandidate(raw string) (CandidateQuery, error) {
	fail := func(err error) (CandidateQuery, error) {
		return CandidateQuery{}, &GenerationError{Raw: raw, Cause: err}
	}

	cleaned := thinkTagPattern.ReplaceAllString(raw, "")
	cleaned = fencePattern.ReplaceAllString(cleaned, "")

	obj, ok := extractBalancedJSON(cleaned, '{', '}')
	if !ok {
		return fail(errNoObject)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return fail(fmt.Errorf("invalid JSON: %w", err))
	}

	var extra []string
	for k := range fields {
		if k != "collection" && k != "filter" {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fail(fmt.Errorf("unexpected keys %s; only \"collection\" and \"filter\" are allowed", strings.Join(extra, ", ")))
	}

	rawCollection, ok := fields["collection"]
	if !ok {
		return fail(errors.New(`missing "collection"`))
	}
	rawFilter, ok := fields["filter"]
	if !ok {
		return fail(errors.New(`missing "filter"`))
	}

	var q CandidateQuery
	if !bytes.HasPrefix(bytes.TrimSpace(rawCollection), []byte(`"`)) {
		return fail(errors.New(`"collection" must be a string`))
	}
	if err := json.Unmarshal(rawCollection, &q.Collection); err != nil {
		return fail(fmt.Errorf(`"collection": %w`, err))
	}
	if err := json.Unmarshal(rawFilter, &q.Filter); err != nil {
		return fail(fmt.Errorf(`"filter": %w`, err))
	}
	return q, nil
}

// extractBalancedJSON returns the first balanced structure that starts with
// openChar, ignoring brackets inside string literals.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
