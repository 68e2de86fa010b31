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

// Package llm is the language model boundary. Every backend (Anthropic,
// OpenAI, AWS Bedrock) is reached through the Provider interface so the query
// generator never depends on a vendor SDK.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrThrottled marks a provider failure caused by rate limiting or overload
var ErrThrottled = errors.New("provider throttled")

// IsThrottled reports whether err came from a rate-limited or overloaded provider
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

func throttled(err error) error {
	return fmt.Errorf("%w: %w", ErrThrottled, err)
}

// ProviderType identifies the underlying implementation
type ProviderType string

const (
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeBedrock   ProviderType = "bedrock"
)

// Provider is the unified interface for all LLM providers.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the identifier used in logs and metrics
	Name() string

	// Type returns the provider type
	Type() ProviderType

	// Complete generates a completion for the given request.
	// The context should be used for cancellation and timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn completion request
type CompletionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature"` // 0.0 is valid; negative means provider default
	Model        string  `json:"model,omitempty"`
}

// CompletionResponse is the provider-neutral completion result
type CompletionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Usage        UsageStats    `json:"usage"`
	Latency      time.Duration `json:"latency"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// UsageStats contains token usage statistics
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
