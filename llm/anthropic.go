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

package llm

import (
	"context"
	"errors"

	"querygate/llm/anthropic"
)

// AnthropicAdapter adapts the anthropic client to Provider
type AnthropicAdapter struct {
	provider *anthropic.Provider
}

// NewAnthropicAdapter wraps provider
func NewAnthropicAdapter(provider *anthropic.Provider) *AnthropicAdapter {
	return &AnthropicAdapter{provider: provider}
}

// Name returns the provider name
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Type returns the provider type
func (a *AnthropicAdapter) Type() ProviderType { return ProviderTypeAnthropic }

// Complete forwards to the Messages API
func (a *AnthropicAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := a.provider.Complete(ctx, anthropic.CompletionRequest{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Model:        req.Model,
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) && (apiErr.IsRateLimitError() || apiErr.IsOverloadedError()) {
			return nil, throttled(err)
		}
		return nil, err
	}
	return &CompletionResponse{
		Content: resp.Content,
		Model:   resp.Model,
		Usage: UsageStats{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Latency:      resp.Latency,
		FinishReason: resp.StopReason,
	}, nil
}

var _ Provider = (*AnthropicAdapter)(nil)
