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
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when the config names no model
const DefaultOpenAIModel = "gpt-4o-mini"

// chatCompleter is the part of the go-openai client OpenAIProvider uses
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider talks to OpenAI or any OpenAI-compatible endpoint
type OpenAIProvider struct {
	client chatCompleter
	model  string
}

// OpenAIConfig configures an OpenAIProvider
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // Optional, e.g. a local vLLM endpoint
	Model   string
}

// NewOpenAIProvider creates an OpenAI-compatible provider
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string { return "openai" }

// Type returns the provider type
func (p *OpenAIProvider) Type() ProviderType { return ProviderTypeOpenAI }

// Complete sends a system + user chat completion
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	switch {
	case req.Temperature > 0:
		chatReq.Temperature = float32(req.Temperature)
	case req.Temperature == 0:
		// go-openai drops a zero temperature from the request body
		chatReq.Temperature = math.SmallestNonzeroFloat32
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode == http.StatusServiceUnavailable) {
			return nil, throttled(fmt.Errorf("openai API error: %w", err))
		}
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency:      time.Since(start),
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

var _ Provider = (*OpenAIProvider)(nil)
