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
	"fmt"
	"time"

	"querygate/llm/anthropic"
)

// ProviderConfig selects and configures one provider
type ProviderConfig struct {
	Type    ProviderType
	APIKey  string
	BaseURL string
	Model   string
	Region  string // Bedrock only
	Timeout time.Duration
}

// NewProvider builds the provider named by cfg.Type
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case ProviderTypeAnthropic, "":
		p, err := anthropic.NewProvider(anthropic.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return NewAnthropicAdapter(p), nil
	case ProviderTypeOpenAI:
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderTypeBedrock:
		p, err := NewBedrockProvider(ctx, cfg.Region, cfg.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", cfg.Type)
	}
}
