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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	// DefaultBedrockRegion is used when no region is configured
	DefaultBedrockRegion = "us-east-1"

	// DefaultBedrockModel is used when no model is configured
	DefaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"
)

// bedrockInvoker is the part of the Bedrock runtime client BedrockProvider uses
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider calls models hosted on AWS Bedrock with IAM authentication
type BedrockProvider struct {
	client bedrockInvoker
	region string
	model  string
	logger *log.Logger
}

// NewBedrockProvider loads the default AWS credential chain for region
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	if region == "" {
		region = DefaultBedrockRegion
	}
	if model == "" {
		model = DefaultBedrockModel
	}
	if detectBedrockModelFamily(model) == "" {
		return nil, fmt.Errorf("unsupported bedrock model: %s", model)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	return newBedrockProvider(bedrockruntime.NewFromConfig(awsCfg), region, model), nil
}

func newBedrockProvider(client bedrockInvoker, region, model string) *BedrockProvider {
	return &BedrockProvider{
		client: client,
		region: region,
		model:  model,
		logger: log.New(os.Stdout, "[BEDROCK] ", log.LstdFlags),
	}
}

// Name returns the provider name
func (p *BedrockProvider) Name() string { return "bedrock" }

// Type returns the provider type
func (p *BedrockProvider) Type() ProviderType { return ProviderTypeBedrock }

// Complete invokes the model with a body shaped for its family
func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := buildBedrockBody(req, model)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.logger.Printf("InvokeModel failed (model=%s, region=%s): %v", model, p.region, err)
		var throttle *types.ThrottlingException
		if errors.As(err, &throttle) {
			return nil, throttled(fmt.Errorf("bedrock API error: %w", err))
		}
		return nil, fmt.Errorf("bedrock API error: %w", err)
	}

	resp, err := parseBedrockBody(output.Body, model)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	resp.Model = model
	resp.Latency = time.Since(start)
	return resp, nil
}

// buildBedrockBody builds the request body based on model family
func buildBedrockBody(req CompletionRequest, model string) (map[string]interface{}, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = 0.1
	}

	// Families without a system slot get the instructions inline
	inline := req.Prompt
	if req.SystemPrompt != "" {
		inline = req.SystemPrompt + "\n\n" + req.Prompt
	}

	switch family := detectBedrockModelFamily(model); family {
	case "anthropic":
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages": []map[string]string{
				{"role": "user", "content": req.Prompt},
			},
		}
		if req.SystemPrompt != "" {
			body["system"] = req.SystemPrompt
		}
		return body, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": inline,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      inline,
			"max_gen_len": maxTokens,
			"temperature": temperature,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt":      inline,
			"max_tokens":  maxTokens,
			"temperature": temperature,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family for %s", model)
	}
}

// parseBedrockBody parses the response body based on model family
func parseBedrockBody(body []byte, model string) (*CompletionResponse, error) {
	switch detectBedrockModelFamily(model) {
	case "anthropic":
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		var content strings.Builder
		for _, block := range resp.Content {
			content.WriteString(block.Text)
		}
		return &CompletionResponse{
			Content:      content.String(),
			FinishReason: resp.StopReason,
			Usage: UsageStats{
				PromptTokens:     resp.Usage.InputTokens,
				CompletionTokens: resp.Usage.OutputTokens,
				TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			},
		}, nil
	case "amazon":
		var resp struct {
			Results []struct {
				OutputText       string `json:"outputText"`
				TokenCount       int    `json:"tokenCount"`
				CompletionReason string `json:"completionReason"`
			} `json:"results"`
			InputTextTokenCount int `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		out := &CompletionResponse{Usage: UsageStats{PromptTokens: resp.InputTextTokenCount}}
		if len(resp.Results) > 0 {
			out.Content = resp.Results[0].OutputText
			out.FinishReason = resp.Results[0].CompletionReason
			out.Usage.CompletionTokens = resp.Results[0].TokenCount
		}
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
		return out, nil
	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
			StopReason       string `json:"stop_reason"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return &CompletionResponse{
			Content:      resp.Generation,
			FinishReason: resp.StopReason,
			Usage: UsageStats{
				PromptTokens:     resp.PromptTokenCount,
				CompletionTokens: resp.GenTokenCount,
				TotalTokens:      resp.PromptTokenCount + resp.GenTokenCount,
			},
		}, nil
	case "mistral":
		var resp struct {
			Outputs []struct {
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		out := &CompletionResponse{}
		if len(resp.Outputs) > 0 {
			out.Content = resp.Outputs[0].Text
			out.FinishReason = resp.Outputs[0].StopReason
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported model family for %s", model)
	}
}

// inferenceProfilePrefixes are the known AWS Bedrock inference profile prefixes.
var inferenceProfilePrefixes = []string{"us", "eu", "apac", "global"}

// supportedBedrockFamilies are the model families that Bedrock supports.
var supportedBedrockFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

// detectBedrockModelFamily detects the model family from model ID
//
//	anthropic.claude-3-5-sonnet-20240620-v1:0
//	eu.anthropic.claude-sonnet-4-5-20250929-v1:0
func detectBedrockModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}

	for _, prefix := range inferenceProfilePrefixes {
		if segments[0] == prefix {
			return validateBedrockFamily(segments[1])
		}
	}
	return validateBedrockFamily(segments[0])
}

// validateBedrockFamily returns the family if supported, empty string otherwise
func validateBedrockFamily(family string) string {
	for _, supported := range supportedBedrockFamilies {
		if family == supported {
			return family
		}
	}
	return ""
}

var _ Provider = (*BedrockProvider)(nil)
