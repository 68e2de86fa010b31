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

package config

import (
	"context"
	"fmt"
	"time"

	"querygate/connectors/base"
)

// ConnectorConfig builds the connector configuration for service, resolving
// its credentials through sm when the service names a secret.
func (c *Config) ConnectorConfig(ctx context.Context, service string, sm SecretsManager) (*base.ConnectorConfig, error) {
	svc, ok := c.Services[service]
	if !ok {
		return nil, fmt.Errorf("service '%s' not configured", service)
	}

	options := make(map[string]interface{}, len(svc.Options)+1)
	for k, v := range svc.Options {
		options[k] = v
	}
	options["database"] = svc.Database

	credentials := make(map[string]string)
	if svc.CredentialsSecret != "" {
		if sm == nil {
			return nil, fmt.Errorf("service '%s' names a credentials secret but no secrets provider is configured", service)
		}
		secret, err := sm.GetSecret(ctx, svc.CredentialsSecret)
		if err != nil {
			return nil, fmt.Errorf("service '%s': %w", service, err)
		}
		for k, v := range secret {
			credentials[k] = v
		}
	}

	return &base.ConnectorConfig{
		Name:           service,
		Type:           svc.Type,
		ConnectionURL:  svc.ConnectionURL,
		Credentials:    credentials,
		Options:        options,
		Timeout:        time.Duration(svc.TimeoutMs) * time.Millisecond,
		ConnectTimeout: time.Duration(svc.ConnectTimeoutMs) * time.Millisecond,
	}, nil
}

// ResolveLLMAPIKey returns the configured API key, fetching it from the
// secrets manager when llm.api_key_secret is set
func (c *Config) ResolveLLMAPIKey(ctx context.Context, sm SecretsManager) (string, error) {
	if c.LLM.APIKey != "" || c.LLM.APIKeySecret == "" {
		return c.LLM.APIKey, nil
	}
	if sm == nil {
		return "", fmt.Errorf("llm.api_key_secret is set but no secrets provider is configured")
	}
	secret, err := sm.GetSecret(ctx, c.LLM.APIKeySecret)
	if err != nil {
		return "", fmt.Errorf("llm api key: %w", err)
	}
	for _, key := range []string{"api_key", "value"} {
		if v := secret[key]; v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("secret for llm api key has no api_key field")
}
