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
	"fmt"
	"sort"
	"time"

	"querygate/schema"
)

// Defaults
const (
	DefaultPort              = 8080
	DefaultShutdownTimeoutMs = 15000
	DefaultLogLevel          = "INFO"

	DefaultLLMProvider  = "anthropic"
	DefaultTemperature  = 0.1
	DefaultMaxTokens    = 512
	DefaultLLMTimeoutMs = 30000

	DefaultMaxAttempts   = 5
	DefaultBackoffBaseMs = 500
	DefaultMaxRows       = 100
	MaxRowsHardCap       = 100

	DefaultConnectorType    = "mongodb"
	DefaultQueryTimeoutMs   = 10000
	DefaultConnectTimeoutMs = 10000
	DefaultSecretsCacheTTL  = 300 // seconds
)

// Backoff strategies
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Sandbox modes
const (
	SandboxBasic  = "basic"
	SandboxStrict = "strict"
)

// Config is the root of a querygate configuration file
type Config struct {
	Version  string                          `yaml:"version"`
	LogLevel string                          `yaml:"log_level,omitempty"`
	Server   ServerConfig                    `yaml:"server"`
	LLM      LLMConfig                       `yaml:"llm"`
	Pipeline PipelineConfig                  `yaml:"pipeline"`
	Sandbox  SandboxConfig                   `yaml:"sandbox"`
	Secrets  SecretsConfig                   `yaml:"secrets"`
	Services map[string]ServiceConfig        `yaml:"services"`
	Models   map[string]schema.DeclaredModel `yaml:"models,omitempty"`
}

// ServerConfig configures the operational HTTP surface
type ServerConfig struct {
	Port              int `yaml:"port,omitempty"`
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms,omitempty"`
}

// LLMConfig selects and configures the language model provider
type LLMConfig struct {
	Provider     string   `yaml:"provider,omitempty"` // anthropic, openai, bedrock
	Model        string   `yaml:"model,omitempty"`
	APIKey       string   `yaml:"api_key,omitempty"`
	APIKeySecret string   `yaml:"api_key_secret,omitempty"` // Secret holding an api_key (or bare value)
	BaseURL      string   `yaml:"base_url,omitempty"`
	Region       string   `yaml:"region,omitempty"` // Bedrock only
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max_tokens,omitempty"`
	TimeoutMs    int      `yaml:"timeout_ms,omitempty"`

	// RequestsPerSecond caps completion calls across all pipelines; 0 is unlimited
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// PipelineConfig bounds the retry loop and the result size
type PipelineConfig struct {
	MaxAttempts     int    `yaml:"max_attempts,omitempty"`
	BackoffBaseMs   int    `yaml:"backoff_base_ms,omitempty"`
	BackoffStrategy string `yaml:"backoff_strategy,omitempty"` // linear, exponential
	MaxRows         int    `yaml:"max_rows,omitempty"`
}

// SandboxConfig is the safety policy applied to every candidate query
type SandboxConfig struct {
	Mode               string   `yaml:"mode,omitempty"` // basic, strict
	AllowedCollections []string `yaml:"allowed_collections"`
	DeniedOperators    []string `yaml:"denied_operators,omitempty"` // Empty means the built-in list
}

// SecretsConfig selects where service credentials come from
type SecretsConfig struct {
	Provider        string `yaml:"provider,omitempty"` // aws, env, or empty for none
	Region          string `yaml:"region,omitempty"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds,omitempty"`
}

// ServiceConfig describes one backing service and the collections it owns
type ServiceConfig struct {
	Type              string                 `yaml:"type,omitempty"`
	ConnectionURL     string                 `yaml:"connection_url,omitempty"`
	Database          string                 `yaml:"database"`
	CredentialsSecret string                 `yaml:"credentials_secret,omitempty"`
	Options           map[string]interface{} `yaml:"options,omitempty"`
	TimeoutMs         int                    `yaml:"timeout_ms,omitempty"`
	ConnectTimeoutMs  int                    `yaml:"connect_timeout_ms,omitempty"`
	Collections       []CollectionConfig     `yaml:"collections"`
}

// CollectionConfig binds a collection to the model describing it. Model names
// either a catalog model or an entry of Config.Models.
type CollectionConfig struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
}

// ShutdownTimeout returns the graceful shutdown bound
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

// Timeout returns the per-completion timeout
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

// BackoffBase returns the backoff base delay
func (p PipelineConfig) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseMs) * time.Millisecond
}

// ApplyDefaults fills every unset field with its default
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ShutdownTimeoutMs == 0 {
		c.Server.ShutdownTimeoutMs = DefaultShutdownTimeoutMs
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultLLMProvider
	}
	if c.LLM.Temperature == nil {
		t := DefaultTemperature
		c.LLM.Temperature = &t
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.TimeoutMs == 0 {
		c.LLM.TimeoutMs = DefaultLLMTimeoutMs
	}

	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = DefaultMaxAttempts
	}
	if c.Pipeline.BackoffBaseMs == 0 {
		c.Pipeline.BackoffBaseMs = DefaultBackoffBaseMs
	}
	if c.Pipeline.BackoffStrategy == "" {
		c.Pipeline.BackoffStrategy = BackoffLinear
	}
	if c.Pipeline.MaxRows == 0 {
		c.Pipeline.MaxRows = DefaultMaxRows
	}

	if c.Sandbox.Mode == "" {
		c.Sandbox.Mode = SandboxBasic
	}

	if c.Secrets.CacheTTLSeconds == 0 {
		c.Secrets.CacheTTLSeconds = DefaultSecretsCacheTTL
	}

	for name, svc := range c.Services {
		if svc.Type == "" {
			svc.Type = DefaultConnectorType
		}
		if svc.TimeoutMs == 0 {
			svc.TimeoutMs = DefaultQueryTimeoutMs
		}
		if svc.ConnectTimeoutMs == 0 {
			svc.ConnectTimeoutMs = DefaultConnectTimeoutMs
		}
		c.Services[name] = svc
	}
}

// Validate checks the configuration for consistency.
// Every collection a service owns must also be in the allowed set.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai", "bedrock":
	default:
		return fmt.Errorf("llm.provider must be one of anthropic, openai, bedrock; got '%s'", c.LLM.Provider)
	}
	if c.LLM.Temperature != nil && (*c.LLM.Temperature < 0 || *c.LLM.Temperature > 2) {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	if c.LLM.RequestsPerSecond < 0 || c.LLM.Burst < 0 {
		return fmt.Errorf("llm.requests_per_second and llm.burst must not be negative")
	}

	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.BackoffBaseMs < 0 {
		return fmt.Errorf("pipeline.backoff_base_ms must not be negative")
	}
	switch c.Pipeline.BackoffStrategy {
	case BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("pipeline.backoff_strategy must be linear or exponential; got '%s'", c.Pipeline.BackoffStrategy)
	}
	if c.Pipeline.MaxRows < 1 || c.Pipeline.MaxRows > MaxRowsHardCap {
		return fmt.Errorf("pipeline.max_rows must be between 1 and %d", MaxRowsHardCap)
	}

	switch c.Sandbox.Mode {
	case SandboxBasic, SandboxStrict:
	default:
		return fmt.Errorf("sandbox.mode must be basic or strict; got '%s'", c.Sandbox.Mode)
	}
	if len(c.Sandbox.AllowedCollections) == 0 {
		return fmt.Errorf("sandbox.allowed_collections must not be empty")
	}
	allowed := make(map[string]bool, len(c.Sandbox.AllowedCollections))
	for _, name := range c.Sandbox.AllowedCollections {
		if name == "" {
			return fmt.Errorf("sandbox.allowed_collections contains an empty name")
		}
		allowed[name] = true
	}

	switch c.Secrets.Provider {
	case "", "aws", "env":
	default:
		return fmt.Errorf("secrets.provider must be aws or env; got '%s'", c.Secrets.Provider)
	}

	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service must be configured")
	}
	owners := make(map[string]string)
	for _, name := range c.ServiceNames() {
		svc := c.Services[name]
		if svc.Database == "" {
			return fmt.Errorf("service '%s' must specify a database", name)
		}
		if len(svc.Collections) == 0 {
			return fmt.Errorf("service '%s' owns no collections", name)
		}
		for _, coll := range svc.Collections {
			if coll.Name == "" {
				return fmt.Errorf("service '%s' has a collection without a name", name)
			}
			if coll.Model == "" {
				return fmt.Errorf("collection '%s' must name a model", coll.Name)
			}
			if owner, dup := owners[coll.Name]; dup {
				return fmt.Errorf("collection '%s' owned by both '%s' and '%s'", coll.Name, owner, name)
			}
			if !allowed[coll.Name] {
				return fmt.Errorf("collection '%s' of service '%s' is not in sandbox.allowed_collections", coll.Name, name)
			}
			owners[coll.Name] = name
		}
	}

	for name, m := range c.Models {
		if m.Name != "" && m.Name != name {
			return fmt.Errorf("model '%s' declares a different name '%s'", name, m.Name)
		}
		if len(m.Fields) == 0 {
			return fmt.Errorf("model '%s' declares no fields", name)
		}
	}

	return nil
}

// ServiceNames returns the configured service names, sorted
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeclaredModel returns the declared model called name, if any
func (c *Config) DeclaredModel(name string) (*schema.DeclaredModel, bool) {
	m, ok := c.Models[name]
	if !ok {
		return nil, false
	}
	m.Name = name
	return &m, true
}
