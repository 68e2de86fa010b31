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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, expands ${VAR} references, applies
// QUERYGATE_* environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envVarRegex matches ${VAR_NAME} and ${VAR_NAME:-default}.
// Bare $NAME is left alone so operator names such as $where survive.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands environment variable references in the string
// Returns empty string for undefined variables without a default
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]

		// Handle default values: ${VAR_NAME:-default}
		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// applyEnvOverrides lets deployments tune a shared config file per environment
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("QUERYGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("QUERYGATE_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("QUERYGATE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("QUERYGATE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "", "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.LLM.Region == "" {
		cfg.LLM.Region = v
	}

	intOverrides := []struct {
		env    string
		target *int
	}{
		{"QUERYGATE_MAX_ATTEMPTS", &cfg.Pipeline.MaxAttempts},
		{"QUERYGATE_BACKOFF_BASE_MS", &cfg.Pipeline.BackoffBaseMs},
		{"QUERYGATE_MAX_ROWS", &cfg.Pipeline.MaxRows},
	}
	for _, o := range intOverrides {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", o.env, err)
		}
		*o.target = n
	}

	if v := os.Getenv("QUERYGATE_BACKOFF_STRATEGY"); v != "" {
		cfg.Pipeline.BackoffStrategy = strings.ToLower(v)
	}
	if v := os.Getenv("QUERYGATE_SANDBOX_MODE"); v != "" {
		cfg.Sandbox.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("QUERYGATE_SECRETS_PROVIDER"); v != "" {
		cfg.Secrets.Provider = strings.ToLower(v)
	}

	return nil
}
