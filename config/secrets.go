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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManager resolves a secret identifier to a set of credential fields
type SecretsManager interface {
	GetSecret(ctx context.Context, secretID string) (map[string]string, error)
}

// NewSecretsManager builds the manager selected by cfg.
// It returns nil when no provider is configured.
func NewSecretsManager(ctx context.Context, cfg SecretsConfig) (SecretsManager, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "env":
		return NewEnvSecretsManager(nil), nil
	case "aws":
		sm, err := NewAWSSecretsManager(ctx, AWSSecretsManagerOptions{
			Region:   cfg.Region,
			CacheTTL: time.Duration(cfg.CacheTTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return sm, nil
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
}

// secretsClient is the part of the AWS client AWSSecretsManager uses
type secretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager implements SecretsManager using AWS Secrets Manager
type AWSSecretsManager struct {
	client secretsClient
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newAWSSecretsManager(secretsmanager.NewFromConfig(cfg), opts), nil
}

func newAWSSecretsManager(client secretsClient, opts AWSSecretsManagerOptions) *AWSSecretsManager {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultSecretsCacheTTL * time.Second
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger,
	}
}

// GetSecret retrieves a secret from AWS Secrets Manager
// The secret value is expected to be a JSON object with string values
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskARN(secretARN))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var credentials map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &credentials); err != nil {
		// A secret that is not a JSON object is a single bare value
		credentials = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretARN] = &secretCacheEntry{
		value:     credentials,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return credentials, nil
}

// InvalidateSecret removes a secret from the cache
func (s *AWSSecretsManager) InvalidateSecret(secretARN string) {
	s.mu.Lock()
	delete(s.cache, secretARN)
	s.mu.Unlock()
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// EnvSecretsManager implements SecretsManager using environment variables.
// The secret ID is a prefix: "BOOKING_DB" reads BOOKING_DB_USERNAME,
// BOOKING_DB_PASSWORD and so on.
type EnvSecretsManager struct {
	logger *log.Logger
}

// NewEnvSecretsManager creates a secrets manager that reads from environment variables
func NewEnvSecretsManager(logger *log.Logger) *EnvSecretsManager {
	if logger == nil {
		logger = log.New(os.Stdout, "[ENV_SECRETS] ", log.LstdFlags)
	}
	return &EnvSecretsManager{logger: logger}
}

var envSecretFields = []string{"USERNAME", "PASSWORD", "API_KEY", "VALUE"}

// GetSecret retrieves credentials from environment variables
func (s *EnvSecretsManager) GetSecret(ctx context.Context, prefix string) (map[string]string, error) {
	credentials := make(map[string]string)
	for _, field := range envSecretFields {
		if value := os.Getenv(prefix + "_" + field); value != "" {
			credentials[strings.ToLower(field)] = value
		}
	}

	if len(credentials) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", prefix)
	}

	s.logger.Printf("Loaded %d credentials from environment for %s", len(credentials), prefix)
	return credentials, nil
}

// StaticSecretsManager serves secrets from memory.
// Useful for tests and local development.
type StaticSecretsManager struct {
	secrets map[string]map[string]string
	mu      sync.RWMutex
}

// NewStaticSecretsManager creates an empty in-memory secrets manager
func NewStaticSecretsManager() *StaticSecretsManager {
	return &StaticSecretsManager{secrets: make(map[string]map[string]string)}
}

// SetSecret stores a secret
func (s *StaticSecretsManager) SetSecret(secretID string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secretID] = value
}

// GetSecret returns a stored secret
func (s *StaticSecretsManager) GetSecret(ctx context.Context, secretID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if secret, ok := s.secrets[secretID]; ok {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found", secretID)
}

var (
	_ SecretsManager = (*AWSSecretsManager)(nil)
	_ SecretsManager = (*EnvSecretsManager)(nil)
	_ SecretsManager = (*StaticSecretsManager)(nil)
)
