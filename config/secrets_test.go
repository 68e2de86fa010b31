// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
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
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSecretsClient struct {
	mock.Mock
}

func (m *mockSecretsClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(params.SecretId))
	out, _ := args.Get(0).(*secretsmanager.GetSecretValueOutput)
	return out, args.Error(1)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestMaskARN(t *testing.T) {
	tests := []struct {
		name string
		arn  string
		want string
	}{
		{"full ARN", "arn:aws:secretsmanager:us-east-1:123456789012:secret:my-secret-abc123", "...t-abc123"},
		{"short string", "short", "***"},
		{"exact 12 chars", "123456789012", "***"},
		{"13 chars", "1234567890123", "...67890123"},
		{"empty string", "", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskARN(tt.arn); got != tt.want {
				t.Errorf("maskARN(%q) = %q, want %q", tt.arn, got, tt.want)
			}
		})
	}
}

func TestAWSSecretsManager_CachesJSONSecret(t *testing.T) {
	client := &mockSecretsClient{}
	client.On("GetSecretValue", mock.Anything, "booking-db").Return(&secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"username":"reader","password":"pw"}`),
	}, nil).Once()

	sm := newAWSSecretsManager(client, AWSSecretsManagerOptions{CacheTTL: time.Minute, Logger: quietLogger()})

	for i := 0; i < 3; i++ {
		secret, err := sm.GetSecret(context.Background(), "booking-db")
		require.NoError(t, err)
		assert.Equal(t, "reader", secret["username"])
	}
	client.AssertNumberOfCalls(t, "GetSecretValue", 1)

	sm.InvalidateSecret("booking-db")
	client.On("GetSecretValue", mock.Anything, "booking-db").Return(&secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"username":"rotated"}`),
	}, nil).Once()

	secret, err := sm.GetSecret(context.Background(), "booking-db")
	require.NoError(t, err)
	assert.Equal(t, "rotated", secret["username"])
}

func TestAWSSecretsManager_BareValueAndErrors(t *testing.T) {
	client := &mockSecretsClient{}
	client.On("GetSecretValue", mock.Anything, "llm-key").Return(&secretsmanager.GetSecretValueOutput{
		SecretString: aws.String("sk-plain"),
	}, nil)
	client.On("GetSecretValue", mock.Anything, "binary").Return(&secretsmanager.GetSecretValueOutput{}, nil)
	client.On("GetSecretValue", mock.Anything, "missing").Return(nil, errors.New("ResourceNotFoundException"))

	sm := newAWSSecretsManager(client, AWSSecretsManagerOptions{Logger: quietLogger()})

	secret, err := sm.GetSecret(context.Background(), "llm-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", secret["value"])

	_, err = sm.GetSecret(context.Background(), "binary")
	assert.Error(t, err)

	_, err = sm.GetSecret(context.Background(), "missing")
	assert.ErrorContains(t, err, "ResourceNotFoundException")
}

func TestEnvSecretsManager(t *testing.T) {
	t.Setenv("BOOKING_DB_USERNAME", "reader")
	t.Setenv("BOOKING_DB_PASSWORD", "pw")

	sm := NewEnvSecretsManager(quietLogger())

	secret, err := sm.GetSecret(context.Background(), "BOOKING_DB")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"username": "reader", "password": "pw"}, secret)

	_, err = sm.GetSecret(context.Background(), "NOPE_QG")
	assert.Error(t, err)
}

func TestNewSecretsManager(t *testing.T) {
	sm, err := NewSecretsManager(context.Background(), SecretsConfig{})
	require.NoError(t, err)
	assert.Nil(t, sm)

	sm, err = NewSecretsManager(context.Background(), SecretsConfig{Provider: "env"})
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretsManager{}, sm)

	_, err = NewSecretsManager(context.Background(), SecretsConfig{Provider: "vault"})
	assert.Error(t, err)
}
