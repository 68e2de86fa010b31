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

// Package base defines the contract every backing-service connector satisfies.
// Connectors are read-only: the interface has no write path at all.
package base

import (
	"context"
	"time"
)

// Connector is a long-lived handle onto one backing service's datastore.
// A connector is owned by the router; callers only borrow it.
type Connector interface {
	// Lifecycle Management
	Connect(ctx context.Context, config *ConnectorConfig) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Query runs a read-only lookup against one collection
	Query(ctx context.Context, query *Query) (*QueryResult, error)

	Name() string // Backing service name
	Type() string // Connector type (mongodb)
}

// ConnectorConfig holds the configuration for one backing service's connector
type ConnectorConfig struct {
	Name           string                 `json:"name"`            // Backing service name
	Type           string                 `json:"type"`            // Connector type
	ConnectionURL  string                 `json:"connection_url"`  // Connection string
	Credentials    map[string]string      `json:"-"`               // Username, password
	Options        map[string]interface{} `json:"options"`         // Connector-specific options
	Timeout        time.Duration          `json:"timeout"`         // Per-query timeout
	ConnectTimeout time.Duration          `json:"connect_timeout"` // Hard bound on Connect
}

// Query is a filter lookup against a single collection
type Query struct {
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter"`
	Limit      int                    `json:"limit"`   // 0 means connector default
	Timeout    time.Duration          `json:"timeout"` // Override default timeout
}

// QueryResult contains the documents a Query matched
type QueryResult struct {
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Duration  time.Duration            `json:"duration"`
	Connector string                   `json:"connector"`
}

// HealthStatus represents the health of a connector
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
}

// ConnectorError represents errors specific to connector operations
type ConnectorError struct {
	ConnectorName string
	Operation     string
	Message       string
	Cause         error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError creates a new ConnectorError
func NewConnectorError(connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Cause:         cause,
	}
}
