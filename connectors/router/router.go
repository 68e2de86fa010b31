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

package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"querygate/connectors/base"
)

// DefaultConnectTimeout bounds the first connect to a backing service
const DefaultConnectTimeout = 10 * time.Second

// ErrClosed is returned by RouteFor after CloseAll
var ErrClosed = errors.New("router is closed")

// NotConnected is the health error of a service with no handle yet
const NotConnected = "not connected"

// Factory creates a connector instance based on type
type Factory func(connectorType string) (base.Connector, error)

// UnmappedCollectionError means no backing service owns the collection.
// Retrying cannot fix it.
type UnmappedCollectionError struct {
	Collection string
}

func (e *UnmappedCollectionError) Error() string {
	return fmt.Sprintf("no backing service owns collection '%s'", e.Collection)
}

// Router maps collections to the backing service that owns them and hands out
// that service's connector. Connectors are created lazily, once per service,
// and live until CloseAll.
// Thread-safe for concurrent access
type Router struct {
	services map[string]*base.ConnectorConfig // service -> config
	owners   map[string]string                // collection -> service
	handles  map[string]base.Connector        // service -> connected handle
	factory  Factory
	group    singleflight.Group
	closed   bool
	mu       sync.RWMutex
	logger   *log.Logger
}

// New creates a router that builds connectors with factory
func New(factory Factory) *Router {
	return &Router{
		services: make(map[string]*base.ConnectorConfig),
		owners:   make(map[string]string),
		handles:  make(map[string]base.Connector),
		factory:  factory,
		logger:   log.New(os.Stdout, "[ROUTER] ", log.LstdFlags),
	}
}

// AddService declares a backing service and the collections it owns.
// A collection can only be owned by one service.
func (r *Router) AddService(config *base.ConnectorConfig, collections ...string) error {
	if config == nil || config.Name == "" {
		return fmt.Errorf("service name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[config.Name]; exists {
		return fmt.Errorf("service '%s' already registered", config.Name)
	}
	for _, c := range collections {
		if owner, exists := r.owners[c]; exists {
			return fmt.Errorf("collection '%s' already owned by service '%s'", c, owner)
		}
	}

	r.services[config.Name] = config
	for _, c := range collections {
		r.owners[c] = config.Name
	}

	r.logger.Printf("Registered service '%s' (type: %s, collections: %v)", config.Name, config.Type, collections)
	return nil
}

// Services returns all registered service names, sorted
func (r *Router) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RouteFor returns the connected handle for the service owning collection.
// The first request for a service connects synchronously; concurrent first
// requests share that single connect.
func (r *Router) RouteFor(ctx context.Context, collection string) (base.Connector, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	service, owned := r.owners[collection]
	handle, connected := r.handles[service]
	config := r.services[service]
	r.mu.RUnlock()

	if !owned {
		return nil, &UnmappedCollectionError{Collection: collection}
	}
	if connected {
		return handle, nil
	}

	v, err, _ := r.group.Do(service, func() (interface{}, error) {
		return r.connect(ctx, service, config)
	})
	if err != nil {
		return nil, err
	}
	return v.(base.Connector), nil
}

// connect creates and connects the handle for service
func (r *Router) connect(ctx context.Context, service string, config *base.ConnectorConfig) (base.Connector, error) {
	// Double-check if the handle was created by an earlier flight
	r.mu.RLock()
	if handle, exists := r.handles[service]; exists {
		r.mu.RUnlock()
		return handle, nil
	}
	r.mu.RUnlock()

	if r.factory == nil {
		return nil, fmt.Errorf("no connector factory configured for service '%s'", service)
	}

	r.logger.Printf("Connecting service '%s' (type: %s)", service, config.Type)

	connector, err := r.factory(config.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector for service '%s': %w", service, err)
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	// The handle outlives this request, so only the hard timeout applies.
	connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	if err := connector.Connect(connectCtx, config); err != nil {
		r.logger.Printf("Failed to connect service '%s': %v", service, err)
		return nil, fmt.Errorf("failed to connect service '%s': %w", service, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = connector.Disconnect(context.Background())
		return nil, ErrClosed
	}
	r.handles[service] = connector
	r.logger.Printf("Connected service '%s' in %v", service, time.Since(start))

	return connector, nil
}

// HealthCheck performs health checks on every connected service.
// Services not yet connected are reported unhealthy with a "not connected" error.
func (r *Router) HealthCheck(ctx context.Context) map[string]*base.HealthStatus {
	r.mu.RLock()
	handles := make(map[string]base.Connector, len(r.handles))
	for name, h := range r.handles {
		handles[name] = h
	}
	services := make([]string, 0, len(r.services))
	for name := range r.services {
		services = append(services, name)
	}
	r.mu.RUnlock()

	results := make(map[string]*base.HealthStatus, len(services))
	for _, name := range services {
		connector, ok := handles[name]
		if !ok {
			results[name] = &base.HealthStatus{
				Healthy:   false,
				Error:     NotConnected,
				Timestamp: time.Now(),
			}
			continue
		}

		status, err := connector.HealthCheck(ctx)
		if err != nil {
			r.logger.Printf("Health check failed for service '%s': %v", name, err)
			status = &base.HealthStatus{
				Healthy:   false,
				Error:     err.Error(),
				Timestamp: time.Now(),
			}
		}
		results[name] = status
	}

	return results
}

// CloseAll disconnects every cached handle. Only called at shutdown.
func (r *Router) CloseAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Println("Disconnecting all services...")

	for name, connector := range r.handles {
		if err := connector.Disconnect(ctx); err != nil {
			r.logger.Printf("Error disconnecting service '%s': %v", name, err)
		} else {
			r.logger.Printf("Disconnected service '%s'", name)
		}
	}
	r.handles = make(map[string]base.Connector)
	r.closed = true
}
