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

package schema

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"querygate/shared/logger"
)

type binding struct {
	service    string
	source     FieldSource
	generation uint64
}

// Registry maps collection names to their Descriptor. Descriptors are built
// from the bound FieldSource on first use and cached.
// Thread-safe for concurrent access
type Registry struct {
	bindings   map[string]*binding
	cache      map[string]*Descriptor
	generation uint64
	group      singleflight.Group
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.New("schema-registry")
	}
	return &Registry{
		bindings: make(map[string]*binding),
		cache:    make(map[string]*Descriptor),
		logger:   log,
	}
}

// Bind declares that service owns collection and that source describes it.
// Binding a collection twice is an error; use Replace to swap a model.
func (r *Registry) Bind(collection, service string, source FieldSource) error {
	if collection == "" {
		return fmt.Errorf("collection name is required")
	}
	if source == nil {
		return fmt.Errorf("collection '%s': field source is required", collection)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bindings[collection]; ok {
		return fmt.Errorf("collection '%s' already bound to service '%s'", collection, existing.service)
	}
	r.generation++
	r.bindings[collection] = &binding{service: service, source: source, generation: r.generation}
	return nil
}

// Replace swaps in source for every collection bound to a model of the same
// name and evicts their cached descriptors. It returns how many collections
// were affected.
func (r *Registry) Replace(source FieldSource) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := 0
	for collection, b := range r.bindings {
		if b.source.Model() != source.Model() {
			continue
		}
		r.generation++
		r.bindings[collection] = &binding{service: b.service, source: source, generation: r.generation}
		delete(r.cache, collection)
		replaced++
	}

	if replaced > 0 {
		r.logger.Info("", "Replaced model", map[string]interface{}{
			"model":       source.Model(),
			"collections": replaced,
		})
	}
	return replaced
}

// Collections returns every bound collection, sorted
func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for the named collections, or for every bound
// collection when names is empty. Collections that are unbound or whose
// model fails to describe itself are logged and left out of the result.
func (r *Registry) Describe(ctx context.Context, names ...string) map[string]*Descriptor {
	if len(names) == 0 {
		names = r.Collections()
	}
	requestID := logger.RequestIDFromContext(ctx)

	result := make(map[string]*Descriptor, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			r.logger.Warn(requestID, "Describe cancelled", map[string]interface{}{"collection": name})
			break
		}

		r.mu.RLock()
		desc, cached := r.cache[name]
		r.mu.RUnlock()
		if cached {
			result[name] = desc
			continue
		}

		desc, err := r.build(name)
		if err != nil {
			r.logger.ErrorWithErr(requestID, "Schema unavailable", err, map[string]interface{}{"collection": name})
			continue
		}
		result[name] = desc
	}
	return result
}

// build derives and caches the descriptor for collection.
// Concurrent first builds of the same binding share one result; a build
// started after Replace never joins one started before it.
func (r *Registry) build(collection string) (*Descriptor, error) {
	r.mu.RLock()
	b, ok := r.bindings[collection]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("collection '%s' is not bound", collection)
	}

	key := collection + "#" + strconv.FormatUint(b.generation, 10)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		r.mu.RLock()
		desc, ok := r.cache[collection]
		r.mu.RUnlock()
		if ok {
			return desc, nil
		}

		fields, err := b.source.DescribeFields()
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", b.source.Model(), err)
		}

		desc = &Descriptor{
			Collection: collection,
			Service:    b.service,
			Model:      b.source.Model(),
			Fields:     make(map[string]FieldDescriptor, len(fields)),
		}
		for _, f := range fields {
			if _, dup := desc.Fields[f.Name]; dup {
				return nil, fmt.Errorf("model %s: duplicate field %s", b.source.Model(), f.Name)
			}
			desc.Fields[f.Name] = f
		}

		r.mu.Lock()
		// A Replace during the build invalidates this result
		if current, ok := r.bindings[collection]; ok && current.generation == b.generation {
			r.cache[collection] = desc
		}
		r.mu.Unlock()

		r.logger.Debug("", "Built schema descriptor", map[string]interface{}{
			"collection": collection,
			"model":      desc.Model,
			"fields":     len(desc.Fields),
		})
		return desc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}
