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
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/shared/logger"
)

// stubSource counts DescribeFields calls
type stubSource struct {
	model  string
	fields []FieldDescriptor
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubSource) Model() string { return s.model }

func (s *stubSource) DescribeFields() ([]FieldDescriptor, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.fields, s.err
}

func newTestRegistry() (*Registry, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewRegistry(logger.NewWithWriter("schema-registry", &buf)), &buf
}

func TestRegistry_Bind(t *testing.T) {
	r, _ := newTestRegistry()
	src := &stubSource{model: "Slot"}

	require.NoError(t, r.Bind("slots", "scheduling", src))
	assert.Error(t, r.Bind("slots", "booking", src), "duplicate binding")
	assert.Error(t, r.Bind("", "booking", src))
	assert.Error(t, r.Bind("appointments", "booking", nil))

	assert.Equal(t, []string{"slots"}, r.Collections())
}

func TestRegistry_DescribeBuildsAndCaches(t *testing.T) {
	r, _ := newTestRegistry()
	src := &stubSource{model: "Slot", fields: []FieldDescriptor{
		{Name: "date", DataType: TypeString, Required: true},
		{Name: "isAvailable", DataType: TypeBoolean},
	}}
	require.NoError(t, r.Bind("slots", "scheduling", src))

	got := r.Describe(context.Background(), "slots")
	require.Contains(t, got, "slots")
	desc := got["slots"]
	assert.Equal(t, "slots", desc.Collection)
	assert.Equal(t, "scheduling", desc.Service)
	assert.Equal(t, "Slot", desc.Model)
	assert.Equal(t, []string{"date", "isAvailable"}, desc.FieldNames())

	again := r.Describe(context.Background(), "slots")
	assert.Same(t, desc, again["slots"])
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestRegistry_DescribePartialFailure(t *testing.T) {
	r, buf := newTestRegistry()
	require.NoError(t, r.Bind("slots", "scheduling", &stubSource{model: "Slot", fields: []FieldDescriptor{{Name: "date", DataType: TypeString}}}))
	require.NoError(t, r.Bind("appointments", "booking", &stubSource{model: "Appointment", err: errors.New("model unavailable")}))

	got := r.Describe(context.Background())

	assert.Contains(t, got, "slots")
	assert.NotContains(t, got, "appointments")
	assert.NotContains(t, r.Describe(context.Background(), "invoices"), "invoices")
	assert.Contains(t, buf.String(), "model unavailable")
}

func TestRegistry_DuplicateFieldFails(t *testing.T) {
	r, _ := newTestRegistry()
	require.NoError(t, r.Bind("slots", "scheduling", &stubSource{model: "Slot", fields: []FieldDescriptor{
		{Name: "date", DataType: TypeString},
		{Name: "date", DataType: TypeDate},
	}}))

	assert.Empty(t, r.Describe(context.Background(), "slots"))
}

func TestRegistry_ConcurrentFirstBuildIsShared(t *testing.T) {
	r, _ := newTestRegistry()
	src := &stubSource{model: "Slot", delay: 30 * time.Millisecond, fields: []FieldDescriptor{{Name: "date", DataType: TypeString}}}
	require.NoError(t, r.Bind("slots", "scheduling", src))

	const n = 16
	results := make([]*Descriptor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Describe(context.Background(), "slots")["slots"]
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NotNil(t, results[i])
		assert.Same(t, results[0], results[i])
		assert.Len(t, results[i].Fields, 1)
	}
}

func TestRegistry_Replace(t *testing.T) {
	r, _ := newTestRegistry()
	v1 := &stubSource{model: "Slot", fields: []FieldDescriptor{{Name: "date", DataType: TypeString}}}
	require.NoError(t, r.Bind("slots", "scheduling", v1))
	require.Len(t, r.Describe(context.Background(), "slots")["slots"].Fields, 1)

	v2 := &stubSource{model: "Slot", fields: []FieldDescriptor{
		{Name: "date", DataType: TypeString},
		{Name: "room", DataType: TypeString},
	}}
	assert.Equal(t, 1, r.Replace(v2))
	assert.Equal(t, 0, r.Replace(&stubSource{model: "Unknown"}))

	desc := r.Describe(context.Background(), "slots")["slots"]
	require.NotNil(t, desc)
	assert.Len(t, desc.Fields, 2)
	assert.Equal(t, "scheduling", desc.Service)
}

// gatedSource blocks DescribeFields until release is closed
type gatedSource struct {
	model   string
	fields  []FieldDescriptor
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) Model() string { return s.model }

func (s *gatedSource) DescribeFields() ([]FieldDescriptor, error) {
	close(s.started)
	<-s.release
	return s.fields, nil
}

func TestRegistry_ReplaceDuringBuild(t *testing.T) {
	r, _ := newTestRegistry()
	v1 := &gatedSource{
		model:   "Slot",
		fields:  []FieldDescriptor{{Name: "date", DataType: TypeString}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	require.NoError(t, r.Bind("slots", "scheduling", v1))

	stale := make(chan *Descriptor, 1)
	go func() {
		stale <- r.Describe(context.Background(), "slots")["slots"]
	}()
	<-v1.started

	v2 := &stubSource{model: "Slot", fields: []FieldDescriptor{
		{Name: "date", DataType: TypeString},
		{Name: "room", DataType: TypeString},
	}}
	require.Equal(t, 1, r.Replace(v2))

	fresh := r.Describe(context.Background(), "slots")["slots"]
	require.NotNil(t, fresh)
	assert.Len(t, fresh.Fields, 2)

	close(v1.release)
	old := <-stale
	require.NotNil(t, old)
	assert.Len(t, old.Fields, 1)

	// The stale build must not overwrite the cache
	assert.Len(t, r.Describe(context.Background(), "slots")["slots"].Fields, 2)
	assert.Equal(t, int32(1), v2.calls.Load())
}

func TestRegistry_DescribeCancelled(t *testing.T) {
	r, _ := newTestRegistry()
	require.NoError(t, r.Bind("slots", "scheduling", &stubSource{model: "Slot", fields: []FieldDescriptor{{Name: "date"}}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, r.Describe(ctx, "slots"))
}
