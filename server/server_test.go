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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"querygate/connectors/base"
	"querygate/connectors/router"
	"querygate/nlquery"
	"querygate/schema"
	"querygate/shared/logger"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunQuery(ctx context.Context, question string) *nlquery.Outcome {
	args := m.Called(question)
	return args.Get(0).(*nlquery.Outcome)
}

type staticHealth map[string]*base.HealthStatus

func (h staticHealth) HealthCheck(ctx context.Context) map[string]*base.HealthStatus {
	return h
}

type staticSchemas map[string]*schema.Descriptor

func (s staticSchemas) Describe(ctx context.Context, names ...string) map[string]*schema.Descriptor {
	if len(names) == 0 {
		return s
	}
	out := make(map[string]*schema.Descriptor)
	for _, n := range names {
		if d, ok := s[n]; ok {
			out[n] = d
		}
	}
	return out
}

func newTestServer(runner QueryRunner, health HealthChecker, schemas SchemaSource) *Server {
	return New(runner, health, schemas, Options{Gatherer: prometheus.NewRegistry()}, logger.NewWithWriter("test", &bytes.Buffer{}))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestQueryHandler_Success(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunQuery", "find available slots on 2025-11-07").Return(&nlquery.Outcome{
		Success:      true,
		State:        nlquery.StateSuccess,
		Query:        &nlquery.CandidateQuery{Collection: "slots", Filter: map[string]interface{}{"isAvailable": true}},
		Rows:         []map[string]interface{}{{"date": "2025-11-07"}},
		RowCount:     1,
		AttemptsUsed: 1,
		RequestID:    "req-1",
	})

	rec := do(t, newTestServer(runner, nil, nil), "POST", "/api/v1/query", `{"question": "  find available slots on 2025-11-07 "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "SUCCESS", body["state"])
	assert.Equal(t, float64(1), body["row_count"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "slots", body["query"].(map[string]interface{})["collection"])
	assert.NotContains(t, body, "error")
	runner.AssertExpectations(t)
}

func TestQueryHandler_FailureStates(t *testing.T) {
	tests := []struct {
		name     string
		outcome  *nlquery.Outcome
		wantCode int
	}{
		{
			name: "exhausted",
			outcome: &nlquery.Outcome{
				State:        nlquery.StateExhausted,
				AttemptsUsed: 5,
				LastError:    &nlquery.RetriesExhausted{Attempts: 5, Last: errors.New("bad output")},
			},
			wantCode: http.StatusOK,
		},
		{
			name: "unmapped collection",
			outcome: &nlquery.Outcome{
				State:        nlquery.StateFailed,
				AttemptsUsed: 1,
				LastError:    &router.UnmappedCollectionError{Collection: "slots"},
			},
			wantCode: http.StatusInternalServerError,
		},
		{
			name: "cancelled",
			outcome: &nlquery.Outcome{
				State:     nlquery.StateCancelled,
				LastError: context.DeadlineExceeded,
			},
			wantCode: http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			runner.On("RunQuery", "q").Return(tt.outcome)

			rec := do(t, newTestServer(runner, nil, nil), "POST", "/api/v1/query", `{"question": "q"}`)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.outcome.Reason(), body["error"])
		})
	}
}

func TestQueryHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "question=hi"},
		{"empty question", `{"question": "   "}`},
		{"unknown field", `{"question": "q", "collection": "slots"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			rec := do(t, newTestServer(runner, nil, nil), "POST", "/api/v1/query", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Error)
			runner.AssertNotCalled(t, "RunQuery", mock.Anything)
		})
	}
}

func TestQueryHandler_MethodNotAllowed(t *testing.T) {
	rec := do(t, newTestServer(&mockRunner{}, nil, nil), "GET", "/api/v1/query", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		health     staticHealth
		wantCode   int
		wantStatus string
	}{
		{"no services", nil, http.StatusOK, "healthy"},
		{
			"lazy services not yet connected",
			staticHealth{"scheduling": {Healthy: false, Error: router.NotConnected}},
			http.StatusOK, "healthy",
		},
		{
			"connected and healthy",
			staticHealth{"scheduling": {Healthy: true, Latency: time.Millisecond}},
			http.StatusOK, "healthy",
		},
		{
			"connected but failing",
			staticHealth{
				"scheduling": {Healthy: true},
				"booking":    {Healthy: false, Error: "server selection timeout"},
			},
			http.StatusServiceUnavailable, "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var health HealthChecker
			if tt.health != nil {
				health = tt.health
			}
			rec := do(t, newTestServer(&mockRunner{}, health, nil), "GET", "/health", "")

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, ServiceName, body["service"])
		})
	}
}

func TestSchemasHandlers(t *testing.T) {
	schemas := staticSchemas{
		"slots":     {Collection: "slots", Model: "Slot", Fields: map[string]schema.FieldDescriptor{"date": {Name: "date", DataType: "string"}}},
		"providers": {Collection: "providers", Model: "Provider"},
	}
	s := newTestServer(&mockRunner{}, nil, schemas)

	rec := do(t, s, "GET", "/api/v1/schemas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Collections []schema.Descriptor `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Collections, 2)
	assert.Equal(t, "providers", list.Collections[0].Collection)
	assert.Equal(t, "slots", list.Collections[1].Collection)

	rec = do(t, s, "GET", "/api/v1/schemas/slots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one schema.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "Slot", one.Model)
	assert.Equal(t, "string", one.Fields["date"].DataType)

	rec = do(t, s, "GET", "/api/v1/schemas/payments", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	nlquery.NewMetrics(reg)
	s := New(&mockRunner{}, nil, nil, Options{Gatherer: reg}, logger.NewWithWriter("test", &bytes.Buffer{}))

	rec := do(t, s, "GET", "/prometheus", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&mockRunner{}, nil, nil)
	req := httptest.NewRequest("OPTIONS", "/api/v1/query", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
