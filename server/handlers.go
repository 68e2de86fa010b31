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
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"querygate/connectors/base"
	"querygate/connectors/router"
	"querygate/nlquery"
	"querygate/schema"
)

// QueryRequest is the body of POST /api/v1/query
type QueryRequest struct {
	Question  string `json:"question"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// QueryResponse is the Outcome plus its failure reason
type QueryResponse struct {
	*nlquery.Outcome
	Error string `json:"error,omitempty"`
}

// ErrorResponse is returned for requests that never reach the pipeline
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	services := map[string]*base.HealthStatus{}
	if s.health != nil {
		services = s.health.HealthCheck(r.Context())
	}
	for _, h := range services {
		if !h.Healthy && h.Error != router.NotConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   ServiceName,
		"version":   s.opts.Version,
		"timestamp": time.Now().UTC(),
		"services":  services,
	})
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		sendErrorResponse(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		if timeout > maxRequestTimeout {
			timeout = maxRequestTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := s.runner.RunQuery(ctx, req.Question)

	code := http.StatusOK
	switch out.State {
	case nlquery.StateFailed:
		code = http.StatusInternalServerError
	case nlquery.StateCancelled:
		code = http.StatusGatewayTimeout
	}

	writeJSON(w, code, QueryResponse{Outcome: out, Error: out.Reason()})
}

func (s *Server) schemasHandler(w http.ResponseWriter, r *http.Request) {
	if s.schemas == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"collections": []*schema.Descriptor{}})
		return
	}

	described := s.schemas.Describe(r.Context())
	names := make([]string, 0, len(described))
	for name := range described {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]*schema.Descriptor, 0, len(names))
	for _, name := range names {
		list = append(list, described[name])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": list})
}

func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	if s.schemas == nil {
		sendErrorResponse(w, "unknown collection: "+collection, http.StatusNotFound)
		return
	}

	d, ok := s.schemas.Describe(r.Context(), collection)[collection]
	if !ok {
		sendErrorResponse(w, "unknown collection: "+collection, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
