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

// Package server exposes the query pipeline over HTTP together with the
// health, schema and Prometheus endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"querygate/connectors/base"
	"querygate/nlquery"
	"querygate/schema"
	"querygate/shared/logger"
)

const (
	ServiceName = "querygate"

	// maxBodyBytes bounds a query request body
	maxBodyBytes = 64 << 10

	// maxRequestTimeout bounds the per-request timeout a caller may ask for
	maxRequestTimeout = 5 * time.Minute
)

// QueryRunner answers one question
type QueryRunner interface {
	RunQuery(ctx context.Context, question string) *nlquery.Outcome
}

// HealthChecker reports backing service health
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]*base.HealthStatus
}

// SchemaSource lists collection descriptors
type SchemaSource interface {
	Describe(ctx context.Context, names ...string) map[string]*schema.Descriptor
}

// Options configure the HTTP surface
type Options struct {
	Port            int
	Version         string
	ShutdownTimeout time.Duration
	Gatherer        prometheus.Gatherer // nil means the default registry
}

// Server is the HTTP front of the pipeline
type Server struct {
	runner  QueryRunner
	health  HealthChecker
	schemas SchemaSource
	opts    Options
	logger  *logger.Logger
	router  *mux.Router
}

// New creates a server. health and schemas may be nil.
func New(runner QueryRunner, health HealthChecker, schemas SchemaSource, opts Options, log *logger.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if log == nil {
		log = logger.New("server")
	}

	s := &Server{
		runner:  runner,
		health:  health,
		schemas: schemas,
		opts:    opts,
		logger:  log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	gatherer := s.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/api/v1/query", s.queryHandler).Methods("POST")
	r.HandleFunc("/api/v1/schemas", s.schemasHandler).Methods("GET")
	r.HandleFunc("/api/v1/schemas/{collection}", s.schemaHandler).Methods("GET")

	return r
}

// Handler returns the routes wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("", "HTTP server listening", map[string]interface{}{"port": s.opts.Port})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("", "Shutting down HTTP server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
