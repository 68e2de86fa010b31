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

package nlquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"querygate/connectors/base"
	"querygate/connectors/router"
	"querygate/shared/logger"
)

// MaxRowsCap bounds every execution no matter what is configured
const MaxRowsCap = 100

// Router resolves the connector that owns a collection
type Router interface {
	RouteFor(ctx context.Context, collection string) (base.Connector, error)
}

// Executor runs validated candidates as read-only lookups
type Executor struct {
	router  Router
	maxRows int
	logger  *logger.Logger
	metrics *Metrics
}

// NewExecutor creates an executor. maxRows outside (0, MaxRowsCap] becomes
// MaxRowsCap.
func NewExecutor(r Router, maxRows int, log *logger.Logger) *Executor {
	if maxRows <= 0 || maxRows > MaxRowsCap {
		maxRows = MaxRowsCap
	}
	if log == nil {
		log = logger.New("executor")
	}
	return &Executor{router: r, maxRows: maxRows, logger: log}
}

// WithMetrics records execution latency on m
func (e *Executor) WithMetrics(m *Metrics) *Executor {
	e.metrics = m
	return e
}

// MaxRows returns the effective row cap
func (e *Executor) MaxRows() int {
	return e.maxRows
}

// Execute runs the candidate and returns at most MaxRows rows. Routing
// failures for unmapped collections are returned as is; everything else
// is an *ExecutionError.
func (e *Executor) Execute(ctx context.Context, candidate CandidateQuery) ([]map[string]interface{}, int, error) {
	requestID := logger.RequestIDFromContext(ctx)

	filter, ok := candidate.Filter.(map[string]interface{})
	if !ok {
		return nil, 0, &ExecutionError{
			Collection: candidate.Collection,
			Cause:      fmt.Errorf("filter must be an object, got %T", candidate.Filter),
		}
	}

	conn, err := e.router.RouteFor(ctx, candidate.Collection)
	if err != nil {
		var unmapped *router.UnmappedCollectionError
		if errors.As(err, &unmapped) {
			return nil, 0, err
		}
		return nil, 0, &ExecutionError{Collection: candidate.Collection, Cause: err}
	}

	start := time.Now()
	result, err := conn.Query(ctx, &base.Query{
		Collection: candidate.Collection,
		Filter:     filter,
		Limit:      e.maxRows,
	})
	elapsed := time.Since(start)
	e.metrics.observeExecute(candidate.Collection, elapsed)

	if err != nil {
		e.logger.ErrorWithErr(requestID, "Query failed", err, map[string]interface{}{
			"collection": candidate.Collection,
			"service":    conn.Name(),
		})
		return nil, 0, &ExecutionError{Collection: candidate.Collection, Cause: err}
	}

	rows := result.Rows
	if len(rows) > e.maxRows {
		rows = rows[:e.maxRows]
	}

	e.logger.InfoWithDuration(requestID, "Query executed", elapsed, map[string]interface{}{
		"collection": candidate.Collection,
		"service":    conn.Name(),
		"rows":       len(rows),
	})
	return rows, len(rows), nil
}
