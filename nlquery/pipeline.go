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
	"strings"
	"time"

	"github.com/google/uuid"

	"querygate/connectors/router"
	"querygate/llm"
	"querygate/sandbox"
	"querygate/schema"
	"querygate/shared/logger"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 500 * time.Millisecond

	// maxBackoffShift keeps exponential delays from overflowing
	maxBackoffShift = 16
)

// State is a step of the retry state machine
type State string

const (
	StateGenerating State = "GENERATING"
	StateValidating State = "VALIDATING"
	StateExecuting  State = "EXECUTING"
	StateBackoff    State = "BACKOFF"
	StateSuccess    State = "SUCCESS"
	StateExhausted  State = "EXHAUSTED"

	// StateFailed ends a run on an error no retry can fix (unmapped collection)
	StateFailed State = "FAILED"

	// StateCancelled ends a run whose context was done between steps
	StateCancelled State = "CANCELLED"
)

// Stage names the step an attempt failed in
type Stage string

const (
	StageGenerate Stage = "generate"
	StageValidate Stage = "validate"
	StageExecute  Stage = "execute"
)

// BackoffFunc returns the delay before attempt n+1, where n >= 1 is the
// number of attempts made so far
type BackoffFunc func(n int) time.Duration

// LinearBackoff waits base × n
func LinearBackoff(base time.Duration) BackoffFunc {
	return func(n int) time.Duration {
		return base * time.Duration(n)
	}
}

// ExponentialBackoff waits base × 2^(n-1)
func ExponentialBackoff(base time.Duration) BackoffFunc {
	return func(n int) time.Duration {
		shift := n - 1
		if shift < 0 {
			shift = 0
		}
		if shift > maxBackoffShift {
			shift = maxBackoffShift
		}
		return base * time.Duration(1<<uint(shift))
	}
}

// NewBackoff maps a strategy name to a BackoffFunc. Unknown names are linear.
func NewBackoff(strategy string, base time.Duration) BackoffFunc {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if strings.EqualFold(strategy, "exponential") {
		return ExponentialBackoff(base)
	}
	return LinearBackoff(base)
}

// SchemaSource supplies collection descriptors for the prompt
type SchemaSource interface {
	Describe(ctx context.Context, names ...string) map[string]*schema.Descriptor
}

// QueryGenerator produces a candidate from a question and instructions
type QueryGenerator interface {
	Generate(ctx context.Context, question, instructions string) (CandidateQuery, error)
}

// SafetyValidator judges a candidate before it runs
type SafetyValidator interface {
	Validate(collection string, filter interface{}) sandbox.Verdict
}

// QueryExecutor runs a validated candidate
type QueryExecutor interface {
	Execute(ctx context.Context, candidate CandidateQuery) ([]map[string]interface{}, int, error)
}

// PipelineConfig bounds the retry loop
type PipelineConfig struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// Attempt records one pass through generate, validate and execute
type Attempt struct {
	Number    int              `json:"number"`
	Candidate *CandidateQuery  `json:"candidate,omitempty"`
	Verdict   *sandbox.Verdict `json:"verdict,omitempty"`
	Stage     Stage            `json:"failed_stage,omitempty"`
	Throttled bool             `json:"throttled,omitempty"`
	Err       error            `json:"-"`
	Error     string           `json:"error,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Outcome is the terminal result of a run
type Outcome struct {
	Success      bool                     `json:"success"`
	State        State                    `json:"state"`
	Query        *CandidateQuery          `json:"query,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
	RowCount     int                      `json:"row_count"`
	AttemptsUsed int                      `json:"attempts_used"`
	LastError    error                    `json:"-"`
	Attempts     []Attempt                `json:"attempts,omitempty"`
	RequestID    string                   `json:"request_id"`
	Duration     time.Duration            `json:"duration"`
}

// Reason returns the failure reason, empty on success
func (o *Outcome) Reason() string {
	if o.LastError == nil {
		return ""
	}
	return o.LastError.Error()
}

// Pipeline drives the generate, validate, execute loop for one question
// at a time. A Pipeline is safe for concurrent RunQuery calls; runs share
// nothing but the schema source and the router behind the executor.
type Pipeline struct {
	schemas   SchemaSource
	generator QueryGenerator
	validator SafetyValidator
	executor  QueryExecutor
	config    PipelineConfig
	logger    *logger.Logger
	metrics   *Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPipeline wires the stages together
func NewPipeline(schemas SchemaSource, gen QueryGenerator, val SafetyValidator, exec QueryExecutor, cfg PipelineConfig, log *logger.Logger) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = LinearBackoff(DefaultBackoffBase)
	}
	if log == nil {
		log = logger.New("pipeline")
	}
	return &Pipeline{
		schemas:   schemas,
		generator: gen,
		validator: val,
		executor:  exec,
		config:    cfg,
		logger:    log,
		sleep:     sleepContext,
	}
}

// WithMetrics records run metrics on m
func (p *Pipeline) WithMetrics(m *Metrics) *Pipeline {
	p.metrics = m
	return p
}

// RunQuery answers question. It never returns nil; failures are reported
// in the Outcome. The context is checked between steps and during backoff.
func (p *Pipeline) RunQuery(ctx context.Context, question string) *Outcome {
	requestID := uuid.New().String()
	ctx = logger.WithRequestID(ctx, requestID)
	start := time.Now()

	out := &Outcome{RequestID: requestID}
	defer func() {
		out.Duration = time.Since(start)
		p.metrics.observeRun(out.State, out.Duration)
		fields := map[string]interface{}{
			"state":    string(out.State),
			"attempts": out.AttemptsUsed,
		}
		if out.Success {
			fields["collection"] = out.Query.Collection
			fields["rows"] = out.RowCount
			p.logger.InfoWithDuration(requestID, "Query run finished", out.Duration, fields)
		} else {
			p.logger.ErrorWithErr(requestID, "Query run failed", out.LastError, fields)
		}
	}()

	p.logger.Info(requestID, "Query run started", map[string]interface{}{"question": question})

	counter := 0
	priorError := ""
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			p.cancel(out, counter, lastErr, err)
			return out
		}

		attempt := Attempt{Number: counter + 1}
		attemptStart := time.Now()
		rows, count, err := p.runAttempt(ctx, question, priorError, &attempt)
		attempt.Duration = time.Since(attemptStart)

		if err == nil {
			out.Attempts = append(out.Attempts, attempt)
			out.Success = true
			out.State = StateSuccess
			out.Query = attempt.Candidate
			out.Rows = rows
			out.RowCount = count
			out.AttemptsUsed = counter + 1
			return out
		}

		attempt.Err = err
		attempt.Error = err.Error()
		attempt.Throttled = llm.IsThrottled(err)
		out.Attempts = append(out.Attempts, attempt)

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			p.cancel(out, counter, lastErr, ctxErr)
			return out
		}

		p.metrics.observeFailure(attempt.Stage)
		if attempt.Throttled {
			p.metrics.observeThrottled()
		}
		lastErr = err

		var unmapped *router.UnmappedCollectionError
		if errors.As(err, &unmapped) {
			out.State = StateFailed
			out.LastError = err
			out.AttemptsUsed = counter + 1
			return out
		}

		p.logger.Warn(requestID, "Attempt failed", map[string]interface{}{
			"attempt":   attempt.Number,
			"stage":     string(attempt.Stage),
			"error":     attempt.Error,
			"throttled": attempt.Throttled,
			"state":     string(StateBackoff),
		})

		counter++
		if counter >= p.config.MaxAttempts {
			out.State = StateExhausted
			out.LastError = &RetriesExhausted{Attempts: counter, Last: err}
			out.AttemptsUsed = counter
			return out
		}

		delay := p.config.Backoff(counter)
		if attempt.Throttled {
			// A throttled provider gets twice the usual delay
			delay *= 2
		}
		if err := p.sleep(ctx, delay); err != nil {
			p.cancel(out, counter, lastErr, err)
			return out
		}
		priorError = err.Error()
	}
}

// runAttempt walks GENERATING, VALIDATING and EXECUTING once. On failure
// attempt.Stage names the step that failed.
func (p *Pipeline) runAttempt(ctx context.Context, question, priorError string, attempt *Attempt) ([]map[string]interface{}, int, error) {
	requestID := logger.RequestIDFromContext(ctx)

	// The model and datastore calls carry their own timeouts and are not
	// interrupted by the caller's context once started.
	ioCtx := context.WithoutCancel(ctx)

	p.trace(requestID, attempt.Number, StateGenerating)
	attempt.Stage = StageGenerate
	instructions := BuildPrompt(question, p.schemas.Describe(ctx), priorError)

	genStart := time.Now()
	candidate, err := p.generator.Generate(ioCtx, question, instructions)
	p.metrics.observeGenerate(time.Since(genStart))
	if err != nil {
		return nil, 0, err
	}
	attempt.Candidate = &candidate

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	p.trace(requestID, attempt.Number, StateValidating)
	attempt.Stage = StageValidate
	verdict := p.validator.Validate(candidate.Collection, candidate.Filter)
	attempt.Verdict = &verdict
	if !verdict.Safe {
		p.metrics.observeRejection(string(verdict.Category))
		return nil, 0, &SafetyRejection{Verdict: verdict}
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	p.trace(requestID, attempt.Number, StateExecuting)
	attempt.Stage = StageExecute
	rows, count, err := p.executor.Execute(ioCtx, candidate)
	if err != nil {
		return nil, 0, err
	}

	attempt.Stage = ""
	return rows, count, nil
}

func (p *Pipeline) cancel(out *Outcome, attempts int, lastErr, ctxErr error) {
	out.State = StateCancelled
	out.AttemptsUsed = len(out.Attempts)
	if lastErr != nil {
		out.LastError = fmt.Errorf("run cancelled after %d failed attempts: %w (last failure: %v)", attempts, ctxErr, lastErr)
		return
	}
	out.LastError = fmt.Errorf("run cancelled: %w", ctxErr)
}

func (p *Pipeline) trace(requestID string, attempt int, state State) {
	p.logger.Debug(requestID, "State transition", map[string]interface{}{
		"attempt": attempt,
		"state":   string(state),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
