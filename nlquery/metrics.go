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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	attemptsTotal    *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	throttledTotal   prometheus.Counter
	executeDuration  *prometheus.HistogramVec
	generateDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_runs_total",
				Help: "Total number of question runs by final state",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "querygate_run_duration_milliseconds",
				Help:    "End-to-end run duration in milliseconds, backoff included",
				Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 40000},
			},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_attempt_failures_total",
				Help: "Total number of failed attempts by the stage that failed",
			},
			[]string{"stage"},
		),
		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_safety_rejections_total",
				Help: "Total number of candidates rejected by the safety validator",
			},
			[]string{"category"},
		),
		throttledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "querygate_provider_throttled_total",
				Help: "Total number of model calls refused by rate limiting or overload",
			},
		),
		executeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querygate_execute_duration_milliseconds",
				Help:    "Datastore query duration in milliseconds",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
			},
			[]string{"collection"},
		),
		generateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "querygate_generate_duration_milliseconds",
				Help:    "Language model call duration in milliseconds",
				Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.runsTotal, m.runDuration, m.attemptsTotal, m.rejectionsTotal, m.throttledTotal, m.executeDuration, m.generateDuration)
	}
	return m
}

func (m *Metrics) observeRun(state State, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(state)).Inc()
	m.runDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) observeFailure(stage Stage) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) observeRejection(category string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) observeThrottled() {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
}

func (m *Metrics) observeGenerate(d time.Duration) {
	if m == nil {
		return
	}
	m.generateDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) observeExecute(collection string, d time.Duration) {
	if m == nil {
		return
	}
	m.executeDuration.WithLabelValues(collection).Observe(float64(d.Milliseconds()))
}
