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

package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider waits for a token bucket before every completion so
// concurrent pipelines share one request budget against the hosted model
type RateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps p with a limit of rps requests per second.
// rps <= 0 returns p unchanged.
func NewRateLimitedProvider(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for a token, then delegates
func (p *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", p.Name(), err)
	}
	return p.Provider.Complete(ctx, req)
}
