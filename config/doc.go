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

/*
Package config loads querygate's configuration.

A configuration is a single YAML file:

	version: "1.0"
	llm:
	  provider: anthropic
	  api_key: ${ANTHROPIC_API_KEY}
	pipeline:
	  max_attempts: 5
	  backoff_base_ms: 500
	sandbox:
	  allowed_collections: [slots, appointments]
	services:
	  scheduling:
	    connection_url: ${SCHEDULING_MONGO_URL:-mongodb://localhost:27017}
	    database: scheduling
	    collections:
	      - {name: slots, model: Slot}

Only the ${VAR} and ${VAR:-default} forms are expanded, so Mongo operator
names written as $name pass through untouched. After expansion a small set
of QUERYGATE_* variables (and PORT) override file values, defaults are
applied and the result is validated. Validation guarantees every collection
a service owns is also in sandbox.allowed_collections.

Service credentials and the LLM API key can be kept out of the file and
resolved through a SecretsManager: AWS Secrets Manager with a TTL cache, or
environment variables under a prefix.
*/
package config
