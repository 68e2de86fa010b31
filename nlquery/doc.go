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

// Package nlquery answers natural-language questions with read-only
// datastore lookups. A Pipeline builds a prompt from the schema registry,
// asks the model for a CandidateQuery, checks it with the sandbox and runs
// it through the Executor, retrying with the last failure as feedback.
package nlquery
