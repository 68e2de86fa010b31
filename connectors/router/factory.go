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

package router

import (
	"fmt"

	"querygate/connectors/base"
	"querygate/connectors/mongodb"
)

// DefaultFactory creates the built-in connector for connectorType.
// An empty type means mongodb.
func DefaultFactory(connectorType string) (base.Connector, error) {
	switch connectorType {
	case "mongodb", "":
		return mongodb.NewMongoDBConnector(), nil
	default:
		return nil, fmt.Errorf("unsupported connector type: %s", connectorType)
	}
}
