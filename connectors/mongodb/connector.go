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

package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"querygate/connectors/base"
)

const (
	// DefaultTimeout is the default per-query timeout
	DefaultTimeout = 10 * time.Second
	// DefaultConnectTimeout bounds Connect when the config leaves it unset
	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxPoolSize is the default maximum connection pool size
	DefaultMaxPoolSize = 50
	// DefaultMinPoolSize is the default minimum connection pool size
	DefaultMinPoolSize = 2
	// DefaultLimit applies when a Query carries no limit of its own
	DefaultLimit = 100
)

var _ base.Connector = (*MongoDBConnector)(nil)

// MongoDBConnector is a read-only connector onto one backing service's
// MongoDB database. It exposes find and nothing else.
type MongoDBConnector struct {
	config   *base.ConnectorConfig
	logger   *log.Logger
	mu       sync.RWMutex // guards client, database and dbName
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// NewMongoDBConnector creates a new MongoDB connector instance
func NewMongoDBConnector() *MongoDBConnector {
	return &MongoDBConnector{
		logger: log.New(os.Stdout, "[MONGODB] ", log.LstdFlags),
	}
}

// Connect establishes the pooled client and verifies it with a ping.
// The whole call is bounded by the config's ConnectTimeout.
func (c *MongoDBConnector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	c.config = config

	dbName, ok := config.Options["database"].(string)
	if !ok || dbName == "" {
		return base.NewConnectorError(config.Name, "Connect", "database name is required", nil)
	}

	uri, err := c.buildURI(config)
	if err != nil {
		return base.NewConnectorError(config.Name, "Connect", "failed to build URI", err)
	}

	clientOpts := options.Client().ApplyURI(uri)

	maxPoolSize := uint64(DefaultMaxPoolSize)
	minPoolSize := uint64(DefaultMinPoolSize)
	if val, ok := numberOption(config.Options["max_pool_size"]); ok {
		maxPoolSize = uint64(val)
	}
	if val, ok := numberOption(config.Options["min_pool_size"]); ok {
		minPoolSize = uint64(val)
	}
	clientOpts.SetMaxPoolSize(maxPoolSize)
	clientOpts.SetMinPoolSize(minPoolSize)

	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	clientOpts.SetConnectTimeout(connectTimeout)
	clientOpts.SetServerSelectionTimeout(connectTimeout)

	if val, ok := config.Options["socket_timeout"].(string); ok {
		if duration, err := time.ParseDuration(val); err == nil {
			clientOpts.SetSocketTimeout(duration)
		}
	}

	clientOpts.SetReadPreference(parseReadPreference(config.Options["read_preference"]))

	appName := "querygate-" + config.Name
	if name, ok := config.Options["app_name"].(string); ok && name != "" {
		appName = name
	}
	clientOpts.SetAppName(appName)

	// Reads only; never retry writes because none are issued.
	clientOpts.SetRetryReads(true)
	clientOpts.SetRetryWrites(false)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return base.NewConnectorError(config.Name, "Connect", "failed to connect to MongoDB", err)
	}

	if err := client.Ping(connectCtx, readpref.PrimaryPreferred()); err != nil {
		_ = client.Disconnect(context.Background())
		return base.NewConnectorError(config.Name, "Connect", "failed to ping MongoDB", err)
	}

	c.attach(client, dbName)

	c.logger.Printf("Connected to MongoDB: %s (database=%s, max_pool=%d)", config.Name, dbName, maxPoolSize)
	return nil
}

func (c *MongoDBConnector) attach(client *mongo.Client, dbName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
	c.dbName = dbName
	c.database = client.Database(dbName)
}

// session returns the current client and database, nil when disconnected
func (c *MongoDBConnector) session() (*mongo.Client, *mongo.Database, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, c.database, c.dbName
}

// buildURI constructs the MongoDB connection URI from config
func (c *MongoDBConnector) buildURI(config *base.ConnectorConfig) (string, error) {
	username := config.Credentials["username"]
	password := config.Credentials["password"]

	if config.ConnectionURL != "" {
		if username == "" {
			return config.ConnectionURL, nil
		}
		// Credentials resolved from a secret override whatever the URL carries.
		u, err := url.Parse(config.ConnectionURL)
		if err != nil {
			return "", fmt.Errorf("invalid connection_url: %w", err)
		}
		u.User = url.UserPassword(username, password)
		return u.String(), nil
	}

	hosts := "localhost:27017"
	if h, ok := config.Options["host"].(string); ok && h != "" {
		port := 27017
		if p, ok := numberOption(config.Options["port"]); ok {
			port = int(p)
		}
		hosts = fmt.Sprintf("%s:%d", h, port)
	}
	if h, ok := config.Options["hosts"].(string); ok && h != "" {
		hosts = h
	}

	var uri string
	if username != "" && password != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s", url.QueryEscape(username), url.QueryEscape(password), hosts)
	} else {
		uri = fmt.Sprintf("mongodb://%s", hosts)
	}

	params := []string{}
	if authDB, ok := config.Options["auth_database"].(string); ok {
		params = append(params, "authSource="+authDB)
	}
	if rs, ok := config.Options["replica_set"].(string); ok {
		params = append(params, "replicaSet="+rs)
	}
	if tls, ok := config.Options["tls"].(bool); ok && tls {
		params = append(params, "tls=true")
	}
	if direct, ok := config.Options["direct_connection"].(bool); ok && direct {
		params = append(params, "directConnection=true")
	}
	if len(params) > 0 {
		uri += "/?" + strings.Join(params, "&")
	}

	return uri, nil
}

// Disconnect closes the MongoDB client
func (c *MongoDBConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.database = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}

	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Disconnect(disconnectCtx); err != nil {
		return base.NewConnectorError(c.Name(), "Disconnect", "failed to disconnect", err)
	}

	c.logger.Printf("Disconnected from MongoDB: %s", c.Name())
	return nil
}

// HealthCheck pings the deployment
func (c *MongoDBConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	client, _, dbName := c.session()
	if client == nil {
		return &base.HealthStatus{
			Healthy:   false,
			Error:     "client not connected",
			Timestamp: time.Now(),
		}, nil
	}

	start := time.Now()
	err := client.Ping(ctx, readpref.PrimaryPreferred())
	latency := time.Since(start)

	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	return &base.HealthStatus{
		Healthy:   true,
		Latency:   latency,
		Details:   map[string]string{"database": dbName},
		Timestamp: time.Now(),
	}, nil
}

// Query runs a find against query.Collection. The filter is sent as-is
// after extended-JSON conversion; the limit is always applied.
func (c *MongoDBConnector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	client, database, dbName := c.session()
	if client == nil {
		return nil, base.NewConnectorError(c.Name(), "Query", "client not connected", nil)
	}
	if query.Collection == "" {
		return nil, base.NewConnectorError(c.Name(), "Query", "collection is required", nil)
	}

	timeout := query.Timeout
	if timeout == 0 && c.config != nil {
		timeout = c.config.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	filter, err := toBSON(query.Filter)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Query", "invalid filter", err)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	cursor, err := database.Collection(query.Collection).Find(queryCtx, filter, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Query", "find failed", err)
	}
	defer func() { _ = cursor.Close(context.Background()) }()

	rows, err := decodeCursor(queryCtx, cursor, limit)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Query", "cursor decode failed", err)
	}
	duration := time.Since(start)

	c.logger.Printf("find %s.%s: %d documents in %v", dbName, query.Collection, len(rows), duration)

	return &base.QueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		Duration:  duration,
		Connector: c.Name(),
	}, nil
}

// Name returns the backing service this connector belongs to
func (c *MongoDBConnector) Name() string {
	if c.config == nil {
		return "mongodb"
	}
	return c.config.Name
}

// Type returns the connector type
func (c *MongoDBConnector) Type() string {
	return "mongodb"
}

func parseReadPreference(v interface{}) *readpref.ReadPref {
	rp, _ := v.(string)
	switch strings.ToLower(rp) {
	case "primary":
		return readpref.Primary()
	case "secondary":
		return readpref.Secondary()
	case "secondarypreferred":
		return readpref.SecondaryPreferred()
	case "nearest":
		return readpref.Nearest()
	default:
		return readpref.PrimaryPreferred()
	}
}

// numberOption accepts the numeric shapes YAML and JSON decoding produce
func numberOption(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// toBSON converts a decoded JSON filter to bson.M
func toBSON(v interface{}) (bson.M, error) {
	switch val := v.(type) {
	case nil:
		return bson.M{}, nil
	case bson.M:
		return val, nil
	case map[string]interface{}:
		result := bson.M{}
		for k, v := range val {
			result[k] = convertToBSONValue(v)
		}
		return result, nil
	case string:
		var result bson.M
		if err := json.Unmarshal([]byte(val), &result); err != nil {
			return nil, fmt.Errorf("invalid BSON/JSON: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to BSON", v)
	}
}

// convertToBSONValue turns extended-JSON wrappers ($oid, $date) into
// driver types and recurses through maps and arrays.
// dateLayouts are the {"$date": ...} forms accepted; a bare day is midnight UTC
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func convertToBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if oid, ok := val["$oid"].(string); ok && len(val) == 1 {
			if objectID, err := primitive.ObjectIDFromHex(oid); err == nil {
				return objectID
			}
		}
		if date, ok := val["$date"].(string); ok && len(val) == 1 {
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, date); err == nil {
					return t
				}
			}
		}
		result := bson.M{}
		for k, v := range val {
			result[k] = convertToBSONValue(v)
		}
		return result
	case []interface{}:
		result := make(bson.A, len(val))
		for i, v := range val {
			result[i] = convertToBSONValue(v)
		}
		return result
	default:
		return val
	}
}

// decodeCursor drains at most limit documents from the cursor
func decodeCursor(ctx context.Context, cursor *mongo.Cursor, limit int) ([]map[string]interface{}, error) {
	results := make([]map[string]interface{}, 0)

	for len(results) < limit && cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, bsonToMap(doc))
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func bsonToMap(doc bson.M) map[string]interface{} {
	result := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		result[k] = convertFromBSON(v)
	}
	return result
}

// convertFromBSON converts driver types to JSON-serializable Go types
func convertFromBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return map[string]interface{}{
			"t": val.T,
			"i": val.I,
		}
	case primitive.Binary:
		return val.Data
	case primitive.Decimal128:
		return val.String()
	case bson.M:
		return bsonToMap(val)
	case bson.A:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = convertFromBSON(item)
		}
		return result
	case primitive.D:
		result := make(map[string]interface{}, len(val))
		for _, elem := range val {
			result[elem.Key] = convertFromBSON(elem.Value)
		}
		return result
	default:
		return val
	}
}
