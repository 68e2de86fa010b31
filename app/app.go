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

// Package app assembles querygate from its configuration: secrets, the
// language model, the connection router, the schema registry, the sandbox,
// the query pipeline and the HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"querygate/catalog"
	"querygate/config"
	"querygate/connectors/router"
	"querygate/llm"
	"querygate/nlquery"
	"querygate/sandbox"
	"querygate/schema"
	"querygate/server"
	"querygate/shared/logger"
)

// Version is stamped at build time with -ldflags
var Version = "dev"

// closeTimeout bounds disconnecting every service at shutdown
const closeTimeout = 10 * time.Second

// Options override parts of the assembly, mostly for tests
type Options struct {
	Registerer prometheus.Registerer // nil means the default registerer
	Gatherer   prometheus.Gatherer   // nil means the default gatherer
	Factory    router.Factory        // nil means router.DefaultFactory
	Provider   llm.Provider          // nil means build one from config
	Logger     *logger.Logger
}

// App is a fully wired querygate instance
type App struct {
	Config   *config.Config
	Router   *router.Router
	Registry *schema.Registry
	Pipeline *nlquery.Pipeline
	Server   *server.Server

	logger *logger.Logger
}

// Build wires every component described by cfg. Nothing connects to a
// backing service until the first query needs it.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = logger.New("querygate")
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	sm, err := config.NewSecretsManager(ctx, cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = buildProvider(ctx, cfg, sm)
		if err != nil {
			return nil, err
		}
	}
	provider = llm.NewRateLimitedProvider(provider, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)

	factory := opts.Factory
	if factory == nil {
		factory = router.DefaultFactory
	}
	r := router.New(factory)
	for _, name := range cfg.ServiceNames() {
		svc := cfg.Services[name]

		connCfg, err := cfg.ConnectorConfig(ctx, name, sm)
		if err != nil {
			return nil, err
		}
		collections := make([]string, 0, len(svc.Collections))
		for _, coll := range svc.Collections {
			collections = append(collections, coll.Name)
		}
		if err := r.AddService(connCfg, collections...); err != nil {
			return nil, err
		}
	}

	registry, err := NewRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	validator := sandbox.NewValidator(sandbox.Policy{
		AllowedCollections: cfg.Sandbox.AllowedCollections,
		DeniedOperators:    cfg.Sandbox.DeniedOperators,
		Mode:               sandbox.Mode(cfg.Sandbox.Mode),
	})

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	metrics := nlquery.NewMetrics(registerer)

	temperature := nlquery.DefaultTemperature
	if cfg.LLM.Temperature != nil {
		temperature = *cfg.LLM.Temperature
		if temperature == 0 {
			temperature = -1 // explicit zero
		}
	}
	generator := nlquery.NewGenerator(provider, nlquery.GeneratorConfig{
		Temperature: temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout(),
	})

	executor := nlquery.NewExecutor(r, cfg.Pipeline.MaxRows, log).WithMetrics(metrics)

	pipeline := nlquery.NewPipeline(registry, generator, validator, executor, nlquery.PipelineConfig{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Backoff:     nlquery.NewBackoff(cfg.Pipeline.BackoffStrategy, cfg.Pipeline.BackoffBase()),
	}, log).WithMetrics(metrics)

	srv := server.New(pipeline, r, registry, server.Options{
		Port:            cfg.Server.Port,
		Version:         Version,
		ShutdownTimeout: cfg.Server.ShutdownTimeout(),
		Gatherer:        opts.Gatherer,
	}, log)

	log.Info("", "querygate assembled", map[string]interface{}{
		"llm_provider": provider.Name(),
		"services":     r.Services(),
		"collections":  len(registry.Collections()),
		"sandbox_mode": string(validator.Policy().Mode),
		"max_attempts": cfg.Pipeline.MaxAttempts,
		"backoff":      cfg.Pipeline.BackoffStrategy,
		"max_rows":     executor.MaxRows(),
	})

	return &App{
		Config:   cfg,
		Router:   r,
		Registry: registry,
		Pipeline: pipeline,
		Server:   srv,
		logger:   log,
	}, nil
}

// Run warms the schema cache, serves until ctx is done and then closes
// every backing service connection
func (a *App) Run(ctx context.Context) error {
	described := a.Registry.Describe(ctx)
	a.logger.Info("", "Schema registry warmed", map[string]interface{}{
		"described": len(described),
		"bound":     len(a.Registry.Collections()),
	})

	err := a.Server.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	a.Router.CloseAll(closeCtx)

	return err
}

// NewRegistry binds every configured collection to its model. It needs no
// network access.
func NewRegistry(cfg *config.Config, log *logger.Logger) (*schema.Registry, error) {
	registry := schema.NewRegistry(log)
	for _, name := range cfg.ServiceNames() {
		for _, coll := range cfg.Services[name].Collections {
			source, err := resolveModel(cfg, coll.Model)
			if err != nil {
				return nil, fmt.Errorf("collection '%s': %w", coll.Name, err)
			}
			if err := registry.Bind(coll.Name, name, source); err != nil {
				return nil, err
			}
		}
	}
	return registry, nil
}

// resolveModel finds the field source for a model name. Models declared in
// the config file take precedence over the built-in catalog.
func resolveModel(cfg *config.Config, model string) (schema.FieldSource, error) {
	if declared, ok := cfg.DeclaredModel(model); ok {
		return declared, nil
	}
	return catalog.Lookup(model)
}

func buildProvider(ctx context.Context, cfg *config.Config, sm config.SecretsManager) (llm.Provider, error) {
	apiKey, err := cfg.ResolveLLMAPIKey(ctx, sm)
	if err != nil {
		return nil, err
	}
	provider, err := llm.NewProvider(ctx, llm.ProviderConfig{
		Type:    llm.ProviderType(cfg.LLM.Provider),
		APIKey:  apiKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Region:  cfg.LLM.Region,
		Timeout: cfg.LLM.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	return provider, nil
}
