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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"querygate/app"
	"querygate/config"
	"querygate/schema"
	"querygate/server"
	"querygate/shared/logger"
)

const defaultConfigPath = "querygate.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "querygate",
		Short:         "Answer natural-language questions with read-only datastore lookups",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("QUERYGATE_CONFIG")
	if defaultPath == "" {
		defaultPath = defaultConfigPath
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newAskCmd(&configPath),
		newSchemasCmd(&configPath),
		newCheckConfigCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, app.Options{})
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newAskCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the outcome as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			a, err := app.Build(ctx, cfg, app.Options{
				Registerer: prometheus.NewRegistry(),
				Logger:     logger.NewWithWriter("querygate", cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}
			defer a.Router.CloseAll(context.Background())

			out := a.Pipeline.RunQuery(ctx, strings.Join(args, " "))
			if err := writeJSON(cmd.OutOrStdout(), server.QueryResponse{Outcome: out, Error: out.Reason()}); err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("no answer: %s", out.Reason())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 means no limit)")
	return cmd
}

func newSchemasCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas [collection...]",
		Short: "Print the schema descriptors the model is shown",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			registry, err := app.NewRegistry(cfg, logger.NewWithWriter("querygate", cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			described := registry.Describe(cmd.Context(), args...)
			names := make([]string, 0, len(described))
			for name := range described {
				names = append(names, name)
			}
			sort.Strings(names)

			list := make([]*schema.Descriptor, 0, len(names))
			for _, name := range names {
				list = append(list, described[name])
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
}

func newCheckConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and summarize it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if _, err := app.NewRegistry(cfg, logger.NewWithWriter("querygate", io.Discard)); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "config %s is valid\n", *configPath)
			fmt.Fprintf(w, "llm: %s %s\n", cfg.LLM.Provider, cfg.LLM.Model)
			fmt.Fprintf(w, "pipeline: max_attempts=%d backoff=%s/%dms max_rows=%d\n",
				cfg.Pipeline.MaxAttempts, cfg.Pipeline.BackoffStrategy, cfg.Pipeline.BackoffBaseMs, cfg.Pipeline.MaxRows)
			fmt.Fprintf(w, "sandbox: %s, allowed: %s\n", cfg.Sandbox.Mode, strings.Join(cfg.Sandbox.AllowedCollections, ", "))
			for _, name := range cfg.ServiceNames() {
				svc := cfg.Services[name]
				colls := make([]string, 0, len(svc.Collections))
				for _, c := range svc.Collections {
					colls = append(colls, c.Name+"("+c.Model+")")
				}
				fmt.Fprintf(w, "service %s [%s] db=%s: %s\n", name, svc.Type, svc.Database, strings.Join(colls, ", "))
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
