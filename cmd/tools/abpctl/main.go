// Command abpctl drives a running backend from the terminal: submit and watch
// jobs, run image batches and check API spend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/autobiz/abp/backend/internal/platform/httpjson"
)

var (
	serverURL string
	timeout   time.Duration
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "abpctl",
		Short:         "Command line client for the automation backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	defaultServer := os.Getenv("ABP_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "backend base URL (env ABP_SERVER)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(newJobsCmd(), newBatchCmd(), newUsageCmd(), newKindsCmd())
	return root
}

func apiClient() *httpjson.Client {
	return httpjson.New("abp", strings.TrimRight(serverURL, "/")+"/api", timeout, nil)
}

// requestContext bounds one command; wait-style commands pass their own limit.
func requestContext(cmd *cobra.Command, limit time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), limit)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "Show the executor and the registered job kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd, timeout)
			defer cancel()
			var info struct {
				Executor string `json:"executor"`
				Kinds    []struct {
					Name        string `json:"name"`
					Description string `json:"description"`
					LocalOnly   bool   `json:"localOnly"`
				} `json:"kinds"`
			}
			if err := apiClient().Do(ctx, http.MethodGet, "/executor", nil, &info); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "executor: %s\n", info.Executor)
			for _, k := range info.Kinds {
				suffix := ""
				if k.LocalOnly {
					suffix = " (local only)"
				}
				fmt.Fprintf(out, "  %-20s %s%s\n", k.Name, k.Description, suffix)
			}
			return nil
		},
	}
}
