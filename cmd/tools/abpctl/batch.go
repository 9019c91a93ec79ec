package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/model/media"
)

type batchResult struct {
	Executor string `json:"executor"`
	Outcomes []struct {
		Index      int             `json:"index"`
		Output     json.RawMessage `json:"output,omitempty"`
		Error      string          `json:"error,omitempty"`
		Worker     string          `json:"worker,omitempty"`
		DurationMs int64           `json:"durationMs"`
	} `json:"outcomes"`
	Report executor.Report `json:"report"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a batch of calls synchronously on the executor",
	}
	cmd.AddCommand(newBatchImagesCmd(), newBatchRunCmd())
	return cmd
}

func newBatchImagesCmd() *cobra.Command {
	var (
		prompts     []string
		brand       string
		aspect      string
		save        bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:     "images",
		Short:   "Generate one image per --prompt",
		Example: `  abpctl batch images --prompt "neon mug" --prompt "pastel tee" --save --brand bold_vibrant`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(prompts) == 0 {
				return errors.New("at least one --prompt is required")
			}
			calls := make([]executor.Call, 0, len(prompts))
			for _, p := range prompts {
				call, err := executor.NewCall(media.KindImage, media.ImageRequest{
					Prompt:      p,
					AspectRatio: aspect,
					Delivery:    media.Delivery{Save: save, BrandTemplate: brand},
				})
				if err != nil {
					return err
				}
				calls = append(calls, call)
			}
			return runBatch(cmd, calls, concurrency)
		},
	}
	cmd.Flags().StringArrayVar(&prompts, "prompt", nil, "image prompt (repeatable)")
	cmd.Flags().StringVar(&brand, "brand", "", "brand template id")
	cmd.Flags().StringVar(&aspect, "aspect", "1:1", "aspect ratio")
	cmd.Flags().BoolVar(&save, "save", false, "store results in the file library")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max calls in flight (0 = executor default)")
	return cmd
}

func newBatchRunCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run calls from a JSON file ([{\"kind\":...,\"payload\":{...}}])",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var calls []executor.Call
			if err := json.Unmarshal(raw, &calls); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return runBatch(cmd, calls, concurrency)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max calls in flight (0 = executor default)")
	return cmd
}

func runBatch(cmd *cobra.Command, calls []executor.Call, concurrency int) error {
	// batches can run far longer than a single request
	ctx, cancel := requestContext(cmd, max(timeout, 30*time.Minute))
	defer cancel()

	client := apiClient()
	client.HTTP.Timeout = 0

	var res batchResult
	err := client.Do(ctx, http.MethodPost, "/batches", map[string]any{
		"calls":         calls,
		"maxConcurrent": concurrency,
	}, &res)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, o := range res.Outcomes {
		status := "ok"
		detail := strings.TrimSpace(string(o.Output))
		if o.Error != "" {
			status, detail = "FAILED", o.Error
		}
		fmt.Fprintf(out, "#%-3d %-6s %6dms %-12s %s\n", o.Index, status, o.DurationMs, o.Worker, detail)
	}
	r := res.Report
	fmt.Fprintf(out, "%s: %d/%d succeeded (%.0f%%)\n", res.Executor, r.Succeeded, r.Total, r.SuccessRatio*100)
	if r.Failed > 0 && r.Succeeded == 0 {
		return fmt.Errorf("all %d calls failed", r.Failed)
	}
	return nil
}

// readPayload accepts inline JSON or @path.
func readPayload(v string) (json.RawMessage, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	raw := []byte(v)
	if strings.HasPrefix(v, "@") {
		b, err := os.ReadFile(v[1:])
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid JSON")
	}
	return raw, nil
}
