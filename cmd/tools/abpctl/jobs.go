package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/autobiz/abp/backend/internal/model/job"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit, inspect and cancel background jobs",
	}
	cmd.AddCommand(newJobsSubmitCmd(), newJobsListCmd(), newJobsGetCmd(), newJobsResultCmd(), newJobsCancelCmd(), newJobsWatchCmd())
	return cmd
}

func newJobsSubmitCmd() *cobra.Command {
	var (
		payload  string
		priority int
		wait     bool
		waitFor  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit KIND",
		Short: "Queue a job",
		Example: `  abpctl jobs submit media.image --payload '{"prompt":"retro neon mug"}'
  abpctl jobs submit campaign.generate --payload @brief.json --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(payload)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd, timeout)
			defer cancel()

			body := map[string]any{"kind": args[0], "source": "cli", "priority": priority}
			if raw != nil {
				body["payload"] = raw
			}
			var submitted job.Job
			if err := apiClient().Do(ctx, http.MethodPost, "/jobs", body, &submitted); err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), submitted)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "queued %s, waiting...\n", submitted.ID)
			final, err := watch(cmd, submitted.ID, waitFor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), final)
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload, or @file to read it from a file")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1-10 (default 5)")
	cmd.Flags().BoolVar(&wait, "wait", false, "stream events until the job finishes")
	cmd.Flags().DurationVar(&waitFor, "wait-timeout", 30*time.Minute, "give up waiting after this long")
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var status, kind, source string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"status": status, "kind": kind, "source": source} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			ctx, cancel := requestContext(cmd, timeout)
			defer cancel()

			var list []job.Job
			if err := apiClient().Do(ctx, http.MethodGet, "/jobs?"+q.Encode(), nil, &list); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, j := range list {
				fmt.Fprintf(out, "%s  %-10s %-18s p%-2d %s\n", j.ID, j.Status, j.Kind, j.Priority, j.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	cmd.Flags().StringVar(&source, "source", "", "filter by source")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to show")
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, timeout)
			defer cancel()
			var j job.Job
			if err := apiClient().Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(args[0]), nil, &j); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}
}

func newJobsResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result ID",
		Short: "Print the output of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, timeout)
			defer cancel()
			var result json.RawMessage
			if err := apiClient().Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(args[0])+"/result", nil, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, timeout)
			defer cancel()
			var j job.Job
			if err := apiClient().Do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(args[0]), nil, &j); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", j.ID, j.Status)
			return nil
		},
	}
}

func newJobsWatchCmd() *cobra.Command {
	var waitFor time.Duration
	cmd := &cobra.Command{
		Use:   "watch ID",
		Short: "Stream a job's events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			final, err := watch(cmd, args[0], waitFor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), final)
		},
	}
	cmd.Flags().DurationVar(&waitFor, "timeout", 30*time.Minute, "give up after this long")
	return cmd
}

// watch follows the job over the WebSocket feed and returns its final state.
// Events are echoed to stderr as they arrive.
func watch(cmd *cobra.Command, id string, limit time.Duration) (job.Job, error) {
	ctx, cancel := requestContext(cmd, limit)
	defer cancel()

	wsURL, err := feedURL(serverURL, id)
	if err != nil {
		return job.Job{}, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return job.Job{}, fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	// The feed only carries events after the subscription, so check for a
	// job that already finished.
	var current job.Job
	if err := apiClient().Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &current); err != nil {
		return job.Job{}, err
	}
	if current.Status.Terminal() {
		return current, nil
	}

	logOut := cmd.ErrOrStderr()
	for {
		var ev job.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return current, ctx.Err()
			}
			return current, fmt.Errorf("read event: %w", err)
		}
		current = ev.Job
		line := fmt.Sprintf("[%s] %s %s", ev.At.Format(time.TimeOnly), ev.Type, ev.Job.Status)
		if ev.Note != "" {
			line += " " + ev.Note
		}
		if ev.Job.Progress > 0 && !ev.Job.Status.Terminal() {
			line += fmt.Sprintf(" %.0f%%", ev.Job.Progress*100)
		}
		fmt.Fprintln(logOut, line)
		if ev.Job.Status.Terminal() {
			return current, nil
		}
	}
}

func feedURL(server, id string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/api/jobs/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"job": {id}}.Encode()
	return u.String(), nil
}
