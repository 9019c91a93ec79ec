package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/spf13/cobra"

	usageService "github.com/autobiz/abp/backend/internal/service/usage"
)

func newUsageCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show API spend and budget status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd, timeout)
			defer cancel()
			client := apiClient()

			var summary usageService.Summary
			if err := client.Do(ctx, http.MethodGet, "/usage?"+url.Values{"period": {period}}.Encode(), nil, &summary); err != nil {
				return err
			}
			var budget usageService.BudgetStatus
			if err := client.Do(ctx, http.MethodGet, "/usage/budget", nil, &budget); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "period %s: %d calls (%d failed), $%.4f, avg %.0fms\n",
				summary.Period, summary.TotalCalls, summary.FailedCalls, summary.TotalCost, summary.AvgLatencyMs)

			providers := make([]string, 0, len(summary.CallsByProvider))
			for p := range summary.CallsByProvider {
				providers = append(providers, p)
			}
			sort.Strings(providers)
			for _, p := range providers {
				fmt.Fprintf(out, "  %-10s %5d calls  $%.4f\n", p, summary.CallsByProvider[p], summary.CostByProvider[p])
			}

			for _, line := range []struct {
				name string
				b    usageService.BudgetLine
			}{{"daily", budget.Daily}, {"monthly", budget.Monthly}} {
				flag := ""
				switch {
				case line.b.OverBudget:
					flag = "  OVER BUDGET"
				case line.b.NearLimit:
					flag = "  near limit"
				}
				fmt.Fprintf(out, "%-8s $%.2f of $%.2f (%.1f%%)%s\n", line.name, line.b.Spent, line.b.Budget, line.b.PercentUsed, flag)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "day", "hour, day, week, month or all")
	return cmd
}
