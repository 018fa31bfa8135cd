package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/vrt/internal/cost"
	"github.com/lance13c/vrt/internal/database"
	"github.com/lance13c/vrt/internal/orchestrator"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show LLM usage and cost tracking",
	Long: `Display the LLM calls recorded by past runs, grouped by provider and
model, for all time or the last day, week or month.`,
	RunE: runUsage,
}

var (
	usageDaily   bool
	usageWeekly  bool
	usageMonthly bool
	usageExport  string
)

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().BoolVar(&usageDaily, "daily", false, "Show usage of the last 24 hours")
	usageCmd.Flags().BoolVar(&usageWeekly, "weekly", false, "Show usage of the last 7 days")
	usageCmd.Flags().BoolVar(&usageMonthly, "monthly", false, "Show usage of the last 30 days")
	usageCmd.Flags().StringVar(&usageExport, "export", "", "Export usage data to file (json, csv)")
}

func usageWindow(now time.Time) (time.Time, string) {
	switch {
	case usageDaily:
		return now.Add(-24 * time.Hour), "Last 24 Hours"
	case usageWeekly:
		return now.AddDate(0, 0, -7), "Last 7 Days"
	case usageMonthly:
		return now.AddDate(0, 0, -30), "Last 30 Days"
	default:
		return time.Time{}, "All Time"
	}
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := orchestrator.OpenDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to open usage database: %w", err)
	}
	defer db.Close()

	since, label := usageWindow(time.Now())
	totals, err := db.UsageTotals(since)
	if err != nil {
		return fmt.Errorf("failed to load usage data: %w", err)
	}

	if usageExport != "" {
		return exportUsageData(totals, usageExport)
	}
	displayUsage(os.Stdout, totals, label)
	return nil
}

func displayUsage(w io.Writer, totals []database.UsageTotal, label string) {
	st := newStyles(isTerminal(os.Stdout))
	fmt.Fprintln(w, st.title.Render("LLM Usage - "+label))
	fmt.Fprintln(w)

	if len(totals) == 0 {
		fmt.Fprintln(w, "No LLM requests recorded.")
		return
	}

	fmt.Fprintf(w, "%-12s %-28s %8s %12s %12s\n", "Provider", "Model", "Requests", "Tokens", "Cost")
	fmt.Fprintln(w, "──────────────────────────────────────────────────────────────────────────────")

	var calls int
	var tokens int64
	var spent float64
	for _, t := range totals {
		fmt.Fprintf(w, "%-12s %-28s %8d %12s %12s\n",
			t.Provider,
			t.Model,
			t.Calls,
			cost.FormatTokens(t.PromptTokens+t.CompletionTokens),
			cost.FormatCost(t.Cost))
		calls += t.Calls
		tokens += t.PromptTokens + t.CompletionTokens
		spent += t.Cost
	}

	fmt.Fprintln(w, "──────────────────────────────────────────────────────────────────────────────")
	fmt.Fprintf(w, "%-12s %-28s %8d %12s %12s\n", "Total", "", calls, cost.FormatTokens(tokens), cost.FormatCost(spent))
}

func exportUsageData(totals []database.UsageTotal, format string) error {
	filename := fmt.Sprintf("vrt-usage-%s.%s", time.Now().Format("2006-01-02"), format)

	var data []byte
	switch format {
	case "json":
		var err error
		if data, err = json.MarshalIndent(totals, "", "  "); err != nil {
			return err
		}
		if err := os.WriteFile(filename, data, 0644); err != nil {
			return err
		}
	case "csv":
		file, err := os.Create(filename)
		if err != nil {
			return err
		}
		defer file.Close()

		cw := csv.NewWriter(file)
		cw.Write([]string{"Provider", "Model", "Requests", "InputTokens", "OutputTokens", "Cost"})
		for _, t := range totals {
			cw.Write([]string{
				t.Provider,
				t.Model,
				strconv.Itoa(t.Calls),
				strconv.FormatInt(t.PromptTokens, 10),
				strconv.FormatInt(t.CompletionTokens, 10),
				strconv.FormatFloat(t.Cost, 'f', 6, 64),
			})
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported export format: %s (supported: json, csv)", format)
	}

	fmt.Printf("Usage data exported to %s\n", filename)
	return nil
}
