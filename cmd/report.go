package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/cost"
	"github.com/lance13c/vrt/internal/gitinfo"
	"github.com/lance13c/vrt/internal/orchestrator"
	"github.com/lance13c/vrt/internal/types"
)

// ResultsFileName is written to the .vrt directory after every run
const ResultsFileName = "results.json"

// Report is the machine readable outcome of a run
type Report struct {
	StartedAt time.Time            `json:"started_at"`
	Git       gitinfo.Info         `json:"git"`
	Summary   orchestrator.Summary `json:"summary"`
	Cost      types.CostStats      `json:"cost"`
	Results   []types.TestResult   `json:"results"`
}

func resultsPath(root string) string {
	return filepath.Join(root, config.ConfigDirName, ResultsFileName)
}

func writeReport(path string, report *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &report, nil
}

// isTerminal reports whether f is attached to a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type styles struct {
	title lipgloss.Style
	pass  lipgloss.Style
	fail  lipgloss.Style
	errs  lipgloss.Style
	dim   lipgloss.Style
	box   lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{title: plain, pass: plain, fail: plain, errs: plain, dim: plain, box: plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		pass:  lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		fail:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87")),
		errs:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")),
		dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4A9EFF")).
			Padding(0, 1),
	}
}

// printSummary writes one line per result and a totals box
func printSummary(w io.Writer, report *Report, color bool) {
	st := newStyles(color)

	for _, r := range report.Results {
		id := r.Target + "/" + r.Variant
		switch {
		case r.Error != nil:
			fmt.Fprintf(w, "%s %s %s\n", st.errs.Render("ERROR"), id,
				st.dim.Render(fmt.Sprintf("(%s: %s)", r.Error.Step, r.Error.Message)))
		case r.Passed:
			fmt.Fprintf(w, "%s  %s %s\n", st.pass.Render("PASS"), id,
				st.dim.Render(fmt.Sprintf("%.2f%% in %v", r.MismatchPercentage, r.Duration.Round(time.Millisecond))))
		default:
			fmt.Fprintf(w, "%s  %s %s\n", st.fail.Render("FAIL"), id,
				st.dim.Render(fmt.Sprintf("%.2f%% differs", r.MismatchPercentage)))
			if r.Analysis != nil {
				a := r.Analysis.Assessment
				fmt.Fprintf(w, "      grade %s (%.0f) %s\n", a.Grade, a.Score, a.Summary)
				for _, d := range r.Analysis.Differences {
					fmt.Fprintf(w, "      - [%s] %s: %s\n", d.Severity, d.Location, d.Description)
				}
			}
			for _, f := range r.Fixes {
				fmt.Fprintf(w, "      fix: %s\n", f.Description)
			}
			if r.Screenshots.Diff != "" {
				fmt.Fprintf(w, "      %s\n", st.dim.Render("diff: "+r.Screenshots.Diff))
			}
		}
	}

	s := report.Summary
	lines := []string{
		st.title.Render("Visual regression summary"),
		fmt.Sprintf("%s passed, %s failed, %s errored of %d",
			st.pass.Render(fmt.Sprint(s.Passed)), st.fail.Render(fmt.Sprint(s.Failed)),
			st.errs.Render(fmt.Sprint(s.Errored)), s.Total),
	}
	if report.Cost.CallCount > 0 {
		lines = append(lines, fmt.Sprintf("LLM: %d call(s), %s tokens, %s",
			report.Cost.CallCount, cost.FormatTokens(report.Cost.TotalTokens), cost.FormatCost(report.Cost.EstimatedCost)))
	}
	if report.Git.Commit != "" {
		commit := report.Git.Short()
		if report.Git.Branch != "" {
			commit = report.Git.Branch + "@" + commit
		}
		if report.Git.Dirty {
			commit += " (dirty)"
		}
		lines = append(lines, st.dim.Render("commit "+commit))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, st.box.Render(strings.Join(lines, "\n")))
}
