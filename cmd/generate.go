package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/miabbott/git-year-end-report/internal/config"
	"github.com/miabbott/git-year-end-report/internal/domain"
	"github.com/miabbott/git-year-end-report/internal/forge"
	"github.com/miabbott/git-year-end-report/internal/report"
	"github.com/miabbott/git-year-end-report/internal/usecase"
)

var (
	headerColor = color.New(color.FgBlue, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed)
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a year-end activity report from configured git forges",
	Long: `Reads the configuration file, fetches statistics from all configured
git forges, and generates a comprehensive Markdown report.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		configPath, _ := cmd.InheritedFlags().GetString("config")
		output, _ := cmd.Flags().GetString("output")
		onlyForges, _ := cmd.Flags().GetStringSlice("forge")
		workers, _ := cmd.Flags().GetInt("workers")
		logger := newLogger(verbose)

		cfg, err := config.Load(configPath)
		if err != nil {
			errColor.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		cfg.Forges, err = filterForges(cfg.Forges, onlyForges)
		if err != nil {
			errColor.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rep := domain.NewReport(cfg.Year, time.Now())

		outputPath := output
		if outputPath == "" {
			outputPath = cfg.Output
		}
		if outputPath == "" {
			outputPath = fmt.Sprintf("report-%d.md", cfg.Year)
		}

		headerColor.Println("Git Year-End Report Generator")
		fmt.Printf("Year: %d\n", cfg.Year)
		fmt.Printf("Period: %s to %s\n", rep.StartDate.Format("2006-01-02"), rep.EndDate.Format("2006-01-02"))
		fmt.Printf("Output: %s\n\n", outputPath)

		var (
			jobs   []usecase.Job
			forges []forge.Forge
		)
		for _, fc := range cfg.Forges {
			f, err := buildForge(fc, logger)
			if err != nil {
				warnColor.Printf("Warning: %v, skipping\n", err)
				continue
			}
			forges = append(forges, f)
			for _, repo := range fc.Repos {
				jobs = append(jobs, usecase.Job{Forge: f, Repo: repo, Usernames: fc.Usernames})
			}
		}

		aggregator := usecase.NewAggregator(workers, logger)
		aggregator.Progress = func(forgeName, repo string, err error) {
			if err != nil {
				errColor.Printf("  ✗ %s/%s: %v\n", forgeName, repo, err)
			} else {
				okColor.Printf("  ✓ %s/%s\n", forgeName, repo)
			}
		}

		failures := aggregator.Run(ctx, jobs, rep)

		fmt.Println()
		okColor.Println("Generating report...")
		if err := report.WriteMarkdown(rep, outputPath); err != nil {
			errColor.Fprintf(os.Stderr, "Error generating report: %v\n", err)
			os.Exit(1)
		}
		okColor.Printf("Report generated: %s\n\n", outputPath)

		printTotals(rep)
		printRequestCounts(forges)

		for _, repoStats := range rep.Repos {
			if !repoStats.HasActivity() {
				warnColor.Printf("No activity found in %s/%s\n", repoStats.Forge, repoStats.Repo)
			}
		}

		if len(failures) > 0 {
			fmt.Println()
			errColor.Printf("%d job(s) failed:\n", len(failures))
			for _, f := range failures {
				errColor.Printf("  %s/%s: %v\n", f.Forge, f.Repo, f.Err)
			}
		}
	},
}

// printTotals renders the overall metric totals as a console table.
func printTotals(rep *domain.Report) {
	sum := domain.NewUserStats("")
	for _, stats := range rep.TotalStats() {
		sum.Merge(stats)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Metric", "Total"})

	data := [][]string{
		{"Issues Opened", strconv.Itoa(sum.IssuesOpened)},
		{"Issues Closed", strconv.Itoa(sum.IssuesClosed)},
		{"PRs Opened", strconv.Itoa(sum.PRsOpened)},
		{"PRs Closed", strconv.Itoa(sum.PRsClosed)},
		{"PRs Merged", strconv.Itoa(sum.PRsMerged)},
		{"Commits", strconv.Itoa(sum.Commits)},
		{"PR Comments", strconv.Itoa(sum.PRComments)},
		{"Issue Comments", strconv.Itoa(sum.IssueComments)},
	}
	if err := table.Bulk(data); err != nil {
		return
	}
	_ = table.Render()
}

// printRequestCounts reports the API request budget each adapter consumed.
func printRequestCounts(forges []forge.Forge) {
	names := make([]string, 0, len(forges))
	byName := make(map[string]int64, len(forges))
	for _, f := range forges {
		names = append(names, f.Name())
		byName[f.Name()] = f.Requests()
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("API requests (%s): %d\n", name, byName[name])
	}
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringP("output", "o", "", "Output file path (overrides config file setting)")
	generateCmd.Flags().StringSliceP("forge", "f", nil, "Only fetch from specified forge(s); may repeat")
	generateCmd.Flags().Int("workers", usecase.DefaultWorkers, "Maximum concurrent repository fetches")
}
