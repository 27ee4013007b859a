// Package report renders a completed activity report as a Markdown document.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/miabbott/git-year-end-report/internal/domain"
)

const dateLayout = "January 02, 2006"

// WriteMarkdown renders the report and writes it to outputPath.
func WriteMarkdown(rep *domain.Report, outputPath string) error {
	content := buildMarkdown(rep, time.Now())
	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// buildMarkdown assembles the whole document: header, overall summary,
// per-user breakdown (alphabetical), and per-repository breakdown in fetch
// order.
func buildMarkdown(rep *domain.Report, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Git Activity Report - %d\n\n", rep.Year)
	fmt.Fprintf(&b, "**Report Period:** %s - %s\n\n",
		rep.StartDate.Format(dateLayout), rep.EndDate.Format(dateLayout))
	b.WriteString("---\n\n")

	totals := rep.TotalStats()

	b.WriteString("## Overall Summary\n\n")
	writeSummaryTable(&b, totals)
	b.WriteString("\n")

	b.WriteString("## Per-User Breakdown\n\n")
	for _, username := range sortedUsernames(totals) {
		fmt.Fprintf(&b, "### %s\n\n", username)
		writeUserTable(&b, totals[username])
		b.WriteString("\n")
	}

	b.WriteString("## Per-Repository Breakdown\n\n")
	for _, repoStats := range rep.Repos {
		fmt.Fprintf(&b, "### %s - %s\n\n", repoStats.Forge, repoStats.Repo)
		if len(repoStats.UserStats) > 0 {
			writeRepoTable(&b, repoStats)
		} else {
			b.WriteString("*No activity found for tracked users.*\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "*Report generated on %s*\n", now.Format("January 02, 2006 at 3:04 PM"))

	return b.String()
}

func writeSummaryTable(b *strings.Builder, totals map[string]*domain.UserStats) {
	sum := domain.NewUserStats("")
	for _, stats := range totals {
		sum.Merge(stats)
	}

	b.WriteString("| Metric | Total |\n")
	b.WriteString("|--------|-------|\n")
	for _, row := range metricRows(sum) {
		fmt.Fprintf(b, "| %s | %d |\n", row.label, row.value)
	}
}

func writeUserTable(b *strings.Builder, stats *domain.UserStats) {
	b.WriteString("| Metric | Count |\n")
	b.WriteString("|--------|-------|\n")
	for _, row := range metricRows(stats) {
		fmt.Fprintf(b, "| %s | %d |\n", row.label, row.value)
	}
}

func writeRepoTable(b *strings.Builder, repoStats *domain.RepoStats) {
	b.WriteString("| User | Issues Opened | Issues Closed | PRs Opened | PRs Closed | PRs Merged | Commits | PR Comments | Issue Comments |\n")
	b.WriteString("|------|---------------|---------------|------------|------------|------------|---------|-------------|----------------|\n")

	for _, username := range sortedUsernames(repoStats.UserStats) {
		s := repoStats.UserStats[username]
		fmt.Fprintf(b, "| %s | %d | %d | %d | %d | %d | %d | %d | %d |\n",
			username, s.IssuesOpened, s.IssuesClosed, s.PRsOpened, s.PRsClosed,
			s.PRsMerged, s.Commits, s.PRComments, s.IssueComments)
	}
}

type metricRow struct {
	label string
	value int
}

// metricRows fixes the display order of the eight metrics.
func metricRows(s *domain.UserStats) []metricRow {
	return []metricRow{
		{"Issues Opened", s.IssuesOpened},
		{"Issues Closed", s.IssuesClosed},
		{"PRs Opened", s.PRsOpened},
		{"PRs Closed", s.PRsClosed},
		{"PRs Merged", s.PRsMerged},
		{"Commits", s.Commits},
		{"PR Comments", s.PRComments},
		{"Issue Comments", s.IssueComments},
	}
}

func sortedUsernames(m map[string]*domain.UserStats) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
