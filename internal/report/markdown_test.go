package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miabbott/git-year-end-report/internal/domain"
)

func buildTestReport(t *testing.T) *domain.Report {
	t.Helper()
	rep := domain.NewReport(2024, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))

	gh := domain.NewRepoStats("GitHub", "org/busy")
	alice := domain.NewUserStats("alice")
	alice.IssuesOpened = 3
	alice.Commits = 12
	gh.AddUserStats(alice)
	zed := domain.NewUserStats("zed")
	zed.PRsMerged = 1
	gh.AddUserStats(zed)
	rep.AddRepoStats(gh)

	quiet := domain.NewRepoStats("Pagure", "quiet-project")
	quiet.AddUserStats(domain.NewUserStats("alice"))
	rep.AddRepoStats(quiet)

	empty := domain.NewRepoStats("GitLab", "group/empty")
	rep.AddRepoStats(empty)

	return rep
}

func TestBuildMarkdown_Sections(t *testing.T) {
	rep := buildTestReport(t)
	now := time.Date(2025, time.January, 10, 15, 4, 0, 0, time.UTC)

	doc := buildMarkdown(rep, now)

	assert.True(t, strings.HasPrefix(doc, "# Git Activity Report - 2024\n"))
	assert.Contains(t, doc, "**Report Period:** January 01, 2024 - December 31, 2024")
	assert.Contains(t, doc, "## Overall Summary")
	assert.Contains(t, doc, "## Per-User Breakdown")
	assert.Contains(t, doc, "## Per-Repository Breakdown")
	assert.Contains(t, doc, "### GitHub - org/busy")
	assert.Contains(t, doc, "### Pagure - quiet-project")
	assert.Contains(t, doc, "### GitLab - group/empty")
	assert.Contains(t, doc, "*Report generated on January 10, 2025 at 3:04 PM*")
}

func TestBuildMarkdown_OverallSummarySumsUsers(t *testing.T) {
	doc := buildMarkdown(buildTestReport(t), time.Now())

	summary := doc[strings.Index(doc, "## Overall Summary"):strings.Index(doc, "## Per-User Breakdown")]
	assert.Contains(t, summary, "| Issues Opened | 3 |")
	assert.Contains(t, summary, "| PRs Merged | 1 |")
	assert.Contains(t, summary, "| Commits | 12 |")
	assert.Contains(t, summary, "| Issue Comments | 0 |")
}

func TestBuildMarkdown_UsersSorted(t *testing.T) {
	doc := buildMarkdown(buildTestReport(t), time.Now())

	users := doc[strings.Index(doc, "## Per-User Breakdown"):strings.Index(doc, "## Per-Repository Breakdown")]
	aliceAt := strings.Index(users, "### alice")
	zedAt := strings.Index(users, "### zed")
	require.NotEqual(t, -1, aliceAt)
	require.NotEqual(t, -1, zedAt)
	assert.Less(t, aliceAt, zedAt)
}

func TestBuildMarkdown_RepoTableRows(t *testing.T) {
	doc := buildMarkdown(buildTestReport(t), time.Now())

	assert.Contains(t, doc, "| alice | 3 | 0 | 0 | 0 | 0 | 12 | 0 | 0 |")
	assert.Contains(t, doc, "| zed | 0 | 0 | 0 | 0 | 1 | 0 | 0 | 0 |")
}

func TestBuildMarkdown_NoActivityMarker(t *testing.T) {
	doc := buildMarkdown(buildTestReport(t), time.Now())

	// Only a repo with no user entries at all gets the marker.
	empty := doc[strings.Index(doc, "### GitLab - group/empty"):]
	empty = empty[:strings.Index(empty, "---")]
	assert.Contains(t, empty, "*No activity found for tracked users.*")
	assert.NotContains(t, empty, "| alice |")
}

func TestBuildMarkdown_ZeroActivityUsersStillRender(t *testing.T) {
	doc := buildMarkdown(buildTestReport(t), time.Now())

	// A tracked user with all-zero counters renders as a zero row, not as
	// the no-activity marker.
	quiet := doc[strings.Index(doc, "### Pagure - quiet-project"):]
	quiet = quiet[:strings.Index(quiet, "### GitLab - group/empty")]
	assert.Contains(t, quiet, "| alice | 0 | 0 | 0 | 0 | 0 | 0 | 0 | 0 |")
	assert.NotContains(t, quiet, "*No activity found for tracked users.*")
}

func TestBuildMarkdown_ReposInFetchOrder(t *testing.T) {
	doc := buildMarkdown(buildTestReport(t), time.Now())

	ghAt := strings.Index(doc, "### GitHub - org/busy")
	pagureAt := strings.Index(doc, "### Pagure - quiet-project")
	assert.Less(t, ghAt, pagureAt)
}

func TestWriteMarkdown(t *testing.T) {
	rep := buildTestReport(t)
	path := filepath.Join(t.TempDir(), "report-2024.md")

	require.NoError(t, WriteMarkdown(rep, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Git Activity Report - 2024")
}

func TestWriteMarkdown_UnwritablePath(t *testing.T) {
	rep := buildTestReport(t)
	err := WriteMarkdown(rep, filepath.Join(t.TempDir(), "missing", "report.md"))
	assert.Error(t, err)
}
