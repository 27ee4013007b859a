package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/miabbott/git-year-end-report/internal/domain"
	"github.com/miabbott/git-year-end-report/internal/forge"
)

type mockForge struct {
	mock.Mock
	name string
}

func (m *mockForge) Name() string { return m.name }

func (m *mockForge) FetchRepoStats(ctx context.Context, repo string, usernames []string, start, end time.Time) (*forge.StatsResult, error) {
	args := m.Called(ctx, repo, usernames, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*forge.StatsResult), args.Error(1)
}

func (m *mockForge) DiscoverRepositories(ctx context.Context, usernames []string, start, end time.Time) (map[string]struct{}, error) {
	args := m.Called(ctx, usernames, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *mockForge) Requests() int64 { return 0 }
func (m *mockForge) ResetRequests() {}

func statsFor(forgeName, repo, username string, commits int) *forge.StatsResult {
	stats := domain.NewRepoStats(forgeName, repo)
	user := domain.NewUserStats(username)
	user.Commits = commits
	stats.AddUserStats(user)
	return &forge.StatsResult{Stats: stats}
}

func newTestReport(t *testing.T) *domain.Report {
	t.Helper()
	return domain.NewReport(2024, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
}

func TestRun_CollectsAllJobs(t *testing.T) {
	f := &mockForge{name: "GitHub"}
	report := newTestReport(t)
	f.On("FetchRepoStats", mock.Anything, "org/one", []string{"alice"}, report.StartDate, report.EndDate).
		Return(statsFor("GitHub", "org/one", "alice", 3), nil)
	f.On("FetchRepoStats", mock.Anything, "org/two", []string{"alice"}, report.StartDate, report.EndDate).
		Return(statsFor("GitHub", "org/two", "alice", 5), nil)

	agg := NewAggregator(2, zerolog.Nop())
	failures := agg.Run(context.Background(), []Job{
		{Forge: f, Repo: "org/one", Usernames: []string{"alice"}},
		{Forge: f, Repo: "org/two", Usernames: []string{"alice"}},
	}, report)

	assert.Empty(t, failures)
	require.Len(t, report.Repos, 2)
	assert.Equal(t, 8, report.TotalStats()["alice"].Commits)
	f.AssertExpectations(t)
}

func TestRun_FailedJobDoesNotDiscardSiblings(t *testing.T) {
	broken := &mockForge{name: "GitLab"}
	healthy := &mockForge{name: "GitHub"}
	report := newTestReport(t)

	fetchErr := errors.New("project unreachable")
	broken.On("FetchRepoStats", mock.Anything, "group/bad", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fetchErr)
	healthy.On("FetchRepoStats", mock.Anything, "org/good", mock.Anything, mock.Anything, mock.Anything).
		Return(statsFor("GitHub", "org/good", "alice", 7), nil)

	agg := NewAggregator(2, zerolog.Nop())
	failures := agg.Run(context.Background(), []Job{
		{Forge: broken, Repo: "group/bad", Usernames: []string{"alice"}},
		{Forge: healthy, Repo: "org/good", Usernames: []string{"alice"}},
	}, report)

	// The failed job is reported, the healthy one's data is kept.
	require.Len(t, failures, 1)
	assert.Equal(t, "GitLab", failures[0].Forge)
	assert.Equal(t, "group/bad", failures[0].Repo)
	assert.ErrorIs(t, failures[0].Err, fetchErr)

	require.Len(t, report.Repos, 1)
	assert.Equal(t, "org/good", report.Repos[0].Repo)
	assert.Equal(t, 7, report.TotalStats()["alice"].Commits)
}

func TestRun_BoundsConcurrency(t *testing.T) {
	const workers = 2

	var (
		mu     sync.Mutex
		active int
		peak   int
	)
	f := &mockForge{name: "GitHub"}
	f.On("FetchRepoStats", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}).
		Return(statsFor("GitHub", "org/repo", "alice", 1), nil)

	agg := NewAggregator(workers, zerolog.Nop())
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = Job{Forge: f, Repo: "org/repo", Usernames: []string{"alice"}}
	}
	failures := agg.Run(context.Background(), jobs, newTestReport(t))

	assert.Empty(t, failures)
	assert.LessOrEqual(t, peak, workers)
	assert.Positive(t, peak)
}

func TestRun_ProgressCallback(t *testing.T) {
	f := &mockForge{name: "GitHub"}
	f.On("FetchRepoStats", mock.Anything, "org/ok", mock.Anything, mock.Anything, mock.Anything).
		Return(statsFor("GitHub", "org/ok", "alice", 1), nil)
	f.On("FetchRepoStats", mock.Anything, "org/bad", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("nope"))

	type event struct {
		repo   string
		failed bool
	}
	var events []event

	agg := NewAggregator(1, zerolog.Nop())
	agg.Progress = func(forgeName, repo string, err error) {
		events = append(events, event{repo: repo, failed: err != nil})
	}
	agg.Run(context.Background(), []Job{
		{Forge: f, Repo: "org/ok", Usernames: []string{"alice"}},
		{Forge: f, Repo: "org/bad", Usernames: []string{"alice"}},
	}, newTestReport(t))

	require.Len(t, events, 2)
	sort.Slice(events, func(i, j int) bool { return events[i].repo < events[j].repo })
	assert.Equal(t, event{repo: "org/bad", failed: true}, events[0])
	assert.Equal(t, event{repo: "org/ok", failed: false}, events[1])
}

func TestDiscover(t *testing.T) {
	ok := &mockForge{name: "GitHub"}
	ok.On("DiscoverRepositories", mock.Anything, []string{"alice"}, mock.Anything, mock.Anything).
		Return(map[string]struct{}{"org/zeta": {}, "org/alpha": {}}, nil)

	failing := &mockForge{name: "Pagure"}
	failing.On("DiscoverRepositories", mock.Anything, []string{"alice"}, mock.Anything, mock.Anything).
		Return(nil, errors.New("search unavailable"))

	agg := NewAggregator(1, zerolog.Nop())
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.December, 31, 23, 59, 59, 0, time.UTC)

	results := agg.Discover(context.Background(), []DiscoverTarget{
		{Forge: ok, Usernames: []string{"alice"}},
		{Forge: failing, Usernames: []string{"alice"}},
	}, start, end)

	// Sorted output for the healthy forge, an empty entry for the failed one.
	assert.Equal(t, []string{"org/alpha", "org/zeta"}, results["GitHub"])
	assert.Empty(t, results["Pagure"])
	assert.Contains(t, results, "Pagure")
}
