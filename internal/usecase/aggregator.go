// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/miabbott/git-year-end-report/internal/domain"
	"github.com/miabbott/git-year-end-report/internal/forge"
)

// DefaultWorkers bounds how many (forge, repository) jobs run at once.
const DefaultWorkers = 4

// Job is one unit of statistics collection: one repository on one forge for
// a configured set of usernames.
type Job struct {
	Forge     forge.Forge
	Repo      string
	Usernames []string
}

// JobError records a job that failed as a whole. Failed jobs contribute no
// RepoStats entry; they never stop sibling jobs.
type JobError struct {
	Forge string
	Repo  string
	Err   error
}

// Aggregator drives the configured jobs through their forge adapters and
// merges the results into a Report.
type Aggregator struct {
	workers int
	logger  zerolog.Logger

	// Progress, when set, is called once per completed job with a nil or
	// non-nil error. Calls are serialized.
	Progress func(forgeName, repo string, err error)
}

// NewAggregator creates an Aggregator. workers <= 0 selects DefaultWorkers.
func NewAggregator(workers int, logger zerolog.Logger) *Aggregator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Aggregator{workers: workers, logger: logger}
}

// Run executes every job under a bounded worker pool and appends each
// successful result to the report. The report is the only shared mutable
// state; appends are serialized. Job failures are collected and returned,
// never propagated through the pool, so one failing forge cannot cancel the
// rest of the run.
func (a *Aggregator) Run(ctx context.Context, jobs []Job, report *domain.Report) []JobError {
	var (
		mu       sync.Mutex
		failures []JobError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			forgeName := job.Forge.Name()
			a.logger.Info().Str("forge", forgeName).Str("repo", job.Repo).Msg("fetching repository stats")

			result, err := job.Forge.FetchRepoStats(gctx, job.Repo, job.Usernames, report.StartDate, report.EndDate)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Error().Err(err).Str("forge", forgeName).Str("repo", job.Repo).Msg("job failed")
				failures = append(failures, JobError{Forge: forgeName, Repo: job.Repo, Err: err})
			} else {
				if result.Partial() {
					a.logger.Warn().
						Str("forge", forgeName).Str("repo", job.Repo).
						Int("suppressed", len(result.Suppressed)).
						Msg("job completed with suppressed per-item errors")
				}
				report.AddRepoStats(result.Stats)
			}
			if a.Progress != nil {
				a.Progress(forgeName, job.Repo, err)
			}
			return nil
		})
	}
	// Goroutines only ever return nil; failures are collected above.
	_ = g.Wait()

	return failures
}

// DiscoverTarget is one forge's discovery request.
type DiscoverTarget struct {
	Forge     forge.Forge
	Usernames []string
}

// Discover runs best-effort repository discovery per forge and returns the
// sorted results keyed by forge name. A forge whose discovery fails entirely
// is reported with an empty list; per-user failures are already absorbed by
// the adapters.
func (a *Aggregator) Discover(ctx context.Context, targets []DiscoverTarget, start, end time.Time) map[string][]string {
	results := make(map[string][]string)
	for _, target := range targets {
		forgeName := target.Forge.Name()
		found, err := target.Forge.DiscoverRepositories(ctx, target.Usernames, start, end)
		if err != nil {
			a.logger.Error().Err(err).Str("forge", forgeName).Msg("discovery failed")
			results[forgeName] = nil
			continue
		}
		repos := make([]string, 0, len(found))
		for repo := range found {
			repos = append(repos, repo)
		}
		sort.Strings(repos)
		results[forgeName] = repos
	}
	return results
}
